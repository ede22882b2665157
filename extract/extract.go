// Package extract parses one listing page into raw item records and
// detects the terminal conditions that end a crawl.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/parser"
)

// Signal is a page-level terminal condition.
type Signal int

const (
	SignalNone Signal = iota
	SignalNoResults
	SignalBlocked
	SignalEmptyPage
)

func (s Signal) String() string {
	switch s {
	case SignalNoResults:
		return "no_results"
	case SignalBlocked:
		return "blocked"
	case SignalEmptyPage:
		return "empty_page"
	}
	return "none"
}

// RawItem is one listing as extracted from the page, before numeric
// normalization. ListingID is already derived from the link.
type RawItem struct {
	ListingID    string
	Title        string
	Link         string
	ImageURL     string
	PriceText    string
	YearText     string
	DistanceText string
	Location     string
}

// Layout names the selectors of one known page layout. Layouts are tried
// in order; the first whose container matches at least one element wins.
type Layout struct {
	Name      string
	Container string
	Title     string
	Price     string
	Attribute string
	Location  string
	Image     string
}

// DefaultLayouts lists the current listing layout first, then the older
// layouts the site still serves on some result pages.
var DefaultLayouts = []Layout{
	{
		Name:      "poly",
		Container: "div.ui-search-result__wrapper",
		Title:     "a.poly-component__title",
		Price:     "span.andes-money-amount__fraction",
		Attribute: "li.poly-attributes_list__item",
		Location:  "span.poly-component__location",
		Image:     "img.poly-component__picture",
	},
	{
		Name:      "search-item",
		Container: "li.ui-search-layout__item",
		Title:     "a.ui-search-link",
		Price:     "span.price-tag-fraction",
		Attribute: "li.ui-search-card-attributes__attribute",
		Location:  "span.ui-search-item__location",
		Image:     "img.ui-search-result-image__element",
	},
}

// blockMarkers are substrings of known block and verification pages,
// matched case-insensitively against the raw page text. Detection is
// best-effort; a hit must stop the crawl immediately.
var blockMarkers = []string{
	"captcha",
	"no soy un robot",
	"no sos un robot",
	"pardon our interruption",
	"access denied",
	"validate user",
}

// noResultsSelectors mark an explicit empty result set.
var noResultsSelectors = []string{
	"p.ui-search-sidebar__no-results-message",
	"div.ui-search-rescue__title",
}

// lazyImageAttrs are tried in order when the primary src attribute holds
// a lazy-load placeholder instead of a real URL.
var lazyImageAttrs = []string{"data-src", "data-srcset"}

// Extractor parses listing pages with an ordered fallback layout list.
type Extractor struct {
	layouts []Layout
}

// New returns an extractor over the given layouts, or DefaultLayouts
// when none are supplied.
func New(layouts ...Layout) *Extractor {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	return &Extractor{layouts: layouts}
}

// Page parses one page body. Block detection runs on the raw text before
// any item counting, so a blocked page with zero items reports Blocked,
// not EmptyPage. Per-item failures skip only that item; skipped reports
// how many containers were dropped.
func (ex *Extractor) Page(body []byte) (items []RawItem, skipped int, signal Signal) {
	lower := strings.ToLower(string(body))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return nil, 0, SignalBlocked
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, 0, SignalEmptyPage
	}

	for _, sel := range noResultsSelectors {
		if doc.Find(sel).Length() > 0 {
			return nil, 0, SignalNoResults
		}
	}

	var layout Layout
	var containers *goquery.Selection
	for _, l := range ex.layouts {
		if found := doc.Find(l.Container); found.Length() > 0 {
			layout = l
			containers = found
			break
		}
	}
	if containers == nil {
		return nil, 0, SignalEmptyPage
	}

	items = make([]RawItem, 0, containers.Length())
	containers.Each(func(_ int, s *goquery.Selection) {
		item, err := extractItem(s, layout)
		if err != nil {
			skipped++
			return
		}
		items = append(items, item)
	})
	return items, skipped, SignalNone
}

func extractItem(s *goquery.Selection, layout Layout) (RawItem, error) {
	titleEl := s.Find(layout.Title).First()
	link, _ := titleEl.Attr("href")
	id := parser.ListingIDFromURL(link)
	if id == "" {
		// Expected noise: nothing to deduplicate against.
		return RawItem{}, fmt.Errorf("no listing id in link %q", link)
	}

	title := strings.TrimSpace(titleEl.Text())
	if title == "" {
		title = models.NoTitle
	}

	price := strings.TrimSpace(s.Find(layout.Price).First().Text())
	if price == "" {
		price = models.NotAvailable
	}

	// The attribute list is positional on this site: index 0 is the
	// model year, index 1 the odometer reading.
	attrs := s.Find(layout.Attribute)
	year := models.NotAvailable
	if v := strings.TrimSpace(attrs.Eq(0).Text()); v != "" {
		year = v
	}
	distance := models.NotAvailable
	if v := strings.TrimSpace(attrs.Eq(1).Text()); v != "" {
		distance = v
	}

	location := strings.TrimSpace(s.Find(layout.Location).First().Text())
	if location == "" {
		location = models.NotAvailable
	}

	return RawItem{
		ListingID:    id,
		Title:        title,
		Link:         link,
		ImageURL:     imageURL(s.Find(layout.Image).First()),
		PriceText:    price,
		YearText:     year,
		DistanceText: distance,
		Location:     location,
	}, nil
}

// imageURL resolves the thumbnail, falling back through the lazy-load
// attributes when src holds an inline placeholder.
func imageURL(img *goquery.Selection) string {
	src, _ := img.Attr("src")
	if src != "" && !strings.HasPrefix(src, "data:") {
		return src
	}
	for _, attr := range lazyImageAttrs {
		if v, ok := img.Attr(attr); ok && v != "" {
			// srcset values carry descriptors after the URL.
			if fields := strings.Fields(v); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return ""
}
