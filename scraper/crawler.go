// Package scraper drives the crawl of paginated vehicle listings: one
// fetch session with retry and backoff, page extraction, field
// normalization, and accumulation into a dated result set.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmaguirre/mercadoscan/config"
	"github.com/dmaguirre/mercadoscan/extract"
	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/parser"
)

// Stop reasons recorded on a crawl result. All of them are normal
// terminations, not errors; the accumulated records remain valid.
const (
	StopNoResults    = "no_results"
	StopBlocked      = "blocked"
	StopEmptyPage    = "empty_page"
	StopNotFound     = "not_found"
	StopFetchFailed  = "fetch_failed"
	StopUnproductive = "unproductive"
	StopCancelled    = "cancelled"
)

// Crawler runs the crawl loop for one search term at a time. Crawls are
// synchronous and single-threaded; the politeness limiter spaces page
// fetches by the configured delay.
type Crawler struct {
	cfg       *config.Config
	session   *Session
	extractor *extract.Extractor
	limiter   *rate.Limiter
	Metrics   *Metrics
}

// NewCrawler builds a crawler configured from cfg.
func NewCrawler(cfg *config.Config) (*Crawler, error) {
	metrics := NewMetrics()
	session, err := NewSession(cfg, metrics)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}

	return &Crawler{
		cfg:       cfg,
		session:   session,
		extractor: extract.New(),
		limiter:   rate.NewLimiter(limit, 1),
		Metrics:   metrics,
	}, nil
}

// WithTransport replaces the fetch transport, for proxying and tests.
func (c *Crawler) WithTransport(rt http.RoundTripper) {
	c.session.WithTransport(rt)
}

// PageURL builds the listing URL for one result page. Page 1 starts at
// offset 1; each page advances by pageSize items.
func PageURL(baseURL, term string, page, pageSize int) string {
	offset := (page-1)*pageSize + 1
	slug := strings.ReplaceAll(strings.TrimSpace(term), " ", "-")
	return fmt.Sprintf("%s%s_Desde_%d", baseURL, slug, offset)
}

// Run crawls every result page for term until a terminal condition and
// returns the accumulated record set. Pages are fetched in increasing
// order; items keep their source order. The sink receives the progress
// stream; a nil sink discards it.
func (c *Crawler) Run(ctx context.Context, term string, sink EventSink) (*models.CrawlResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("search term cannot be empty")
	}
	if sink == nil {
		sink = nopSink{}
	}

	start := time.Now().UTC()
	result := &models.CrawlResult{
		SearchTerm: term,
		StartTime:  start,
	}
	snapshotDate := start.Format(models.SnapshotDateFormat)

	emit := func(kind string, page int, format string, args ...any) {
		e := models.CrawlEvent{
			Kind:    kind,
			Page:    page,
			Message: fmt.Sprintf(format, args...),
			Time:    time.Now().UTC(),
		}
		sink.Emit(e)
		result.Events = append(result.Events, e)
	}

	finish := func(reason, detail string) *models.CrawlResult {
		result.StopReason = reason
		result.EndTime = time.Now().UTC()
		emit(models.EventTerminal, result.PageCount, "%s", detail)
		c.Metrics.IncCrawl(reason)
		slog.Info("crawl complete",
			slog.String("term", term),
			slog.String("reason", reason),
			slog.Int("pages", result.PageCount),
			slog.Int("records", len(result.Records)),
		)
		return result
	}

	// A limiter banks one token while idle, which would make the first
	// page-to-page gap free. Spend it so every gap honours the delay.
	c.limiter.Allow()

	unproductive := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return finish(StopCancelled, "crawl cancelled"), nil
		}

		pageURL := PageURL(c.cfg.BaseURL, term, page, c.cfg.PageSize)
		emit(models.EventPageStart, page, "fetching %s", pageURL)
		result.RequestCount++

		fetched, err := c.session.Fetch(ctx, pageURL)
		if err != nil {
			if IsNotFound(err) {
				return finish(StopNotFound, "no more pages available (404)"), nil
			}
			if ctx.Err() != nil {
				return finish(StopCancelled, "crawl cancelled"), nil
			}
			return finish(StopFetchFailed, fmt.Sprintf("fetch failed: %v", err)), nil
		}

		result.RetryCount += fetched.Retries

		items, skipped, signal := c.extractor.Page(fetched.Body)
		c.Metrics.IncPage()
		switch signal {
		case extract.SignalBlocked:
			return finish(StopBlocked, "block or verification page detected"), nil
		case extract.SignalNoResults:
			return finish(StopNoResults, "no results message detected"), nil
		case extract.SignalEmptyPage:
			return finish(StopEmptyPage, "no item containers found in page"), nil
		}

		c.Metrics.IncItems(len(items) + skipped)
		result.SkippedItems += skipped

		added := 0
		for _, item := range items {
			record := c.normalize(item, term, start, snapshotDate)
			result.Records = append(result.Records, record)
			added++
			emit(models.EventItemAdded, page, "added %s: %.50s", record.ListingID, record.Description)
		}
		if skipped > 0 {
			emit(models.EventItemSkipped, page, "skipped %d items without a listing id", skipped)
		}
		c.Metrics.IncRecords(added)
		emit(models.EventPageDone, page, "page yielded %d records", added)
		result.PageCount = page

		// Pages can keep matching containers while contributing nothing,
		// and the loop has no page ceiling otherwise.
		if added == 0 {
			unproductive++
			if unproductive >= c.cfg.EmptyPageLimit {
				return finish(StopUnproductive, fmt.Sprintf("%d consecutive pages without records", unproductive)), nil
			}
		} else {
			unproductive = 0
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return finish(StopCancelled, "crawl cancelled"), nil
		}
	}
}

// RunAll crawls the given terms sequentially, preserving the politeness
// delay between every page of every term. A cancelled context stops the
// sequence after the current term.
func (c *Crawler) RunAll(ctx context.Context, terms []string, sink EventSink) ([]*models.CrawlResult, error) {
	results := make([]*models.CrawlResult, 0, len(terms))
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := c.Run(ctx, term, sink)
		if err != nil {
			return results, fmt.Errorf("crawl %q: %w", term, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Crawler) normalize(item extract.RawItem, term string, capturedAt time.Time, snapshotDate string) *models.ListingRecord {
	amount := parser.ParsePrice(item.PriceText)
	currency := parser.InferCurrency(amount)
	yearDisplay, yearNum := parser.ParseYear(item.YearText)
	distanceDisplay, distanceKm := parser.ParseDistance(item.DistanceText)

	return &models.ListingRecord{
		ListingID:    item.ListingID,
		SearchTerm:   term,
		Description:  item.Title,
		PriceRaw:     parser.FormatPrice(amount, currency),
		PriceAmount:  amount,
		Currency:     currency,
		Year:         yearDisplay,
		YearNum:      yearNum,
		DistanceRaw:  distanceDisplay,
		DistanceKm:   distanceKm,
		Location:     item.Location,
		Link:         item.Link,
		ImageURL:     item.ImageURL,
		SnapshotDate: snapshotDate,
		CapturedAt:   capturedAt,
	}
}
