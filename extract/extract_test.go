package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dmaguirre/mercadoscan/models"
)

type fixtureItem struct {
	link     string
	title    string
	price    string
	year     string
	distance string
	location string
	image    string
}

func polyPage(items ...fixtureItem) string {
	var b strings.Builder
	b.WriteString("<html><body><ol>")
	for _, item := range items {
		b.WriteString(`<div class="ui-search-result__wrapper">`)
		fmt.Fprintf(&b, `<a class="poly-component__title" href="%s">%s</a>`, item.link, item.title)
		if item.image != "" {
			b.WriteString(item.image)
		}
		if item.price != "" {
			fmt.Fprintf(&b, `<span class="andes-money-amount__fraction">%s</span>`, item.price)
		}
		b.WriteString(`<ul class="poly-attributes_list">`)
		fmt.Fprintf(&b, `<li class="poly-attributes_list__item">%s</li>`, item.year)
		fmt.Fprintf(&b, `<li class="poly-attributes_list__item">%s</li>`, item.distance)
		b.WriteString(`</ul>`)
		if item.location != "" {
			fmt.Fprintf(&b, `<span class="poly-component__location">%s</span>`, item.location)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString("</ol></body></html>")
	return b.String()
}

func TestPageExtractsItems(t *testing.T) {
	body := polyPage(
		fixtureItem{
			link:     "https://auto.mercadolibre.com.ar/MLA-123456-toyota-corolla-_JM",
			title:    "Toyota Corolla XEI 2.0",
			price:    "22.000",
			year:     "2019",
			distance: "45.000 Km",
			location: "Palermo, Capital Federal",
			image:    `<img class="poly-component__picture" src="https://http2.mlstatic.com/corolla.jpg">`,
		},
		fixtureItem{
			link:     "https://auto.mercadolibre.com.ar/MLA-654321-ford-ranger-_JM",
			title:    "Ford Ranger Limited",
			price:    "12.500.000",
			year:     "2021",
			distance: "20.000 Km",
			location: "Córdoba",
		},
	)

	items, skipped, signal := New().Page([]byte(body))
	if signal != SignalNone {
		t.Fatalf("signal = %s, want none", signal)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	first := items[0]
	if first.ListingID != "MLA123456" {
		t.Fatalf("listing id = %q, want MLA123456", first.ListingID)
	}
	if first.Title != "Toyota Corolla XEI 2.0" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.PriceText != "22.000" {
		t.Fatalf("price = %q", first.PriceText)
	}
	if first.YearText != "2019" || first.DistanceText != "45.000 Km" {
		t.Fatalf("attributes = (%q, %q)", first.YearText, first.DistanceText)
	}
	if first.Location != "Palermo, Capital Federal" {
		t.Fatalf("location = %q", first.Location)
	}
	if first.ImageURL != "https://http2.mlstatic.com/corolla.jpg" {
		t.Fatalf("image = %q", first.ImageURL)
	}
}

func TestPageDropsItemsWithoutListingID(t *testing.T) {
	body := polyPage(
		fixtureItem{
			link:  "https://auto.mercadolibre.com.ar/MLA-123456-toyota-corolla-_JM",
			title: "Toyota Corolla",
			price: "22.000",
		},
		fixtureItem{
			link:  "https://www.mercadolibre.com.ar/promo/financiacion",
			title: "Sponsored banner",
			price: "1",
		},
	)

	items, skipped, signal := New().Page([]byte(body))
	if signal != SignalNone {
		t.Fatalf("signal = %s, want none", signal)
	}
	if len(items) != 1 || skipped != 1 {
		t.Fatalf("items=%d skipped=%d, want 1/1", len(items), skipped)
	}
	if items[0].ListingID != "MLA123456" {
		t.Fatalf("surviving item = %q", items[0].ListingID)
	}
}

func TestPageSentinelsForMissingFields(t *testing.T) {
	body := polyPage(fixtureItem{
		link: "https://auto.mercadolibre.com.ar/MLA-777888-fiat-cronos-_JM",
	})

	items, _, _ := New().Page([]byte(body))
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0]
	if item.Title != models.NoTitle {
		t.Fatalf("title = %q, want %q", item.Title, models.NoTitle)
	}
	if item.PriceText != models.NotAvailable {
		t.Fatalf("price = %q, want %q", item.PriceText, models.NotAvailable)
	}
	if item.YearText != models.NotAvailable || item.DistanceText != models.NotAvailable {
		t.Fatalf("attributes = (%q, %q), want sentinels", item.YearText, item.DistanceText)
	}
	if item.Location != models.NotAvailable {
		t.Fatalf("location = %q, want %q", item.Location, models.NotAvailable)
	}
}

func TestPageBlockedSignal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "captcha", body: `<html><body><div class="g-recaptcha">Resolvé el CAPTCHA</div></body></html>`},
		{name: "robot check", body: `<html><body><h1>Confirmá que no sos un robot</h1></body></html>`},
		{name: "interruption page", body: `<html><body><p>Pardon Our Interruption</p></body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, _, signal := New().Page([]byte(tt.body))
			if signal != SignalBlocked {
				t.Fatalf("signal = %s, want blocked", signal)
			}
			if len(items) != 0 {
				t.Fatalf("blocked page yielded %d items", len(items))
			}
		})
	}
}

func TestPageBlockedTakesPrecedenceOverEmpty(t *testing.T) {
	// A verification interstitial has no item containers; it must still
	// report blocked, never empty page.
	body := `<html><body><div id="challenge">captcha required</div></body></html>`
	_, _, signal := New().Page([]byte(body))
	if signal != SignalBlocked {
		t.Fatalf("signal = %s, want blocked", signal)
	}
}

func TestPageNoResultsSignal(t *testing.T) {
	body := `<html><body><p class="ui-search-sidebar__no-results-message">No hay publicaciones que coincidan con tu búsqueda.</p></body></html>`
	items, _, signal := New().Page([]byte(body))
	if signal != SignalNoResults {
		t.Fatalf("signal = %s, want no_results", signal)
	}
	if len(items) != 0 {
		t.Fatalf("no-results page yielded %d items", len(items))
	}
}

func TestPageEmptySignal(t *testing.T) {
	body := `<html><body><div class="unrelated">nothing to see</div></body></html>`
	_, _, signal := New().Page([]byte(body))
	if signal != SignalEmptyPage {
		t.Fatalf("signal = %s, want empty_page", signal)
	}
}

func TestPageFallbackLayout(t *testing.T) {
	body := `<html><body><ol>
		<li class="ui-search-layout__item">
			<a class="ui-search-link" href="https://auto.mercadolibre.com.ar/MLA-445566-vw-golf-_JM">Volkswagen Golf Highline</a>
			<span class="price-tag-fraction">24.500</span>
			<ul>
				<li class="ui-search-card-attributes__attribute">2018</li>
				<li class="ui-search-card-attributes__attribute">55.000 Km</li>
			</ul>
			<span class="ui-search-item__location">Rosario, Santa Fe</span>
		</li>
	</ol></body></html>`

	items, skipped, signal := New().Page([]byte(body))
	if signal != SignalNone || skipped != 0 {
		t.Fatalf("signal=%s skipped=%d, want none/0", signal, skipped)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].ListingID != "MLA445566" || items[0].PriceText != "24.500" {
		t.Fatalf("item = %+v", items[0])
	}
}

func TestImageLazyLoadFallback(t *testing.T) {
	tests := []struct {
		name     string
		img      string
		expected string
	}{
		{
			name:     "plain src",
			img:      `<img class="poly-component__picture" src="https://http2.mlstatic.com/a.jpg">`,
			expected: "https://http2.mlstatic.com/a.jpg",
		},
		{
			name:     "placeholder with data-src",
			img:      `<img class="poly-component__picture" src="data:image/gif;base64,R0lGOD" data-src="https://http2.mlstatic.com/b.jpg">`,
			expected: "https://http2.mlstatic.com/b.jpg",
		},
		{
			name:     "placeholder with srcset descriptors",
			img:      `<img class="poly-component__picture" src="" data-srcset="https://http2.mlstatic.com/c.jpg 2x">`,
			expected: "https://http2.mlstatic.com/c.jpg",
		},
		{
			name:     "no usable source",
			img:      `<img class="poly-component__picture" src="data:image/gif;base64,R0lGOD">`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := polyPage(fixtureItem{
				link:  "https://auto.mercadolibre.com.ar/MLA-999000-peugeot-208-_JM",
				title: "Peugeot 208",
				image: tt.img,
			})
			items, _, _ := New().Page([]byte(body))
			if len(items) != 1 {
				t.Fatalf("items = %d, want 1", len(items))
			}
			if items[0].ImageURL != tt.expected {
				t.Fatalf("image = %q, want %q", items[0].ImageURL, tt.expected)
			}
		})
	}
}
