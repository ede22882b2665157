package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/parser"
	"github.com/dmaguirre/mercadoscan/store"
)

// TermCount is the inventory size of one search term.
type TermCount struct {
	SearchTerm string `json:"search_term"`
	Count      int    `json:"count"`
}

// TermCurrencyAvg is the average price of one (term, currency) group.
type TermCurrencyAvg struct {
	SearchTerm string          `json:"search_term"`
	Currency   models.Currency `json:"currency"`
	AvgPrice   int             `json:"avg_price"`
}

// YearStats summarizes one (model year, currency) group.
type YearStats struct {
	Year     int             `json:"year"`
	Currency models.Currency `json:"currency"`
	Count    int             `json:"count"`
	AvgPrice int             `json:"avg_price"`
	AvgKm    int             `json:"avg_km"`
}

// LocationCount is the listing count of one location.
type LocationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// DateCurrencyAvg is the average price of one (snapshot day, currency)
// group.
type DateCurrencyAvg struct {
	Date     string          `json:"date"`
	Currency models.Currency `json:"currency"`
	AvgPrice int             `json:"avg_price"`
}

// HistogramBin is one equal-width price bucket.
type HistogramBin struct {
	Low   int `json:"low"`
	High  int `json:"high"`
	Count int `json:"count"`
}

// Report bundles the aggregate analytics computed over the snapshot set.
type Report struct {
	Inventory         []TermCount       `json:"inventory"`
	AvgPriceByTerm    []TermCurrencyAvg `json:"avg_price_by_term"`
	ByYear            []YearStats       `json:"by_year"`
	TopLocations      []LocationCount   `json:"top_locations"`
	AvgPriceByDate    []DateCurrencyAvg `json:"avg_price_by_date"`
	Histogram         []HistogramBin    `json:"histogram"`
	HistogramCurrency models.Currency   `json:"histogram_currency"`
}

const (
	histogramBins = 10
	topLocations  = 10
)

// Report computes the six aggregates over all snapshots, optionally
// filtered by search term. When exchangeRate (ARS per USD) is positive
// the histogram covers every priced listing normalized to USD; otherwise
// it covers only the dominant same-currency subset.
func (e *Engine) Report(ctx context.Context, term string, exchangeRate float64) (*Report, error) {
	records, err := e.store.FindAll(ctx, store.Filter{SearchTerm: term})
	if err != nil {
		return nil, fmt.Errorf("aggregate report: %w", err)
	}

	report := &Report{
		Inventory:      inventoryByTerm(records),
		AvgPriceByTerm: avgPriceByTerm(records),
		ByYear:         statsByYear(records),
		TopLocations:   topLocationCounts(records),
		AvgPriceByDate: avgPriceByDate(records),
	}
	report.Histogram, report.HistogramCurrency = priceHistogram(records, exchangeRate)
	return report, nil
}

func inventoryByTerm(records []*models.ListingRecord) []TermCount {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.SearchTerm]++
	}
	out := make([]TermCount, 0, len(counts))
	for term, n := range counts {
		out = append(out, TermCount{SearchTerm: term, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SearchTerm < out[j].SearchTerm })
	return out
}

type termCurrencyKey struct {
	term     string
	currency models.Currency
}

func avgPriceByTerm(records []*models.ListingRecord) []TermCurrencyAvg {
	sums := make(map[termCurrencyKey]int)
	counts := make(map[termCurrencyKey]int)
	for _, rec := range records {
		if rec.PriceAmount <= 0 {
			continue
		}
		key := termCurrencyKey{term: rec.SearchTerm, currency: rec.Currency}
		sums[key] += rec.PriceAmount
		counts[key]++
	}
	out := make([]TermCurrencyAvg, 0, len(sums))
	for key, sum := range sums {
		out = append(out, TermCurrencyAvg{
			SearchTerm: key.term,
			Currency:   key.currency,
			AvgPrice:   sum / counts[key],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SearchTerm != out[j].SearchTerm {
			return out[i].SearchTerm < out[j].SearchTerm
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

type yearCurrencyKey struct {
	year     int
	currency models.Currency
}

func statsByYear(records []*models.ListingRecord) []YearStats {
	type acc struct {
		count      int
		priceSum   int
		priceCount int
		kmSum      int
		kmCount    int
	}
	groups := make(map[yearCurrencyKey]*acc)
	for _, rec := range records {
		if rec.YearNum <= 0 {
			continue
		}
		key := yearCurrencyKey{year: rec.YearNum, currency: rec.Currency}
		g := groups[key]
		if g == nil {
			g = &acc{}
			groups[key] = g
		}
		g.count++
		if rec.PriceAmount > 0 {
			g.priceSum += rec.PriceAmount
			g.priceCount++
		}
		if rec.DistanceKm > 0 {
			g.kmSum += rec.DistanceKm
			g.kmCount++
		}
	}

	out := make([]YearStats, 0, len(groups))
	for key, g := range groups {
		stats := YearStats{Year: key.year, Currency: key.currency, Count: g.count}
		if g.priceCount > 0 {
			stats.AvgPrice = g.priceSum / g.priceCount
		}
		if g.kmCount > 0 {
			stats.AvgKm = g.kmSum / g.kmCount
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func topLocationCounts(records []*models.ListingRecord) []LocationCount {
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.Location == "" || rec.Location == models.NotAvailable {
			continue
		}
		counts[rec.Location]++
	}
	out := make([]LocationCount, 0, len(counts))
	for loc, n := range counts {
		out = append(out, LocationCount{Location: loc, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Location < out[j].Location
	})
	if len(out) > topLocations {
		out = out[:topLocations]
	}
	return out
}

type dateCurrencyKey struct {
	date     string
	currency models.Currency
}

func avgPriceByDate(records []*models.ListingRecord) []DateCurrencyAvg {
	sums := make(map[dateCurrencyKey]int)
	counts := make(map[dateCurrencyKey]int)
	for _, rec := range records {
		if rec.PriceAmount <= 0 {
			continue
		}
		key := dateCurrencyKey{date: rec.SnapshotDate, currency: rec.Currency}
		sums[key] += rec.PriceAmount
		counts[key]++
	}
	out := make([]DateCurrencyAvg, 0, len(sums))
	for key, sum := range sums {
		out = append(out, DateCurrencyAvg{
			Date:     key.date,
			Currency: key.currency,
			AvgPrice: sum / counts[key],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// priceHistogram builds ten equal-width bins. With a positive exchange
// rate all priced listings are normalized to USD; without one, only the
// most common currency's listings are binned so widths stay comparable.
func priceHistogram(records []*models.ListingRecord, exchangeRate float64) ([]HistogramBin, models.Currency) {
	var prices []int
	currency := models.CurrencyUSD

	if exchangeRate > 0 {
		for _, rec := range records {
			if rec.PriceAmount <= 0 {
				continue
			}
			prices = append(prices, parser.ConvertAmount(rec.PriceAmount, rec.Currency, models.CurrencyUSD, exchangeRate))
		}
	} else {
		counts := make(map[models.Currency]int)
		for _, rec := range records {
			if rec.PriceAmount > 0 {
				counts[rec.Currency]++
			}
		}
		best := 0
		for c, n := range counts {
			if n > best || (n == best && c < currency) {
				best = n
				currency = c
			}
		}
		for _, rec := range records {
			if rec.PriceAmount > 0 && rec.Currency == currency {
				prices = append(prices, rec.PriceAmount)
			}
		}
	}

	if len(prices) == 0 {
		return nil, currency
	}

	low, high := prices[0], prices[0]
	for _, p := range prices {
		if p < low {
			low = p
		}
		if p > high {
			high = p
		}
	}
	width := (high - low + histogramBins) / histogramBins
	if width <= 0 {
		width = 1
	}

	bins := make([]HistogramBin, histogramBins)
	for i := range bins {
		bins[i].Low = low + i*width
		bins[i].High = low + (i+1)*width
	}
	for _, p := range prices {
		idx := (p - low) / width
		if idx >= histogramBins {
			idx = histogramBins - 1
		}
		bins[idx].Count++
	}
	return bins, currency
}
