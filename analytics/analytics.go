// Package analytics computes derived views over stored snapshots:
// day-over-day price variation, per-listing history, and aggregate
// market statistics. Everything here is computed at query time; nothing
// is persisted.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/store"
)

// Engine answers history and aggregate queries against a snapshot store.
// Reads never block crawls; a crawl in progress may not yet be visible.
type Engine struct {
	store store.Store
}

// NewEngine builds an engine over s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Classify compares a current price against the prior snapshot's price.
func Classify(prev *models.ListingRecord, current int) models.Variation {
	if prev == nil {
		return models.VariationUnknown
	}
	switch {
	case current > prev.PriceAmount:
		return models.VariationUp
	case current < prev.PriceAmount:
		return models.VariationDown
	}
	return models.VariationSame
}

// TagVariations sets the Variation of each record by looking up the most
// recent snapshot of the same identity strictly before the record's day.
func (e *Engine) TagVariations(ctx context.Context, records []*models.ListingRecord) error {
	for _, rec := range records {
		prev, err := e.store.FindLatestBefore(ctx, rec.SearchTerm, rec.ListingID, rec.SnapshotDate)
		if err != nil {
			return fmt.Errorf("variation lookup %s: %w", rec.ListingID, err)
		}
		rec.Variation = Classify(prev, rec.PriceAmount)
	}
	return nil
}

// ListingHistory averages the listing's price per snapshot day and
// returns the points in chronological order.
func (e *Engine) ListingHistory(ctx context.Context, term, listingID string) ([]models.HistoryPoint, error) {
	records, err := e.store.FindAll(ctx, store.Filter{SearchTerm: term, ListingID: listingID})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.PriceAmount <= 0 {
			continue
		}
		sums[rec.SnapshotDate] += rec.PriceAmount
		counts[rec.SnapshotDate]++
	}

	points := make([]models.HistoryPoint, 0, len(sums))
	for date, sum := range sums {
		points = append(points, models.HistoryPoint{Date: date, AvgPrice: sum / counts[date]})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}
