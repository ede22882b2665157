// Package models defines the data structures shared across the crawler.
package models

import "time"

// Currency is the inferred pricing currency of a listing.
type Currency string

const (
	CurrencyUSD     Currency = "USD"
	CurrencyARS     Currency = "ARS"
	CurrencyUnknown Currency = "UNKNOWN"
)

// Variation classifies the day-over-day price movement of a listing.
type Variation string

const (
	VariationUp      Variation = "UP"
	VariationDown    Variation = "DOWN"
	VariationSame    Variation = "SAME"
	VariationUnknown Variation = "UNKNOWN"
)

// Sentinel values used when a field cannot be extracted.
const (
	NoTitle      = "No title"
	NotAvailable = "N/A"
)

// ListingRecord is one vehicle listing observed at a point in time.
// The (SearchTerm, ListingID, SnapshotDate) triple is the snapshot key:
// a later crawl on the same day replaces the earlier record.
type ListingRecord struct {
	ListingID    string    `bson:"listing_id" json:"listing_id" csv:"listing_id"`
	SearchTerm   string    `bson:"search_term" json:"search_term" csv:"search_term"`
	Description  string    `bson:"description" json:"description" csv:"description"`
	PriceRaw     string    `bson:"price" json:"price" csv:"price"`
	PriceAmount  int       `bson:"price_num" json:"price_num" csv:"price_num"`
	Currency     Currency  `bson:"currency" json:"currency" csv:"currency"`
	Year         string    `bson:"year" json:"year" csv:"year"`
	YearNum      int       `bson:"year_num" json:"year_num" csv:"year_num"`
	DistanceRaw  string    `bson:"kilometers" json:"kilometers" csv:"kilometers"`
	DistanceKm   int       `bson:"kilometers_num" json:"kilometers_num" csv:"kilometers_num"`
	Location     string    `bson:"location" json:"location" csv:"location"`
	Link         string    `bson:"link" json:"link" csv:"link"`
	ImageURL     string    `bson:"image" json:"image" csv:"image"`
	SnapshotDate string    `bson:"date_str" json:"date_str" csv:"date_str"`
	CapturedAt   time.Time `bson:"timestamp" json:"timestamp" csv:"timestamp"`

	// Variation is computed at query time against the prior day's
	// snapshot; it is never persisted.
	Variation Variation `bson:"-" json:"variation,omitempty" csv:"-"`
}

// HistoryPoint is the average observed price of one listing on one day.
type HistoryPoint struct {
	Date     string `json:"date"`
	AvgPrice int    `json:"avg_price"`
}

// SnapshotDateFormat is the calendar-day layout used as snapshot key.
const SnapshotDateFormat = "2006-01-02"

// CrawlResult holds the outcome of crawling one search term.
type CrawlResult struct {
	SearchTerm   string           `json:"search_term"`
	Records      []*ListingRecord `json:"records"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	PageCount    int              `json:"page_count"`
	RequestCount int              `json:"request_count"`
	RetryCount   int              `json:"retry_count"`
	SkippedItems int              `json:"skipped_items"`
	StopReason   string           `json:"stop_reason"`
	Events       []CrawlEvent     `json:"events"`
}

// CrawlEvent is one entry in the structured progress stream attached to
// a crawl. Operators read these to see why a crawl stopped at page N.
type CrawlEvent struct {
	Kind    string    `json:"kind"`
	Page    int       `json:"page,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Event kinds emitted by the crawl loop.
const (
	EventPageStart   = "page_start"
	EventPageDone    = "page_done"
	EventItemAdded   = "item_added"
	EventItemSkipped = "item_skipped"
	EventItemError   = "item_error"
	EventTerminal    = "terminal"
)
