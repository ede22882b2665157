// Package store persists dated listing snapshots and serves the point
// and historical queries the analytics engine runs over them.
package store

import (
	"context"

	"github.com/dmaguirre/mercadoscan/models"
)

// Filter narrows a FindAll query. Zero-valued fields are ignored.
type Filter struct {
	SearchTerm string
	ListingID  string
	Date       string
}

// Store is the snapshot store. Upsert replaces any record with the same
// (search_term, listing_id, snapshot_date) key, so a later crawl on the
// same day never appends a duplicate. Writes are independent per key;
// no cross-record transaction is required.
type Store interface {
	// Upsert inserts the record or replaces the same-day snapshot of
	// the same listing identity. Atomic per record.
	Upsert(ctx context.Context, record *models.ListingRecord) error

	// FindLatestBefore returns the most recent snapshot of the identity
	// strictly before date, or (nil, nil) when no prior snapshot exists.
	FindLatestBefore(ctx context.Context, term, listingID, date string) (*models.ListingRecord, error)

	// FindAll returns the snapshots matching the filter, ordered by
	// snapshot date ascending.
	FindAll(ctx context.Context, filter Filter) ([]*models.ListingRecord, error)

	// DistinctSearchTerms lists every search term with stored snapshots.
	DistinctSearchTerms(ctx context.Context) ([]string, error)

	// Reset deletes every stored snapshot. The only delete operation.
	Reset(ctx context.Context) error

	Close(ctx context.Context) error
}
