package pipeline

import (
	"context"
	"fmt"

	"github.com/dmaguirre/mercadoscan/models"
	"github.com/dmaguirre/mercadoscan/store"
)

// SnapshotWriter persists records through the snapshot store's idempotent
// upsert. A store failure is fatal to the crawl request: the pipeline
// surfaces it instead of silently dropping records.
type SnapshotWriter struct {
	ctx   context.Context
	store store.Store
}

// NewSnapshotWriter wraps the store for use as a pipeline output.
func NewSnapshotWriter(ctx context.Context, s store.Store) *SnapshotWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SnapshotWriter{ctx: ctx, store: s}
}

// Write upserts each record. Records are independent per key, so partial
// progress before an error is safe; the error still aborts the pipeline.
func (sw *SnapshotWriter) Write(records []*models.ListingRecord) error {
	for _, rec := range records {
		if err := sw.store.Upsert(sw.ctx, rec); err != nil {
			return fmt.Errorf("store unavailable: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the store's lifecycle belongs to the caller.
func (sw *SnapshotWriter) Close() error {
	return nil
}

// Validate reports nothing to check: upsert errors surface in Write.
func (sw *SnapshotWriter) Validate() error {
	return nil
}
