package pipeline

import (
	"fmt"
	"sync"

	"github.com/dmaguirre/mercadoscan/models"
)

// DualWriter mirrors every batch to a primary writer (normally the
// snapshot store) and a secondary export writer (CSV or JSON), so a
// crawl can persist and export in one pass.
type DualWriter struct {
	primary   OutputWriter
	secondary OutputWriter
	mu        sync.Mutex
}

// NewDualWriter combines two writers. The primary's error always wins.
func NewDualWriter(primary, secondary OutputWriter) *DualWriter {
	return &DualWriter{primary: primary, secondary: secondary}
}

// Write sends records to both writers.
func (dw *DualWriter) Write(records []*models.ListingRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.primary.Write(records); err != nil {
		return fmt.Errorf("primary write: %w", err)
	}
	if err := dw.secondary.Write(records); err != nil {
		return fmt.Errorf("secondary write: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close: %w", err))
	}
	if err := dw.secondary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("secondary close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Validate validates both writers.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.primary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	if err := dw.secondary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("secondary: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}
