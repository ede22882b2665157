package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmaguirre/mercadoscan/models"
)

// MemoryStore is an in-memory Store. It backs tests and the no-database
// development mode; semantics match MongoStore exactly.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ListingRecord
	seq     map[string]int
	next    int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ListingRecord),
		seq:     make(map[string]int),
	}
}

func snapshotKey(term, listingID, date string) string {
	return fmt.Sprintf("%s\x00%s\x00%s", term, listingID, date)
}

// Upsert replaces the same-day snapshot of the listing identity.
func (m *MemoryStore) Upsert(_ context.Context, record *models.ListingRecord) error {
	clone := *record
	key := snapshotKey(record.SearchTerm, record.ListingID, record.SnapshotDate)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[key]; !exists {
		m.seq[key] = m.next
		m.next++
	}
	m.records[key] = &clone
	return nil
}

// FindLatestBefore returns the newest snapshot strictly before date,
// or (nil, nil) when none exists.
func (m *MemoryStore) FindLatestBefore(_ context.Context, term, listingID, date string) (*models.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.ListingRecord
	for _, rec := range m.records {
		if rec.SearchTerm != term || rec.ListingID != listingID {
			continue
		}
		if rec.SnapshotDate >= date {
			continue
		}
		if latest == nil || rec.SnapshotDate > latest.SnapshotDate {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

// FindAll returns matching snapshots ordered by snapshot date, then by
// insertion order within a day.
func (m *MemoryStore) FindAll(_ context.Context, filter Filter) ([]*models.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type entry struct {
		rec *models.ListingRecord
		seq int
	}
	var matched []entry
	for key, rec := range m.records {
		if filter.SearchTerm != "" && rec.SearchTerm != filter.SearchTerm {
			continue
		}
		if filter.ListingID != "" && rec.ListingID != filter.ListingID {
			continue
		}
		if filter.Date != "" && rec.SnapshotDate != filter.Date {
			continue
		}
		matched = append(matched, entry{rec: rec, seq: m.seq[key]})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].rec.SnapshotDate != matched[j].rec.SnapshotDate {
			return matched[i].rec.SnapshotDate < matched[j].rec.SnapshotDate
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]*models.ListingRecord, len(matched))
	for i, e := range matched {
		clone := *e.rec
		out[i] = &clone
	}
	return out, nil
}

// DistinctSearchTerms lists stored search terms, sorted.
func (m *MemoryStore) DistinctSearchTerms(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range m.records {
		if rec.SearchTerm != "" {
			seen[rec.SearchTerm] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms, nil
}

// Reset removes every stored snapshot.
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*models.ListingRecord)
	m.seq = make(map[string]int)
	m.next = 0
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

// Len reports the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
