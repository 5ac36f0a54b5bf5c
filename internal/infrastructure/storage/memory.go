// Package storage holds the vector-store implementations: a Postgres-backed
// store for real runs and an in-memory store for tests and DSN-less runs.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/fingerprint"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

// ErrBadQueryVector rejects similarity queries whose vector cannot be
// normalized (zero or non-finite norm).
var ErrBadQueryVector = errors.New("query vector has invalid norm")

// Memory is an in-process vector store. Safe for concurrent readers and
// writers; commits of an already-present id are no-ops.
type Memory struct {
	mu       sync.RWMutex
	listings map[int64]domain.Listing
	prints   map[int64]domain.Fingerprint
}

var _ ports.VectorStore = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings: map[int64]domain.Listing{},
		prints:   map[int64]domain.Fingerprint{},
	}
}

// ExistingIDs reports which candidate ids are already stored.
func (m *Memory) ExistingIDs(_ context.Context, ids []int64) (map[int64]bool, error) {
	existing := map[int64]bool{}
	if len(ids) == 0 {
		return existing, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if _, ok := m.listings[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

// Commit stores both batches; first write per id wins.
func (m *Memory) Commit(_ context.Context, listings []domain.Listing, fingerprints []domain.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range listings {
		if _, ok := m.listings[l.ID]; !ok {
			m.listings[l.ID] = l
		}
	}
	for _, fp := range fingerprints {
		if _, ok := m.prints[fp.ListingID]; !ok {
			m.prints[fp.ListingID] = fp
		}
	}
	return nil
}

// QuerySimilar scans every stored fingerprint, computing cosine similarity as
// dot / (storedNorm * queryNorm). The stored norm is always used as-is rather
// than assumed to be 1, so non-normalized writers still score correctly.
func (m *Memory) QuerySimilar(_ context.Context, vector []float32, limit int, filters ports.Filters) ([]domain.Match, error) {
	queryNorm := fingerprint.Norm(vector)
	if queryNorm == 0 || queryNorm != queryNorm {
		return nil, ErrBadQueryVector
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []domain.Match
	for id, fp := range m.prints {
		if fp.Norm <= 0 {
			continue
		}
		listing, ok := m.listings[id]
		if !ok {
			continue
		}
		if filters.Platform != "" && listing.Platform != filters.Platform {
			continue
		}
		if filters.Category != "" && listing.Category != filters.Category {
			continue
		}
		score := fingerprint.Dot(fp.Vector, vector) / (fp.Norm * queryNorm)
		matches = append(matches, domain.Match{Listing: listing, Score: score})
	}

	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Len reports how many listings are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listings)
}

// sortMatches orders by descending score, ties broken by ascending listing id
// for deterministic output.
func sortMatches(matches []domain.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Listing.ID < matches[j].Listing.ID
	})
}
