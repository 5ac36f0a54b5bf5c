package ports

import (
	"context"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
)

// CatalogSearcher pulls pages of raw listing records from the catalog source.
type CatalogSearcher interface {
	SearchItems(ctx context.Context, query string, page, perPage int) ([]domain.CatalogItem, error)
	SearchByParams(ctx context.Context, params map[string]string, refererQuery string) ([]domain.CatalogItem, error)
}

// ImageFetcher downloads listing photos from the image host.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// Embedder converts a downloaded photo into a fixed-length vector. The model is
// a black box; callers validate shape and finiteness of whatever comes back.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// Filters narrows a similarity query; empty fields match everything.
type Filters struct {
	Platform string
	Category string
}

// VectorStore persists listings with their fingerprints and answers
// cosine-similarity queries over the stored vectors.
type VectorStore interface {
	// ExistingIDs reports which of the candidate ids are already stored.
	// An empty input returns an empty map without touching the store.
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)

	// Commit appends both batches; committing the same id twice is a no-op.
	// An empty batch is a no-op, not an error.
	Commit(ctx context.Context, listings []domain.Listing, fingerprints []domain.Fingerprint) error

	// QuerySimilar returns up to limit matches ordered by descending cosine
	// score, ties broken by ascending listing id. Zero-norm fingerprints are
	// never returned.
	QuerySimilar(ctx context.Context, vector []float32, limit int, filters Filters) ([]domain.Match, error)
}

// Notifier publishes run summaries to an operator channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary string) error
}

// Scheduler re-triggers ingestion runs for continuous collection.
type Scheduler interface {
	Start(ctx context.Context, job func()) error
	Stop(ctx context.Context) error
}
