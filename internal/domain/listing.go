package domain

import "time"

// PlatformVinted tags every listing acquired from the Vinted catalog.
const PlatformVinted = "vinted"

// FingerprintDim is the embedding width produced by the image model (CLIP ViT-B/32).
const FingerprintDim = 512

// CatalogItem is one listing exactly as the catalog API returned it. The source
// renames and drops fields freely, so it stays an untyped JSON tree; the
// normalize package owns all lookups into it.
type CatalogItem map[string]any

// Listing is the canonical, immutable record derived from a CatalogItem.
// ID is the business key: re-ingesting the same id must never create a second row.
type Listing struct {
	ID        int64
	Title     string
	Price     float64
	Platform  string
	ImageURL  string
	Category  string
	Color     string
	Brand     string
	Size      string
	Condition string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fingerprint is a unit-norm 512-dim vector bound to a listing. Norm is stored
// alongside the vector so similarity scoring never has to trust that writers
// normalized; a zero norm marks a degenerate vector that must not be persisted.
type Fingerprint struct {
	ListingID int64
	Vector    []float32
	Norm      float32
}

// CategoryNode is one node of the crawled catalog hierarchy. ParentID 0 means root.
type CategoryNode struct {
	ID       int64
	Slug     string
	Name     string
	URL      string
	ParentID int64
	Path     string
	Level    int
}

// Match is one ranked similarity result. Score is cosine similarity in [-1, 1].
type Match struct {
	Listing Listing
	Score   float32
}
