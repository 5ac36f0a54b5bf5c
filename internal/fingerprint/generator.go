// Package fingerprint validates and normalizes raw embedding vectors into
// storable fingerprints. Nothing from the embedding service is trusted: shape,
// finiteness, and norm are all checked here before a vector may be persisted.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

var (
	// ErrBadShape marks a vector whose dimensionality is not FingerprintDim.
	ErrBadShape = errors.New("embedding has wrong shape")
	// ErrDegenerate marks a vector whose norm is zero or not finite; it can
	// never be unit-normalized and must not be stored.
	ErrDegenerate = errors.New("embedding norm is invalid")
)

// Generator wraps an Embedder and enforces the fingerprint contract.
type Generator struct {
	embedder ports.Embedder
}

// NewGenerator wires the external embedder.
func NewGenerator(embedder ports.Embedder) *Generator {
	return &Generator{embedder: embedder}
}

// Generate embeds the photo and returns the unit-norm fingerprint for the
// listing. Wrong dimensionality, non-finite values, and zero norms are
// reported as errors so the caller can skip the listing.
func (g *Generator) Generate(ctx context.Context, listingID int64, image []byte) (domain.Fingerprint, error) {
	vec, err := g.embedder.EmbedImage(ctx, image)
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("embed image: %w", err)
	}

	unit, err := Normalize(vec)
	if err != nil {
		return domain.Fingerprint{}, err
	}

	return domain.Fingerprint{ListingID: listingID, Vector: unit, Norm: 1}, nil
}

// Normalize validates the raw vector and scales it to unit length. The
// returned slice is a copy; the input is never mutated.
func Normalize(vec []float32) ([]float32, error) {
	if len(vec) != domain.FingerprintDim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrBadShape, len(vec), domain.FingerprintDim)
	}

	norm := Norm(vec)
	if math.IsNaN(float64(norm)) || math.IsInf(float64(norm), 0) || norm == 0 {
		return nil, ErrDegenerate
	}

	unit := make([]float32, len(vec))
	for i, v := range vec {
		unit[i] = v / norm
	}
	return unit, nil
}

// Norm returns the Euclidean norm, accumulating in float64 for stability.
// A NaN or Inf component surfaces as a NaN/Inf norm.
func Norm(vec []float32) float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// Dot is the float32 dot product with float64 accumulation.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
