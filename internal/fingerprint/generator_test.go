package fingerprint

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) {
	return s.vec, s.err
}

func filled(n int, v float32) []float32 {
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

func TestNormalizeUnitNorm(t *testing.T) {
	t.Parallel()

	vec := make([]float32, domain.FingerprintDim)
	for i := range vec {
		vec[i] = float32(i%7) - 3
	}

	unit, err := Normalize(vec)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if got := Norm(unit); math.Abs(float64(got)-1) > 1e-5 {
		t.Fatalf("unit norm: got %v", got)
	}
	// Input must not be mutated.
	if vec[0] != -3 {
		t.Fatalf("input mutated: %v", vec[0])
	}
}

func TestNormalizeRejectsBadShape(t *testing.T) {
	t.Parallel()

	if _, err := Normalize(filled(256, 1)); !errors.Is(err, ErrBadShape) {
		t.Fatalf("expected ErrBadShape, got %v", err)
	}
}

func TestNormalizeRejectsDegenerate(t *testing.T) {
	t.Parallel()

	if _, err := Normalize(filled(domain.FingerprintDim, 0)); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("zero vector: expected ErrDegenerate, got %v", err)
	}

	nan := filled(domain.FingerprintDim, 1)
	nan[12] = float32(math.NaN())
	if _, err := Normalize(nan); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("NaN component: expected ErrDegenerate, got %v", err)
	}

	inf := filled(domain.FingerprintDim, 1)
	inf[0] = float32(math.Inf(1))
	if _, err := Normalize(inf); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("Inf component: expected ErrDegenerate, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(&stubEmbedder{vec: filled(domain.FingerprintDim, 2)})
	fp, err := gen.Generate(context.Background(), 42, []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if fp.ListingID != 42 {
		t.Fatalf("listing id: got %d", fp.ListingID)
	}
	if fp.Norm != 1 {
		t.Fatalf("norm: got %v", fp.Norm)
	}
	if got := Norm(fp.Vector); math.Abs(float64(got)-1) > 1e-5 {
		t.Fatalf("vector norm: got %v", got)
	}
}

func TestGenerateEmbedderFailure(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(&stubEmbedder{err: errors.New("model offline")})
	if _, err := gen.Generate(context.Background(), 1, nil); err == nil {
		t.Fatal("expected error from embedder")
	}
}
