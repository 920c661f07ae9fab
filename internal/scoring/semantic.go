package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmbeddingUnavailable is returned when no similarity can be computed
// because an embedding could not be obtained or is unusable.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticScorer computes cosine similarity between embeddings of raw text.
// Raw text is used on purpose: the model sees word order and phrasing that
// normalization throws away.
type SemanticScorer struct {
	embedder Embedder
}

// NewSemanticScorer creates a scorer backed by e.
func NewSemanticScorer(e Embedder) *SemanticScorer {
	return &SemanticScorer{embedder: e}
}

// Score returns the cosine similarity in [-1,1]. Every failure wraps
// ErrEmbeddingUnavailable; no placeholder similarity is ever returned.
func (s *SemanticScorer) Score(ctx context.Context, submitted, reference string) (float64, error) {
	if strings.TrimSpace(submitted) == "" || strings.TrimSpace(reference) == "" {
		return 0, fmt.Errorf("%w: empty input", ErrEmbeddingUnavailable)
	}
	a, err := s.embedder.Embed(ctx, submitted)
	if err != nil {
		return 0, fmt.Errorf("%w: embed answer: %w", ErrEmbeddingUnavailable, err)
	}
	b, err := s.embedder.Embed(ctx, reference)
	if err != nil {
		return 0, fmt.Errorf("%w: embed reference: %w", ErrEmbeddingUnavailable, err)
	}
	sim, err := Cosine(a, b)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return sim, nil
}

// Cosine returns the cosine similarity of two vectors of equal length.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, errors.New("zero-norm vector")
	}
	return clamp(dot/(math.Sqrt(na)*math.Sqrt(nb)), -1, 1), nil
}

// MeanPool averages token-level vectors into one vector.
func MeanPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no token vectors to pool")
	}
	dim := len(tokens[0])
	if dim == 0 {
		return nil, errors.New("empty token vector")
	}
	sum := make([]float64, dim)
	for i, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("token %d has dimension %d, want %d", i, len(tok), dim)
		}
		for j, v := range tok {
			sum[j] += float64(v)
		}
	}
	out := make([]float32, dim)
	n := float64(len(tokens))
	for j := range sum {
		out[j] = float32(sum[j] / n)
	}
	return out, nil
}
