package scoring

import (
	"unicode/utf8"

	"github.com/pavelanni/answergrader/internal/textnorm"
)

// SyntacticScorer measures lexical similarity as normalized edit distance
// over normalized text.
type SyntacticScorer struct {
	norm *textnorm.Normalizer
}

// NewSyntacticScorer creates a scorer that normalizes with n.
func NewSyntacticScorer(n *textnorm.Normalizer) *SyntacticScorer {
	return &SyntacticScorer{norm: n}
}

// Score returns a similarity in [0,1]. Two answers that both normalize to
// the empty string score 0: an empty comparison carries no signal.
func (s *SyntacticScorer) Score(submitted, reference string) float64 {
	a := s.norm.Normalize(submitted)
	b := s.norm.Normalize(reference)

	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 0
	}
	d := Levenshtein(a, b)
	return clamp(1-float64(d)/float64(maxLen), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
