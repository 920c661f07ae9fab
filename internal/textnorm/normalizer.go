// Package textnorm canonicalizes free-text answers into a sorted,
// stopword-free token string for lexical comparison.
package textnorm

import (
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer lowercases, tokenizes, removes stopwords and sorts tokens.
//
// Sorting makes the comparison order-insensitive: answers that contain the
// right concepts score the same regardless of phrasing order, and word order
// is discarded entirely.
type Normalizer struct {
	lang      language.Tag
	tokenizer Tokenizer
	fallback  Tokenizer
	stopwords Stopwords
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLanguage sets the language used for case mapping and lexicon lookup.
func WithLanguage(tag language.Tag) Option {
	return func(n *Normalizer) { n.lang = tag }
}

// WithTokenizer replaces the preferred tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(n *Normalizer) { n.tokenizer = t }
}

// WithFallbackTokenizer replaces the tokenizer used when the preferred one fails.
func WithFallbackTokenizer(t Tokenizer) Option {
	return func(n *Normalizer) { n.fallback = t }
}

// WithStopwords sets the stopword set instead of loading a lexicon.
func WithStopwords(sw Stopwords) Option {
	return func(n *Normalizer) { n.stopwords = sw }
}

// New creates a Normalizer. Without WithStopwords the embedded lexicon for
// the language is loaded, falling back to the built-in list.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		lang:      language.English,
		tokenizer: SegmentTokenizer{},
		fallback:  SimpleTokenizer{},
	}
	for _, o := range opts {
		o(n)
	}
	if n.stopwords == nil {
		sw, err := LoadLexicon(n.lang)
		if err != nil {
			slog.Warn("stopword lexicon unavailable, using built-in list", "lang", n.lang.String(), "error", err)
			sw = FallbackStopwords()
		}
		n.stopwords = sw
	}
	return n
}

// Tokenizer returns the name of the preferred tokenizer.
func (n *Normalizer) Tokenizer() string {
	return n.tokenizer.Name()
}

// maxPasses bounds the re-normalization loop in Normalize. Stripping can
// expose a boundary the segmenter places differently on a second look, so
// the output is fed back until it stops changing.
const maxPasses = 8

// Normalize returns the canonical form of text. Empty or all-stopword input
// yields "". Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(text string) string {
	out := n.normalize(text)
	for range maxPasses {
		next := n.normalize(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (n *Normalizer) normalize(text string) string {
	if text == "" {
		return ""
	}
	lowered := cases.Lower(n.lang).String(text)

	tokens, err := n.tokenizer.Tokenize(lowered)
	if err != nil {
		slog.Debug("preferred tokenizer failed, using fallback",
			"tokenizer", n.tokenizer.Name(), "fallback", n.fallback.Name(), "error", err)
		tokens, err = n.fallback.Tokenize(lowered)
		if err != nil {
			slog.Warn("fallback tokenizer failed", "tokenizer", n.fallback.Name(), "error", err)
			return ""
		}
	}

	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		// Membership is checked on the stripped form so "don't" and "dont"
		// agree and a second pass removes nothing new.
		tok = StripPunct(tok)
		if tok == "" || n.stopwords.Contains(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}
