package textnorm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// ErrInvalidText is returned by tokenizers that cannot segment the input.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// simplePunctRegex is the fixed punctuation pattern of the simple tokenizer.
var simplePunctRegex = regexp.MustCompile(`[\p{P}\p{S}]+`)

// Tokenizer splits lowercased text into word tokens.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
	Name() string
}

const (
	TokenizerSegment = "segment"
	TokenizerSimple  = "simple"
)

// TokenizerByName returns the tokenizer registered under name.
func TokenizerByName(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TokenizerSegment, "":
		return SegmentTokenizer{}, nil
	case TokenizerSimple:
		return SimpleTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

// SegmentTokenizer splits text on Unicode word boundaries (UAX #29) and keeps
// the segments that contain at least one letter or number.
type SegmentTokenizer struct{}

func (SegmentTokenizer) Name() string { return TokenizerSegment }

func (SegmentTokenizer) Tokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}
	var (
		tokens []string
		word   string
		state  = -1
	)
	for len(text) > 0 {
		word, text, state = uniseg.FirstWordInString(text, state)
		if hasWordRune(word) {
			tokens = append(tokens, word)
		}
	}
	return tokens, nil
}

// SimpleTokenizer removes punctuation and symbols with a fixed regex and
// splits on whitespace. It never fails.
type SimpleTokenizer struct{}

func (SimpleTokenizer) Name() string { return TokenizerSimple }

func (SimpleTokenizer) Tokenize(text string) ([]string, error) {
	return strings.Fields(simplePunctRegex.ReplaceAllString(text, "")), nil
}

// StripPunct removes punctuation, symbol and format runes from a token and
// any combining marks left at its start. A token with no letter or number
// left is returned as "".
func StripPunct(token string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, token)
	s = strings.TrimLeftFunc(s, isMark)
	if !hasWordRune(s) {
		return ""
	}
	return s
}

// isMark reports nonspacing and enclosing marks, which the word segmenter
// attaches to whatever precedes them.
func isMark(r rune) bool {
	return unicode.In(r, unicode.Mn, unicode.Me)
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
