package textnorm

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed lexicons/*.txt
var lexiconFS embed.FS

var (
	// ErrNoLexicon is returned when no lexicon matches the requested language.
	ErrNoLexicon = errors.New("no stopword lexicon for language")
	// ErrEmptyLexicon is returned for a lexicon without a single entry.
	ErrEmptyLexicon = errors.New("stopword lexicon is empty")
)

// lexiconTags lists the embedded lexicons; the file name is the base language.
var lexiconTags = []language.Tag{language.English, language.Indonesian}

var lexiconMatcher = language.NewMatcher(lexiconTags)

// fallbackStopwords is used whenever no lexicon can be loaded.
var fallbackStopwords = []string{
	"a", "an", "the", "and", "or", "but", "if", "of", "at", "by",
	"for", "with", "about", "to", "from", "in", "on", "into", "is", "are",
	"was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
	"those", "as", "so", "than", "too", "very", "can", "will", "just", "do",
	"does", "did", "not", "no",
}

// Stopwords is a set of function words removed during normalization.
// Entries are stored lowercased with punctuation stripped.
type Stopwords map[string]struct{}

// Contains reports whether word is a stopword.
func (s Stopwords) Contains(word string) bool {
	_, ok := s[word]
	return ok
}

// FallbackStopwords returns the built-in English list.
func FallbackStopwords() Stopwords {
	return newStopwords(language.English, fallbackStopwords)
}

// LoadLexicon loads the embedded lexicon that best matches tag.
func LoadLexicon(tag language.Tag) (Stopwords, error) {
	return loadLexiconFS(lexiconFS, tag)
}

func loadLexiconFS(fsys fs.FS, tag language.Tag) (Stopwords, error) {
	_, idx, conf := lexiconMatcher.Match(tag)
	if conf == language.No {
		return nil, fmt.Errorf("%w %s", ErrNoLexicon, tag)
	}
	match := lexiconTags[idx]
	base, _ := match.Base()

	f, err := fsys.Open("lexicons/" + base.String() + ".txt")
	if err != nil {
		return nil, fmt.Errorf("open lexicon %s: %w", base, err)
	}
	defer f.Close()
	return ParseLexicon(f, match)
}

// LoadLexiconFile loads an operator-supplied lexicon.
func LoadLexiconFile(path string, tag language.Tag) (Stopwords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()
	return ParseLexicon(f, tag)
}

// ParseLexicon reads one stopword per line. Blank lines and lines starting
// with '#' are ignored.
func ParseLexicon(r io.Reader, tag language.Tag) (Stopwords, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	sw := newStopwords(tag, words)
	if len(sw) == 0 {
		return nil, ErrEmptyLexicon
	}
	return sw, nil
}

func newStopwords(tag language.Tag, words []string) Stopwords {
	lower := cases.Lower(tag)
	sw := make(Stopwords, len(words))
	for _, w := range words {
		w = StripPunct(lower.String(w))
		if w != "" {
			sw[w] = struct{}{}
		}
	}
	return sw
}
