// Package textnorm turns raw utterances into the normalized form that is
// embedded and searched: lowercased, punctuation-free, stopword-free, and
// reduced to word stems.
package textnorm

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"github.com/kljensen/snowball/russian"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Supported languages.
const (
	English = "english"
	Russian = "russian"
)

// maxStemPasses bounds the search for a stem that the stemmer maps to
// itself. Real words settle after one or two passes.
const maxStemPasses = 8

// Normalizer is a pure, deterministic text → normalized-text function for
// one configured language. It is safe for concurrent use.
//
// Normalize is idempotent: every emitted token is a letters-only stem that
// is not a stopword and that the stemmer leaves unchanged, so a second pass
// reproduces the same tokens.
type Normalizer struct {
	lang      string
	tag       language.Tag
	stopwords map[string]struct{}
	stem      func(string) string
}

// New returns a Normalizer for the given language ("english" or "russian").
func New(lang string) (*Normalizer, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case English:
		return &Normalizer{
			lang:      English,
			tag:       language.English,
			stopwords: stopwordSet(englishStopwords),
			stem:      func(w string) string { return english.Stem(w, true) },
		}, nil
	case Russian, "":
		return &Normalizer{
			lang:      Russian,
			tag:       language.Russian,
			stopwords: stopwordSet(russianStopwords),
			stem:      func(w string) string { return russian.Stem(w, true) },
		}, nil
	default:
		return nil, fmt.Errorf("textnorm: unsupported language %q", lang)
	}
}

// Language returns the configured language name.
func (n *Normalizer) Language() string { return n.lang }

// Normalize lowercases and trims text, strips punctuation, drops stopwords
// and tokens with non-alphabetic characters, stems the remaining tokens and
// joins them with single spaces. Empty or all-stopword input yields "".
func (n *Normalizer) Normalize(text string) string {
	// cases.Caser keeps state; one per call keeps Normalize goroutine-safe.
	lowered := cases.Lower(n.tag).String(norm.NFC.String(text))
	lowered = strings.TrimSpace(lowered)
	if lowered == "" {
		return ""
	}

	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, lowered)

	var out []string
	for _, tok := range strings.Fields(stripped) {
		if !isAlpha(tok) || n.isStopword(tok) {
			continue
		}
		lemma := n.lemma(tok)
		if lemma == "" || !isAlpha(lemma) || n.isStopword(lemma) {
			continue
		}
		out = append(out, lemma)
	}
	return strings.Join(out, " ")
}

// lemma stems tok until the stemmer returns its input unchanged.
func (n *Normalizer) lemma(tok string) string {
	cur := tok
	for i := 0; i < maxStemPasses; i++ {
		next := n.stem(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
	return cur
}

func (n *Normalizer) isStopword(tok string) bool {
	_, ok := n.stopwords[tok]
	return ok
}

func isAlpha(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
