package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold decomposes text (NFKD), drops combining marks and lowercases it, so
// "Pokémon" and "POKEMON" compare equal.
func Fold(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// Tokenize folds text and splits it on every non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Phrase is a tokenized multi-word token.
type Phrase []string

// NewPhrase tokenizes a catalog token such as "super famicom".
func NewPhrase(text string) Phrase {
	return Phrase(Tokenize(text))
}

func (p Phrase) String() string {
	return strings.Join(p, " ")
}

// In reports whether p occurs as a contiguous run within tokens.
func (p Phrase) In(tokens []string) bool {
	if len(p) == 0 || len(p) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(p) <= len(tokens); i++ {
		for j, word := range p {
			if tokens[i+j] != word {
				continue outer
			}
		}
		return true
	}
	return false
}
