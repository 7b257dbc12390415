// Package moderation masks blocked words in user supplied titles. Matching
// ignores case, punctuation and common leet substitutions.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Filter masks every occurrence of a blocked word. The zero value and a
// filter built from no words pass text through unchanged.
type Filter struct {
	matcher *goahocorasick.Machine
	mask    rune
}

// folded is text reduced to its matchable runes, each remembering its
// position in the original.
type folded struct {
	runes []rune
	index []int
}

func NewFilter(words []string, mask rune) (*Filter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if p := fold([]rune(word)).runes; len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return &Filter{mask: mask}, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{matcher: m, mask: mask}, nil
}

// Mask returns text with every blocked word replaced by the mask rune, along
// with the blocked words found, in order. Separators inside a match are
// masked too, spacing around it is kept.
func (f *Filter) Mask(text string) (string, []string) {
	if f == nil || f.matcher == nil {
		return text, nil
	}
	original := []rune(text)
	norm := fold(original)
	if len(norm.runes) == 0 {
		return text, nil
	}
	terms := f.matcher.MultiPatternSearch(norm.runes, false)
	if len(terms) == 0 {
		return text, nil
	}
	var found []string
	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start < 0 || end > len(norm.index) {
			continue
		}
		for i := norm.index[start]; i <= norm.index[end-1]; i++ {
			original[i] = f.mask
		}
		found = append(found, string(term.Word))
	}
	return string(original), found
}

func fold(input []rune) folded {
	out := folded{runes: make([]rune, 0, len(input)), index: make([]int, 0, len(input))}
	for i, r := range input {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out.runes = append(out.runes, unicode.ToLower(r))
		out.index = append(out.index, i)
	}
	return out
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
