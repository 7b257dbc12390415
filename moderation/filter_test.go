package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter_Mask(t *testing.T) {
	req := require.New(t)
	filter, err := NewFilter([]string{"cheat", "answers"}, '*')
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "Where to cheat on week 3",
			expected: "Where to ***** on week 3",
			words:    []string{"cheat"},
		},
		{
			name:     "Leet speak and internal punctuation",
			input:    "Quiz 4 4.n.5.w.3.r.5 inside",
			expected: "Quiz 4 ************* inside",
			words:    []string{"answers"},
		},
		{
			name:     "Uppercase",
			input:    "CHEAT sheet",
			expected: "***** sheet",
			words:    []string{"cheat"},
		},
		{
			name:     "Word adjacent to trailing punctuation",
			input:    "Stop the cheat!",
			expected: "Stop the *****!",
			words:    []string{"cheat"},
		},
		{
			name:     "Nothing to mask",
			input:    "Lecture notes, week 2",
			expected: "Lecture notes, week 2",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := filter.Mask(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestFilter_WithoutWords(t *testing.T) {
	req := require.New(t)

	// Given only noise as blocked words
	filter, err := NewFilter([]string{"...", "", " "}, '*')
	req.NoError(err)

	// Then nothing is masked
	content, words := filter.Mask("Hello ... world")
	req.Equal("Hello ... world", content)
	req.Nil(words)

	var nilFilter *Filter
	content, _ = nilFilter.Mask("cheat")
	req.Equal("cheat", content)
}
