package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_ExactMatch(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.ExactMatch("Acme Corp", "Acme Corp", true))
	assert.Equal(t, 0.0, s.ExactMatch("Acme Corp", "acme corp", true))
	assert.Equal(t, 1.0, s.ExactMatch("Acme Corp", "acme corp", false))
	assert.Equal(t, 0.0, s.ExactMatch("Acme Corp", "Globex", false))
}

func TestScorer_Ratio(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{
			name:     "identical strings score 100",
			a:        "acme corp",
			b:        "acme corp",
			expected: 100,
		},
		{
			name:     "trailing period costs one edit",
			a:        "acme corp",
			b:        "acme corp.",
			expected: 90,
		},
		{
			name:     "empty strings are identical",
			a:        "",
			b:        "",
			expected: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.Ratio(tt.a, tt.b), 0.0001)
		})
	}

	// dissimilar strings land well below any useful threshold
	assert.Less(t, s.Ratio("acme corp", "globex"), 40.0)
}

func TestScorer_LevenshteinDistance(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		a        string
		b        string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"acme", "acme", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.LevenshteinDistance(tt.a, tt.b), "distance(%q, %q)", tt.a, tt.b)
	}
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.JaroWinkler("martha", "martha"))
	assert.Equal(t, 0.0, s.JaroWinkler("abc", "xyz"))

	// shared prefix boosts the score above plain Jaro
	jaro := s.Jaro("martha", "marhta")
	jw := s.JaroWinkler("martha", "marhta")
	assert.Greater(t, jw, jaro)
	assert.LessOrEqual(t, jw, 1.0)
}
