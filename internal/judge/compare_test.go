package judge

import (
	"testing"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		policy   models.ComparisonPolicy
		actual   string
		expected string
		match    bool
	}{
		{name: "exact equal", policy: models.CompareExact, actual: "7\n", expected: "7\n", match: true},
		{name: "exact missing newline", policy: models.CompareExact, actual: "7", expected: "7\n", match: false},
		{name: "lines trailing spaces", policy: models.CompareLines, actual: "1 2  \n3\r\n", expected: "1 2\n3", match: true},
		{name: "lines trailing blank lines", policy: models.CompareLines, actual: "a\n\n\n", expected: "a", match: true},
		{name: "lines inner spacing matters", policy: models.CompareLines, actual: "1  2", expected: "1 2", match: false},
		{name: "lines split differently", policy: models.CompareLines, actual: "1\n2", expected: "1 2", match: false},
		{name: "whitespace tokens", policy: models.CompareWhitespace, actual: "1\n  2\t3\n", expected: "1 2 3", match: true},
		{name: "whitespace different token", policy: models.CompareWhitespace, actual: "1 2 4", expected: "1 2 3", match: false},
		{name: "whitespace extra token", policy: models.CompareWhitespace, actual: "7 7", expected: "7", match: false},
		{name: "whitespace both empty", policy: models.CompareWhitespace, actual: "\n", expected: "", match: true},
		{name: "unknown policy", policy: models.ComparisonPolicy("fuzzy"), actual: "7", expected: "7", match: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.policy, []byte(tt.actual), []byte(tt.expected)); got != tt.match {
				t.Fatalf("Compare(%q, %q) = %v, expected %v", tt.actual, tt.expected, got, tt.match)
			}
		})
	}
}
