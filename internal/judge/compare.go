package judge

import (
	"bytes"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

// Compare reports whether actual matches expected under policy.
// Unknown policies never match.
func Compare(policy models.ComparisonPolicy, actual, expected []byte) bool {
	switch policy {
	case models.CompareExact:
		return bytes.Equal(actual, expected)
	case models.CompareLines:
		return equalTokens(normalizeLines(actual), normalizeLines(expected))
	case models.CompareWhitespace:
		return equalTokens(bytes.Fields(actual), bytes.Fields(expected))
	default:
		return false
	}
}

func normalizeLines(data []byte) [][]byte {
	lines := bytes.Split(data, []byte{'\n'})
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func equalTokens(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
