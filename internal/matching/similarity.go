package matching

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Ratio is the normalized Levenshtein similarity of a and b in [0,1].
func Ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// TokenSortRatio compares a and b after sorting their words.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortedTokens(a), sortedTokens(b))
}

// PartialRatio is the best Ratio of the shorter string against every
// equally long window of the longer one.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	short := string(ra)
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		if r := Ratio(short, string(rb[i:i+len(ra)])); r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

// StringScore blends the three ratios as 0.5 ratio, 0.3 token sort, 0.2 partial.
// Inputs are compared case-insensitively.
func StringScore(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	return 0.5*Ratio(a, b) + 0.3*TokenSortRatio(a, b) + 0.2*PartialRatio(a, b)
}

func sortedTokens(s string) string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

var soundexCodes = map[rune]byte{
	'B': '1', 'F': '1', 'P': '1', 'V': '1',
	'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
	'D': '3', 'T': '3',
	'L': '4',
	'M': '5', 'N': '5',
	'R': '6',
}

// Soundex returns the four character American Soundex code of a single word,
// or "" when it has no ASCII letter.
func Soundex(word string) string {
	var letters []rune
	for _, r := range strings.ToUpper(word) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}
	code := []byte{byte(letters[0])}
	prev := soundexCodes[letters[0]]
	for _, r := range letters[1:] {
		c, ok := soundexCodes[r]
		switch {
		case !ok:
			// H and W do not separate equal codes; vowels do.
			if r != 'H' && r != 'W' {
				prev = 0
			}
			continue
		case c == prev:
			continue
		}
		code = append(code, c)
		prev = c
		if len(code) == 4 {
			break
		}
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

// phoneticKey is the Soundex code of every word of a name.
func phoneticKey(name string) string {
	words := strings.Fields(name)
	codes := make([]string, 0, len(words))
	for _, w := range words {
		if c := Soundex(w); c != "" {
			codes = append(codes, c)
		}
	}
	return strings.Join(codes, " ")
}
