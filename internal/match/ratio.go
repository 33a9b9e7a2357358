package match

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
)

// levenshteinRatio scores two strings 0-100.
func levenshteinRatio(a, b string) int {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 100
	}
	dist := edlib.LevenshteinDistance(a, b)
	return int(float64(longest-dist) / float64(longest) * 100)
}

// TokenSetRatio scores two names 0-100 ignoring token order and
// duplication. The names are tokenized into sets; the sorted common
// tokens are compared against each side's full sorted token list and
// the best pairwise score wins. Two names with the same tokens in any
// order score 100.
func TokenSetRatio(a, b string) int {
	tokensA := uniqueSorted(tokenize(Normalize(a)))
	tokensB := uniqueSorted(tokenize(Normalize(b)))

	if len(tokensA) == 0 || len(tokensB) == 0 {
		if len(tokensA) == len(tokensB) {
			return 100
		}
		return 0
	}

	setB := make(map[string]bool, len(tokensB))
	for _, tok := range tokensB {
		setB[tok] = true
	}
	setA := make(map[string]bool, len(tokensA))
	for _, tok := range tokensA {
		setA[tok] = true
	}

	var common, onlyA, onlyB []string
	for _, tok := range tokensA {
		if setB[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for _, tok := range tokensB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}

	base := strings.Join(common, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := levenshteinRatio(base, full1)
	if r := levenshteinRatio(base, full2); r > best {
		best = r
	}
	if r := levenshteinRatio(full1, full2); r > best {
		best = r
	}
	return best
}

func uniqueSorted(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Candidate is one scored directory entry.
type Candidate struct {
	Name  string
	Score int
}

// Best scores each candidate against target and returns the first one
// meeting the threshold with the highest score. A perfect score wins
// immediately, and earlier candidates win ties.
func Best(target string, candidates []string, threshold int) (Candidate, bool) {
	var best Candidate
	found := false
	for _, name := range candidates {
		score := TokenSetRatio(target, name)
		if score == 100 {
			return Candidate{Name: name, Score: score}, true
		}
		if score >= threshold && score > best.Score {
			best = Candidate{Name: name, Score: score}
			found = true
		}
	}
	return best, found
}
