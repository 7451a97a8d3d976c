package ui

import (
	"sort"
	"strings"
)

const (
	// DefaultMaxDistance is the largest edit distance FindSimilar accepts
	DefaultMaxDistance = 3
	// DefaultMaxSuggestions caps the result of FindSimilar
	DefaultMaxSuggestions = 3
)

// FindSimilar returns the candidates closest to target by case-insensitive
// edit distance, nearest first. Ties keep candidate order.
//
// Type names are compared both whole and by their simple name, so
// "Sevice" still suggests "app.Service".
func FindSimilar(target string, candidates []string) []string {
	type match struct {
		value    string
		distance int
	}
	lt := strings.ToLower(target)
	var matches []match
	for _, c := range candidates {
		lc := strings.ToLower(c)
		d := LevenshteinDistance(lt, lc)
		if i := strings.LastIndexByte(lc, '.'); i >= 0 && !strings.Contains(lt, ".") {
			d = min(d, LevenshteinDistance(lt, lc[i+1:]))
		}
		if d <= DefaultMaxDistance {
			matches = append(matches, match{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].distance < matches[j].distance })

	out := make([]string, 0, DefaultMaxSuggestions)
	for i := 0; i < len(matches) && i < DefaultMaxSuggestions; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// LevenshteinDistance is the number of single-byte insertions, deletions
// or substitutions turning a into b
func LevenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
