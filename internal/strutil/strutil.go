// Package strutil has small string helpers for user-facing suggestions.
package strutil

import "strings"

// LevenshteinDistance calculates the case-insensitive edit distance between
// two strings using two rows instead of the full matrix.
func LevenshteinDistance(s1, s2 string) int {
	a := []rune(strings.ToLower(s1))
	b := []rune(strings.ToLower(s2))

	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// FindClosest returns the candidate nearest to input and its distance, or ""
// when nothing is within maxDistance.
func FindClosest(input string, candidates []string, maxDistance int) (string, int) {
	if len(candidates) == 0 {
		return "", -1
	}

	closest := ""
	minDistance := maxDistance + 1
	for _, c := range candidates {
		d := LevenshteinDistance(input, c)
		if d < minDistance {
			minDistance = d
			closest = c
		}
	}

	if minDistance <= maxDistance {
		return closest, minDistance
	}
	return "", minDistance
}

// DidYouMean formats a suggestion suffix for an error message, or "" when
// no candidate is close.
func DidYouMean(input string, candidates []string) string {
	maxDistance := 2
	if len(input) <= 3 {
		maxDistance = 1
	}
	if match, _ := FindClosest(input, candidates, maxDistance); match != "" {
		return "\n\nDid you mean '" + match + "'?"
	}
	return ""
}
