package graph

import (
	"regexp"
	"strings"
)

var segmentSplit = regexp.MustCompile(`[.!?]+`)

// Score computes the quality heuristic for a contribution body.
//
// Formula: 0.4 x word count + 0.3 x distinct lower-cased code points + 10 x segment count.
// Words split on whitespace runs. The distinct-character count runs over the
// lower-cased text and counts every code point, whitespace and punctuation
// included. Segments are the pieces produced by splitting on runs of '.', '!'
// and '?', including the trailing empty piece when the text ends with a
// terminator. Stored scores depend on this exact formula; changing any term
// (including the whitespace-as-character quirk) breaks compatibility.
func Score(text string) float64 {
	words := len(strings.Fields(text))

	distinct := make(map[rune]struct{})
	for _, r := range strings.ToLower(text) {
		distinct[r] = struct{}{}
	}

	segments := len(segmentSplit.Split(text, -1))

	return 0.4*float64(words) + 0.3*float64(len(distinct)) + 10*float64(segments)
}
