package cascade

import (
	"regexp"
	"strings"
)

var (
	reCodeSignal = regexp.MustCompile("(?i)```|\\b(implement|function|refactor|debug|compile|regex|algorithm)\\b")
	reMathSignal = regexp.MustCompile(`(?i)\d+\s*[+\-*/^=]\s*\d+|\b(solve|equation|integral|derivative|probability|theorem)\b`)
	reDeepSignal = regexp.MustCompile(`(?i)\b(explain|why|prove|derive|compare|analyze|analyse|evaluate|trade-?offs?)\b`)
	reCreative   = regexp.MustCompile(`(?i)\b(write|compose)\b.*\b(story|poem|song|essay|lyrics)\b`)
)

// classify estimates the query's domain tag and difficulty in [0,1].
// Cheap lexical heuristics; the alignment scorer does the real work on
// the response side.
func classify(query string) (domain string, difficulty float64) {
	difficulty = 0.3
	domain = "general"

	words := len(strings.Fields(query))
	switch {
	case words > 150:
		difficulty += 0.3
	case words > 50:
		difficulty += 0.2
	case words > 20:
		difficulty += 0.1
	}

	switch {
	case reCodeSignal.MatchString(query):
		domain = "code"
		difficulty += 0.2
	case reMathSignal.MatchString(query):
		domain = "math"
		difficulty += 0.15
	case reCreative.MatchString(query):
		domain = "creative"
		difficulty += 0.1
	}

	if reDeepSignal.MatchString(query) {
		difficulty += 0.15
	}

	if difficulty > 1 {
		difficulty = 1
	}
	return domain, difficulty
}
