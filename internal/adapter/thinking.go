package adapter

import "strings"

// ThinkingExtractor is the pluggable strategy for recovering a reasoning
// prefix from backend text. Implementations are heuristics, not lossless
// inverses of the request-side thinking annotation.
type ThinkingExtractor interface {
	// Extract splits text into a thinking part and the remaining text.
	// ok is false when the text does not look like it carries reasoning.
	Extract(text string) (thinking, rest string, ok bool)
}

// KeywordSplitter detects reasoning by indicator keywords and, above a length
// threshold, splits the text at the sentence boundary nearest its midpoint.
type KeywordSplitter struct {
	// MinLength is the minimum text length before a split is attempted.
	MinLength int
}

// reasoning indicators checked case-insensitively against the text prefix.
var reasoningIndicators = []string{
	"let me think",
	"let me analyze",
	"first, i",
	"step by step",
	"reasoning:",
}

// Extract implements ThinkingExtractor.
func (s KeywordSplitter) Extract(text string) (string, string, bool) {
	minLen := s.MinLength
	if minLen <= 0 {
		minLen = 240
	}
	if len(text) < minLen {
		return "", "", false
	}

	lower := strings.ToLower(text)
	matched := false
	for _, indicator := range reasoningIndicators {
		if strings.Contains(lower, indicator) {
			matched = true
			break
		}
	}
	if !matched {
		return "", "", false
	}

	split := sentenceBoundaryNear(text, len(text)/2)
	if split <= 0 || split >= len(text) {
		return "", "", false
	}
	return strings.TrimSpace(text[:split]), strings.TrimSpace(text[split:]), true
}

// sentenceBoundaryNear finds the sentence end closest to the target offset.
// Returns the index just past the boundary, or -1 when no boundary exists.
func sentenceBoundaryNear(text string, target int) int {
	best := -1
	bestDist := len(text)
	for i := 0; i < len(text)-1; i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		if text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		dist := i - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i + 1
		}
	}
	return best
}
