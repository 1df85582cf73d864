// Package tokenizer estimates token counts for routing decisions and the
// token counting endpoint. Counts are best-effort, not billing-grade.
package tokenizer

import (
	"github.com/openbridge/claude-relay/internal/anthropic"
)

// Estimator returns an approximate token count for arbitrary text.
type Estimator interface {
	Estimate(text string) int
}

// Heuristic is a rune-class estimator: ASCII runs average about four
// characters per token, non-ASCII text about one rune per token.
type Heuristic struct{}

// Estimate implements Estimator.
func (Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ascii := 0
	nonASCII := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			nonASCII++
		}
	}
	tokens := (ascii+3)/4 + nonASCII
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// CountRequest sums the estimated tokens of a request: system text, every
// message's content and the serialized tool schemas.
func CountRequest(est Estimator, system string, messages []anthropic.Message, tools []anthropic.Tool) int {
	total := est.Estimate(system)
	for _, msg := range messages {
		total += est.Estimate(anthropic.FlattenContent(msg.Content))
	}
	for _, tool := range tools {
		total += est.Estimate(tool.Name)
		total += est.Estimate(tool.Description)
		total += est.Estimate(string(tool.InputSchema))
	}
	return total
}
