// Package budget estimates token counts for prompts sent to the language
// model and trims ranked context to fit a window. Backends use different
// tokenizers, so estimation uses a conservative character heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens for the
	// system prompt, retrieved context and question together. It fits
	// 8k-context models with room left for the answer.
	DefaultMaxContextTokens = 6000

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitRanked returns how many leading items of ranked fit alongside fixed
// within maxTokens. Items are in rank order, so the lowest-ranked are the
// first dropped. A zero result means not even the top item fits.
func FitRanked(fixed []*schema.Message, ranked []string, maxTokens int) int {
	used := EstimateMessages(fixed)
	for i, item := range ranked {
		used += Estimate(item)
		if used > maxTokens {
			return i
		}
	}
	return len(ranked)
}
