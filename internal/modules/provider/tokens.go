package provider

import "strings"

// EstimateTokens approximates a token count when the provider does not
// report usage. Blends the ~4-chars-per-token rule with a word count.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}
