package memory

// charsPerToken is the divisor of the size heuristic.
const charsPerToken = 4

// EstimateTokens approximates the token count of text as its byte length
// divided by four, never less than one. It is a heuristic, not a tokenizer.
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}
