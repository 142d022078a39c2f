package fallback

import "strings"

// These token lists are heuristics over free-text error output. Unknown
// text stays opaque.
var (
	rateLimitTokens = []string{
		"rate limit",
		"too many requests",
		"http error 429",
		"status code 429",
		"temporarily blocked",
		"unusual traffic",
		"slow down",
	}
	invalidIDTokens = []string{
		"invalid video id",
		"invalid url",
		"unsupported url",
		"not a valid url",
	}
)

// IsRateLimitError reports whether message looks like a rate-limit response.
func IsRateLimitError(message string) bool {
	return containsAny(strings.ToLower(message), rateLimitTokens)
}

// IsInvalidIDError reports whether message says the identifier itself is bad.
func IsInvalidIDError(message string) bool {
	return containsAny(strings.ToLower(message), invalidIDTokens)
}

// Classify turns provider error text into a Failure. Rate limiting wins
// over an invalid id when both match.
func Classify(provider, message string) Failure {
	kind := KindOpaque
	switch {
	case IsRateLimitError(message):
		kind = KindRateLimited
	case IsInvalidIDError(message):
		kind = KindInvalid
	}
	return Failure{Kind: kind, Message: strings.TrimSpace(message), Provider: provider}
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
