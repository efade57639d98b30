// Package ratelimit classifies provider responses as rate-limit
// rejections and tracks the retry lifecycle of each detected event.
package ratelimit

import (
	"net/http"
	"regexp"
	"strings"
)

// rateLimitHeaderKeys are header names (lowercased) whose presence
// marks a response as rate-limit related even without a 429 status.
var rateLimitHeaderKeys = map[string]struct{}{
	"retry-after":                            {},
	"x-ratelimit-remaining":                  {},
	"x-ratelimit-reset":                      {},
	"x-ratelimit-limit":                      {},
	"x-ratelimit-remaining-requests":         {},
	"x-ratelimit-remaining-tokens":           {},
	"x-ratelimit-reset-requests":             {},
	"x-ratelimit-reset-tokens":               {},
	"anthropic-ratelimit-requests-remaining": {},
	"anthropic-ratelimit-tokens-remaining":   {},
}

// rateLimitBodyPatterns match provider error bodies that describe a
// rate limit in prose.
var rateLimitBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rate[- ]?limit`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)quota exceeded`),
	regexp.MustCompile(`(?i)throttl`),
	regexp.MustCompile(`429`),
}

// IsRateLimitError reports whether a provider response indicates a
// rate-limit rejection: a 429 status, a known rate-limit header, or a
// body matching a known pattern.
func IsRateLimitError(status int, headers map[string]string, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}

	for k := range headers {
		if _, ok := rateLimitHeaderKeys[strings.ToLower(k)]; ok {
			return true
		}
	}

	for _, p := range rateLimitBodyPatterns {
		if p.MatchString(body) {
			return true
		}
	}

	return false
}

// HeaderValue does a case-insensitive lookup in a header map.
func HeaderValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
