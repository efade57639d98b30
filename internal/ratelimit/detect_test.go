package ratelimit

import "testing"

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    bool
	}{
		{"status 429", 429, nil, "", true},
		{"retry-after header", 503, map[string]string{"Retry-After": "30"}, "", true},
		{"mixed-case header", 500, map[string]string{"X-RateLimit-Remaining": "0"}, "", true},
		{"anthropic header", 529, map[string]string{"anthropic-ratelimit-requests-remaining": "0"}, "", true},
		{"body rate limit", 400, nil, `{"error":"Rate limit reached"}`, true},
		{"body rate-limit hyphen", 400, nil, "rate-limit hit", true},
		{"body ratelimit joined", 400, nil, "RateLimit exceeded for org", true},
		{"body too many requests", 503, nil, "Too Many Requests", true},
		{"body quota exceeded", 403, nil, "Quota Exceeded for project", true},
		{"body throttled", 500, nil, "request was throttled", true},
		{"body literal 429", 500, nil, "upstream returned 429", true},
		{"plain 500", 500, map[string]string{"Content-Type": "application/json"}, `{"error":"internal"}`, false},
		{"success", 200, nil, "ok", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsRateLimitError(c.status, c.headers, c.body); got != c.want {
				t.Errorf("IsRateLimitError(%d, %v, %q) = %v, want %v", c.status, c.headers, c.body, got, c.want)
			}
		})
	}
}

func TestHeaderValue(t *testing.T) {
	headers := map[string]string{"Retry-After": "120", "x-ratelimit-reset": "60"}
	if got := HeaderValue(headers, "retry-after"); got != "120" {
		t.Errorf("HeaderValue(retry-after) = %q, want 120", got)
	}
	if got := HeaderValue(headers, "X-RateLimit-Reset"); got != "60" {
		t.Errorf("HeaderValue(X-RateLimit-Reset) = %q, want 60", got)
	}
	if got := HeaderValue(headers, "missing"); got != "" {
		t.Errorf("HeaderValue(missing) = %q, want empty", got)
	}
}
