// Package backoff computes retry delays for rate-limited provider
// calls: capped exponential backoff, symmetric jitter, and Retry-After
// header parsing.
package backoff

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// Base is the delay for the first attempt.
	Base = 1 * time.Second
	// Cap bounds the exponential growth.
	Cap = 32 * time.Second
	// JitterFraction is the maximum jitter magnitude relative to the
	// base delay.
	JitterFraction = 0.25
)

// Injectable for deterministic tests.
var (
	randFloat = rand.Float64
	nowFn     = time.Now
)

// Delay returns min(Base * 2^(attempt-1), Cap). Attempts below 1 are
// treated as 1.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= Cap {
			return Cap
		}
	}
	return d
}

// DelayWithJitter returns the exponential base delay for the attempt
// and a signed jitter drawn uniformly from [-0.25*base, +0.25*base].
// The total delay base+jitter may legitimately fall below base: the
// jitter is symmetric so that concurrent retries spread in both
// directions instead of piling up at the base delay.
func DelayWithJitter(attempt int) (base, jitter time.Duration) {
	base = Delay(attempt)
	span := float64(base) * JitterFraction
	jitter = time.Duration((randFloat()*2 - 1) * span)
	return base, jitter
}

// ParseRetryAfter parses an HTTP Retry-After header value. It accepts
// either an integer number of delay-seconds or an RFC 7231 HTTP-date.
// For the date form, seconds is max(0, date-now) and at carries the
// absolute date. Unparseable input returns ok=false; callers log it
// and fall back to computed backoff.
func ParseRetryAfter(header string) (seconds int, at *time.Time, ok bool) {
	h := strings.TrimSpace(header)
	if h == "" {
		return 0, nil, false
	}

	if n, err := strconv.Atoi(h); err == nil {
		if n < 0 {
			n = 0
		}
		return n, nil, true
	}

	if t, err := time.Parse(http.TimeFormat, h); err == nil {
		secs := int(t.Sub(nowFn()).Seconds())
		if secs < 0 {
			secs = 0
		}
		return secs, &t, true
	}

	return 0, nil, false
}

// EffectiveDelay returns the delay to honor before the next attempt:
// the parsed Retry-After value when present and positive, otherwise
// exponential backoff with jitter.
func EffectiveDelay(header string, attempt int) time.Duration {
	if secs, _, ok := ParseRetryAfter(header); ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	base, jitter := DelayWithJitter(attempt)
	return base + jitter
}
