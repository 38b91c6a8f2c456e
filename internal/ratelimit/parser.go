// Package ratelimit extracts cooldown durations from upstream 429 responses
// and provides the token-bucket pacing used to keep a single account from
// bursting past the upstream's documented quota.
package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Default base cooldown and cap. The base doubles per consecutive 429 up
// to the cap; both are configurable.
const (
	DefaultBaseCooldown = 60 * time.Second
	DefaultCooldownCap  = 30 * time.Minute
)

// ParseRetryAfter reads a Retry-After header value, which per RFC 9110 is
// either a number of seconds or an HTTP-date. Only the seconds form is
// expected from this upstream, but the date form is handled defensively.
func ParseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// ParseResetAt scans a 429 response body for the upstream's documented
// reset-time fields and returns a duration from now until that instant.
// Recognized shapes (observed across Google-family error payloads):
//
//	{"error": {"details": [{"retryDelay": "30s"}]}}
//	{"error": {"resetAt": "2026-01-01T00:00:00Z"}}
//	{"resetAt": 1735689600}            // unix seconds
func ParseResetAt(body []byte) (time.Duration, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	root := gjson.ParseBytes(body)

	if delay := root.Get("error.details.#.retryDelay").Array(); len(delay) > 0 {
		for _, d := range delay {
			if dur, ok := parseGoDuration(d.String()); ok {
				return dur, true
			}
		}
	}
	if v := root.Get("retryDelay"); v.Exists() {
		if dur, ok := parseGoDuration(v.String()); ok {
			return dur, true
		}
	}

	for _, path := range []string{"error.resetAt", "resetAt"} {
		v := root.Get(path)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			until := time.Unix(v.Int(), 0)
			d := time.Until(until)
			if d < 0 {
				d = 0
			}
			return d, true
		}
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return 0, false
}

func parseGoDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

// IsPerEndpointQuota reports whether a 429 body documents an endpoint-level
// quota exhaustion rather than an account-level one, the distinction that
// decides whether to rotate endpoints instead of accounts.
func IsPerEndpointQuota(body []byte) bool {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	status := gjson.GetBytes(body, "error.status").String()
	reason := strings.ToLower(gjson.GetBytes(body, "error.message").String())
	if status == "RESOURCE_EXHAUSTED" && strings.Contains(reason, "endpoint") {
		return true
	}
	for _, d := range gjson.GetBytes(body, "error.details").Array() {
		if d.Get("@type").String() == "type.googleapis.com/google.rpc.QuotaFailure" {
			for _, v := range d.Get("violations").Array() {
				if strings.Contains(strings.ToLower(v.Get("subject").String()), "endpoint") {
					return true
				}
			}
		}
	}
	return false
}

// Cooldown computes how long an account sits out after a 429: the base
// duration (default 60s) doubled per consecutive 429 up to cap (default
// 30m), taking the larger of that and any upstream-documented retry delay.
func Cooldown(parsed time.Duration, hasParsed bool, consecutive429s int, base, cap_ time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseCooldown
	}
	if cap_ <= 0 {
		cap_ = DefaultCooldownCap
	}

	backoff := base
	for i := 0; i < consecutive429s && backoff < cap_; i++ {
		backoff *= 2
	}
	if backoff > cap_ {
		backoff = cap_
	}

	if hasParsed && parsed > backoff {
		return parsed
	}
	return backoff
}
