package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// Standard rate-limit response headers this package interprets. Lookup
// is case-insensitive (http.Header canonicalizes on Get).
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// RateLimitInfo is the parsed view of a server's rate-limit response
// headers. Every field is optional: nil (or empty for Policy) means
// the header was missing or unparseable. Parsing never fails — bad
// values simply yield absent fields.
type RateLimitInfo struct {
	// Limit is the server's advertised window budget.
	Limit *int64

	// Remaining is the budget left in the current window.
	Remaining *int64

	// Reset is the time until the window resets, derived from the
	// header's Unix epoch-seconds value relative to now. An epoch in
	// the past parses as zero (present but elapsed), not as absent.
	Reset *time.Duration

	// RetryAfter is the server's back-off request. Only the
	// integer-seconds form is understood; the HTTP-date form and
	// negative values yield nil.
	RetryAfter *time.Duration

	// Policy is the free-form policy label, verbatim.
	Policy string
}

// ParseRateLimitHeaders interprets the standard headers from a
// response header map. now anchors the epoch arithmetic for Reset.
func ParseRateLimitHeaders(h http.Header, now time.Time) RateLimitInfo {
	info := RateLimitInfo{
		Policy: h.Get(HeaderPolicy),
	}

	if v, ok := parseInt(h.Get(HeaderLimit)); ok {
		info.Limit = &v
	}
	if v, ok := parseInt(h.Get(HeaderRemaining)); ok {
		info.Remaining = &v
	}

	if epoch, ok := parseInt(h.Get(HeaderReset)); ok {
		reset := time.Unix(epoch, 0).Sub(now)
		if reset < 0 {
			reset = 0
		}
		info.Reset = &reset
	}

	if secs, ok := parseInt(h.Get(HeaderRetryAfter)); ok && secs >= 0 {
		retry := time.Duration(secs) * time.Second
		info.RetryAfter = &retry
	}

	return info
}

// AnyPresent reports whether at least one rate-limit field parsed.
func (i RateLimitInfo) AnyPresent() bool {
	return i.Limit != nil || i.Remaining != nil || i.Reset != nil ||
		i.RetryAfter != nil || i.Policy != ""
}

// Exhausted reports whether the server advertised zero remaining
// budget.
func (i RateLimitInfo) Exhausted() bool {
	return i.Remaining != nil && *i.Remaining == 0
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
