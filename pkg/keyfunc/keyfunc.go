// Package keyfunc maps request metadata to the string key that selects
// a caller's admission partition.
//
// A Func must be stable and deterministic for the same logical caller:
// the same headers and URL always produce the same key. Header lookup
// is case-insensitive throughout (http.Header canonicalizes on Get).
//
// Built-ins:
//   - Global: one shared partition for every request
//   - IP: client address from X-Forwarded-For / X-Real-IP
//   - User: an opaque identity header
//   - Route: the request path
//   - Composite: joins two or more extractors
//
// Anything else is a custom Func — any function with the right
// signature plugs in directly:
//
//	byTier := func(r *http.Request) string {
//	    return r.Header.Get("X-Account-Tier")
//	}
//	key, _ := keyfunc.Composite(":", keyfunc.IP(), byTier)
package keyfunc

import (
	"fmt"
	"net/http"
	"strings"
)

// GlobalKey is the constant key returned by Global.
const GlobalKey = "__global__"

// Defaults for the IP and User extractors.
const (
	DefaultForwardedForHeader = "X-Forwarded-For"
	DefaultRealIPHeader       = "X-Real-IP"
	DefaultIPFallback         = "unknown"
	DefaultUserHeader         = "X-User-Id"
	DefaultUserFallback       = "anonymous"
)

// Func derives an admission key from a request.
type Func func(r *http.Request) string

// Global returns a Func that puts every caller in one shared
// partition.
func Global() Func {
	return func(*http.Request) string { return GlobalKey }
}

// IPOption configures the IP extractor.
type IPOption func(*ipConfig)

type ipConfig struct {
	forwardedFor string
	realIP       string
	fallback     string
}

// WithForwardedForHeader overrides the comma-separated proxy header
// (default X-Forwarded-For).
func WithForwardedForHeader(name string) IPOption {
	return func(c *ipConfig) { c.forwardedFor = name }
}

// WithRealIPHeader overrides the single-value header consulted second
// (default X-Real-IP).
func WithRealIPHeader(name string) IPOption {
	return func(c *ipConfig) { c.realIP = name }
}

// WithIPFallback overrides the literal returned when neither header is
// present (default "unknown").
func WithIPFallback(key string) IPOption {
	return func(c *ipConfig) { c.fallback = key }
}

// IP returns a Func keyed on the originating client address.
//
// The first element of the forwarded-for header is the original
// client; later elements are the proxies the request traversed. When
// that header is absent the real-IP header is used, then the fallback
// literal.
func IP(opts ...IPOption) Func {
	cfg := ipConfig{
		forwardedFor: DefaultForwardedForHeader,
		realIP:       DefaultRealIPHeader,
		fallback:     DefaultIPFallback,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(r *http.Request) string {
		if xff := r.Header.Get(cfg.forwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get(cfg.realIP)); ip != "" {
			return ip
		}
		return cfg.fallback
	}
}

// UserOption configures the User extractor.
type UserOption func(*userConfig)

type userConfig struct {
	header   string
	fallback string
}

// WithUserHeader overrides the identity header (default X-User-Id).
func WithUserHeader(name string) UserOption {
	return func(c *userConfig) { c.header = name }
}

// WithUserFallback overrides the literal returned when the header is
// absent (default "anonymous").
func WithUserFallback(key string) UserOption {
	return func(c *userConfig) { c.fallback = key }
}

// User returns a Func keyed on an opaque identity header.
func User(opts ...UserOption) Func {
	cfg := userConfig{
		header:   DefaultUserHeader,
		fallback: DefaultUserFallback,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(cfg.header)); v != "" {
			return v
		}
		return cfg.fallback
	}
}

// Route returns a Func keyed on the request path, partitioning
// admission per endpoint.
func Route() Func {
	return func(r *http.Request) string { return r.URL.Path }
}

// Composite joins the outputs of two or more extractors with a
// separator, in argument order. An empty separator means ":".
//
// Composite(":", ip, route) yields exactly ip(r) + ":" + route(r).
func Composite(separator string, fns ...Func) (Func, error) {
	if len(fns) < 2 {
		return nil, fmt.Errorf("composite requires at least 2 extractors, got: %d", len(fns))
	}
	if separator == "" {
		separator = ":"
	}
	return func(r *http.Request) string {
		parts := make([]string, len(fns))
		for i, fn := range fns {
			parts[i] = fn(r)
		}
		return strings.Join(parts, separator)
	}, nil
}
