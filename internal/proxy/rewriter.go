// Package proxy rewrites media URLs onto a trusted CORS proxy endpoint
package proxy

import (
	"net/url"
	"strings"
)

// DefaultLocalPrefix marks same-origin API paths that never need proxying
const DefaultLocalPrefix = "/api/"

// Rewriter maps arbitrary origin URLs onto the proxy endpoint.
// The zero value is not usable; build one with New.
type Rewriter struct {
	base        string
	marker      string
	localPrefix string
	trusted     []string
}

// Option customizes a Rewriter
type Option func(*Rewriter)

// WithLocalPrefix overrides the same-origin path prefix
func WithLocalPrefix(prefix string) Option {
	return func(r *Rewriter) {
		r.localPrefix = prefix
	}
}

// WithTrustedOrigins adds origins whose URLs are passed through unchanged
func WithTrustedOrigins(origins ...string) Option {
	return func(r *Rewriter) {
		for _, o := range origins {
			o = strings.TrimRight(strings.TrimSpace(o), "/")
			if o != "" {
				r.trusted = append(r.trusted, o)
			}
		}
	}
}

// New creates a Rewriter for the given proxy base, e.g.
// "https://hls.example.dev/proxy?url=". The target URL is appended query-escaped.
func New(base string, opts ...Option) *Rewriter {
	r := &Rewriter{
		base:        base,
		marker:      proxyMarker(base),
		localPrefix: DefaultLocalPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite returns the URL the media pipeline is allowed to fetch for raw.
// Already proxied, trusted and same-origin URLs are returned unchanged.
func (r *Rewriter) Rewrite(raw string) string {
	if raw == "" || r.base == "" {
		return raw
	}
	if r.IsProxied(raw) || r.isLocal(raw) || r.isTrusted(raw) {
		return raw
	}
	return r.base + url.QueryEscape(raw)
}

// Intercept is the request hook handed to streaming clients
func (r *Rewriter) Intercept(raw string) string {
	return r.Rewrite(raw)
}

// IsProxied reports whether raw already targets the proxy endpoint
func (r *Rewriter) IsProxied(raw string) bool {
	if r.marker == "" {
		return false
	}
	return strings.Contains(raw, r.marker)
}

// Unwrap returns the original target of a proxied URL, or raw itself
func (r *Rewriter) Unwrap(raw string) string {
	if !r.IsProxied(raw) {
		return raw
	}
	rest := raw[strings.Index(raw, r.marker)+len(r.marker):]
	if i := strings.Index(rest, "url="); i >= 0 {
		rest = rest[i+len("url="):]
	}
	if target, err := url.QueryUnescape(rest); err == nil {
		return target
	}
	return raw
}

func (r *Rewriter) isLocal(raw string) bool {
	return r.localPrefix != "" && strings.HasPrefix(raw, r.localPrefix)
}

func (r *Rewriter) isTrusted(raw string) bool {
	for _, origin := range r.trusted {
		if raw == origin || strings.HasPrefix(raw, origin+"/") {
			return true
		}
	}
	return false
}

// proxyMarker reduces the base to host+path so that scheme and query
// variations of an already proxied URL are still recognized
func proxyMarker(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		if i := strings.Index(base, "?"); i >= 0 {
			return base[:i]
		}
		return base
	}
	return u.Host + u.Path
}
