// Package urlguard validates user-supplied URLs against SSRF before the
// gateway ever dereferences them: spec URLs, upstream base URLs, and site
// URLs passed as registration metadata. Validation happens once, at
// registration time; there is no DNS re-validation on proxied calls (the
// upstream base URL is pinned as a string, not re-resolved per request).
package urlguard

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// Kind classifies why a URL was rejected.
type Kind string

const (
	KindInvalid       Kind = "invalid"
	KindScheme        Kind = "scheme"
	KindPrivate       Kind = "private"
	KindUnresolvable  Kind = "unresolvable"
)

// Error is returned by Validate on rejection.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func reject(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var blockedNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"127.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"::/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("urlguard: invalid CIDR: " + cidr)
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// blockedHostnames are rejected by name, without attempting resolution.
var blockedHostnames = map[string]struct{}{
	"localhost":                   {},
	"metadata.google.internal":    {},
}

// Resolver abstracts DNS lookups so tests can stub resolution. New uses
// net.DefaultResolver unless WithResolver overrides it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates URLs against the SSRF blocklist.
type Guard struct {
	resolver Resolver
	timeout  time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithResolver overrides the DNS resolver (for tests).
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithTimeout bounds DNS resolution.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// New creates a Guard using net.DefaultResolver unless overridden.
func New(opts ...Option) *Guard {
	g := &Guard{resolver: net.DefaultResolver, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate parses rawURL, checks its scheme, and rejects it if its
// hostname (literal or resolved) falls in a blocked range.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return reject(KindInvalid, "invalid URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return reject(KindScheme, "URL scheme must be http or https")
	}

	host := u.Hostname()
	if host == "" {
		return reject(KindInvalid, "invalid URL")
	}

	lower := strings.ToLower(host)
	if _, blocked := blockedHostnames[lower]; blocked {
		return reject(KindPrivate, "URL resolves to a private or reserved address")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return reject(KindPrivate, "URL resolves to a private or reserved address")
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return reject(KindUnresolvable, "could not resolve host")
	}

	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return reject(KindPrivate, "URL resolves to a private or reserved address")
		}
	}

	return nil
}

// isBlockedIP checks literal, resolved, and IPv4-mapped IPv6 forms against
// the blocked range table.
func isBlockedIP(ip net.IP) bool {
	if mapped := ip.To4(); mapped != nil {
		for _, n := range blockedNetworks {
			if n.Contains(mapped) {
				return true
			}
		}
		return false
	}
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
