// Package outbound issues HTTP requests to the LLM backend while refusing any
// destination that resolves to a non-public address.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/telemetry"
)

var (
	// ErrSSRFBlocked marks a destination the guard refused. It is never retried.
	ErrSSRFBlocked = errors.New("outbound destination blocked")
	// ErrUnresolvable marks a host that could not be resolved. The request is refused,
	// but the condition may be transient.
	ErrUnresolvable = errors.New("outbound host could not be resolved")
)

// BlockedError describes why a destination was refused
type BlockedError struct {
	Host   string
	Addr   string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("outbound destination %s blocked: %s (%s)", e.Host, e.Reason, e.Addr)
	}
	return fmt.Sprintf("outbound destination %s blocked: %s", e.Host, e.Reason)
}

func (e *BlockedError) Unwrap() error { return ErrSSRFBlocked }

// Resolver looks up every address of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// AddressPolicy returns a non-empty reason when addr must not be contacted
type AddressPolicy func(addr netip.Addr) string

// reservedPrefixes are special-purpose ranges that netip's predicates do not cover
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("2002::/16"),
}

// PublicOnly refuses private, loopback, link-local, multicast and reserved addresses
func PublicOnly(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid() || addr.IsUnspecified():
		return "unspecified address"
	case addr.IsLoopback():
		return "loopback address"
	case addr.IsPrivate():
		return "private address"
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return "link-local address"
	case addr.IsMulticast() || addr.IsInterfaceLocalMulticast():
		return "multicast address"
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return "reserved address"
		}
	}
	return ""
}

type verdict struct {
	err error
}

// Guard validates destination URLs. Verdicts are cached per host for a short TTL.
type Guard struct {
	resolver Resolver
	policy   AddressPolicy
	cache    *expirable.LRU[string, verdict]
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithResolver replaces the system resolver
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) { g.resolver = r }
}

// WithAddressPolicy replaces PublicOnly
func WithAddressPolicy(p AddressPolicy) GuardOption {
	return func(g *Guard) { g.policy = p }
}

// WithCache sets the verdict cache size and TTL. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if size <= 0 {
			g.cache = nil
			return
		}
		g.cache = expirable.NewLRU[string, verdict](size, nil, ttl)
	}
}

// WithMetrics records refusals
func WithMetrics(m *telemetry.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a Guard using the system resolver and PublicOnly
func NewGuard(log *zap.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		policy:   PublicOnly,
		cache:    expirable.NewLRU[string, verdict](64, nil, time.Minute),
		logger:   logger.OrNop(log).Named("outbound"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateURL refuses raw unless it is an http(s) URL whose host resolves only to
// addresses the policy accepts. Any address failing the policy refuses the whole URL.
func (g *Guard) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return g.refuse(&BlockedError{Host: "<unparseable>", Reason: "invalid url"})
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return g.refuse(&BlockedError{Host: u.Host, Reason: "scheme not allowed"})
	}
	host := u.Hostname()
	if host == "" {
		return g.refuse(&BlockedError{Reason: "missing host"})
	}
	return g.ValidateHost(ctx, host)
}

// ValidateHost applies the address policy to every address of host
func (g *Guard) ValidateHost(ctx context.Context, host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if g.cache != nil {
		if v, ok := g.cache.Get(host); ok {
			return v.err
		}
	}

	err := g.check(ctx, host)
	// resolution failures are not cached so a transient DNS error clears on the next attempt
	if g.cache != nil && !errors.Is(err, ErrUnresolvable) {
		g.cache.Add(host, verdict{err: err})
	}
	return err
}

func (g *Guard) check(ctx context.Context, host string) error {
	var addrs []netip.Addr
	if literal, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		addrs = []netip.Addr{literal}
	} else {
		resolved, err := g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			g.logger.Warn("outbound_resolve_failed",
				zap.String("host", host),
				zap.String("error", logger.SanitizeError(err)),
			)
			return fmt.Errorf("%w: %s", ErrUnresolvable, host)
		}
		addrs = resolved
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s", ErrUnresolvable, host)
	}
	for _, addr := range addrs {
		if err := g.CheckAddr(host, addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr applies the address policy to a single, already resolved address
func (g *Guard) CheckAddr(host string, addr netip.Addr) error {
	if reason := g.policy(addr); reason != "" {
		return g.refuse(&BlockedError{Host: host, Addr: addr.String(), Reason: reason})
	}
	return nil
}

func (g *Guard) refuse(err *BlockedError) error {
	g.metrics.ObserveBlocked()
	g.logger.Warn("outbound_destination_blocked",
		zap.String("host", err.Host),
		zap.String("addr", err.Addr),
		zap.String("reason", err.Reason),
	)
	return err
}
