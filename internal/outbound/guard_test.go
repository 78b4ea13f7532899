package outbound

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
	calls atomic.Int32
}

func (f *fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	f.calls.Add(1)
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{addrs: map[string][]netip.Addr{
		"api.example.com": {
			netip.MustParseAddr("93.184.216.34"),
			netip.MustParseAddr("2606:2800:220:1:248:1893:25c8:1946"),
		},
		"split.example.com": {
			netip.MustParseAddr("93.184.216.34"),
			netip.MustParseAddr("fd12:3456::1"),
		},
		"internal.example.com": {netip.MustParseAddr("192.168.1.20")},
		"metadata.example.com": {netip.MustParseAddr("169.254.169.254")},
	}}
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		url         string
		wantBlocked bool
		wantErr     error
	}{
		{name: "public hostname", url: "https://api.example.com/v1"},
		{name: "ipv4 loopback", url: "http://127.0.0.1/x", wantBlocked: true},
		{name: "rfc1918", url: "http://10.0.0.5/x", wantBlocked: true},
		{name: "ipv6 loopback", url: "http://[::1]/x", wantBlocked: true},
		{name: "ipv6 link-local", url: "http://[fe80::1]/x", wantBlocked: true},
		{name: "ipv6 unique local", url: "http://[fc00::1]/x", wantBlocked: true},
		{name: "ipv4-mapped loopback", url: "http://[::ffff:127.0.0.1]/x", wantBlocked: true},
		{name: "unspecified", url: "http://0.0.0.0/x", wantBlocked: true},
		{name: "carrier-grade nat", url: "http://100.64.1.1/x", wantBlocked: true},
		{name: "public literal", url: "https://93.184.216.34/v1"},
		{name: "hostname resolving to private", url: "https://internal.example.com/v1", wantBlocked: true},
		{name: "hostname resolving to metadata service", url: "http://metadata.example.com/latest", wantBlocked: true},
		{name: "any non-public address rejects", url: "https://split.example.com/v1", wantBlocked: true},
		{name: "scheme not allowed", url: "ftp://api.example.com/file", wantBlocked: true},
		{name: "file scheme", url: "file:///etc/passwd", wantBlocked: true},
		{name: "missing host", url: "http:///path", wantBlocked: true},
		{name: "unresolvable", url: "https://nowhere.example.com/", wantErr: ErrUnresolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := NewGuard(zap.NewNop(), WithResolver(newFakeResolver()))
			err := g.ValidateURL(context.Background(), tt.url)

			switch {
			case tt.wantBlocked:
				if !errors.Is(err, ErrSSRFBlocked) {
					t.Errorf("ValidateURL(%s) error = %v, want ErrSSRFBlocked", tt.url, err)
				}
				var blocked *BlockedError
				if !errors.As(err, &blocked) {
					t.Errorf("ValidateURL(%s) error should be a *BlockedError", tt.url)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateURL(%s) error = %v, want %v", tt.url, err, tt.wantErr)
				}
				if errors.Is(err, ErrSSRFBlocked) {
					t.Errorf("ValidateURL(%s) resolution failure must not be reported as blocked", tt.url)
				}
			default:
				if err != nil {
					t.Errorf("ValidateURL(%s) error = %v, want nil", tt.url, err)
				}
			}
		})
	}
}

func TestValidateURLCachesVerdicts(t *testing.T) {
	t.Parallel()

	resolver := newFakeResolver()
	g := NewGuard(zap.NewNop(), WithResolver(resolver), WithCache(8, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.ValidateURL(ctx, "https://api.example.com/v1/chat/completions"); err != nil {
			t.Fatalf("ValidateURL() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := g.ValidateURL(ctx, "https://internal.example.com/"); !errors.Is(err, ErrSSRFBlocked) {
			t.Fatalf("ValidateURL() error = %v, want ErrSSRFBlocked", err)
		}
	}
	if got := resolver.calls.Load(); got != 2 {
		t.Errorf("resolver called %d times, want 2", got)
	}
}

func TestValidateURLDoesNotCacheResolutionFailures(t *testing.T) {
	t.Parallel()

	resolver := newFakeResolver()
	g := NewGuard(zap.NewNop(), WithResolver(resolver))
	ctx := context.Background()

	_ = g.ValidateURL(ctx, "https://late.example.com/")
	resolver.addrs["late.example.com"] = []netip.Addr{netip.MustParseAddr("93.184.216.34")}
	if err := g.ValidateURL(ctx, "https://late.example.com/"); err != nil {
		t.Errorf("ValidateURL() after DNS recovery error = %v, want nil", err)
	}
}

func TestPublicOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr    string
		blocked bool
	}{
		{addr: "8.8.8.8", blocked: false},
		{addr: "2001:4860:4860::8888", blocked: false},
		{addr: "127.0.0.53", blocked: true},
		{addr: "172.16.0.1", blocked: true},
		{addr: "192.168.0.1", blocked: true},
		{addr: "169.254.169.254", blocked: true},
		{addr: "224.0.0.1", blocked: true},
		{addr: "255.255.255.255", blocked: true},
		{addr: "198.51.100.7", blocked: true},
		{addr: "::", blocked: true},
		{addr: "fe80::abcd", blocked: true},
		{addr: "fd00::1", blocked: true},
		{addr: "2001:db8::1", blocked: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			reason := PublicOnly(netip.MustParseAddr(tt.addr))
			if (reason != "") != tt.blocked {
				t.Errorf("PublicOnly(%s) = %q, blocked want %v", tt.addr, reason, tt.blocked)
			}
		})
	}
}
