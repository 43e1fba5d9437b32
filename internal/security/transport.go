// Package security guards the relay's outbound webhook traffic against
// server-side request forgery. Every dial and redirect is checked against a
// blocklist of loopback, link-local, private and metadata ranges.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 500 * time.Millisecond

var (
	ErrSSRFBlocked          = errors.New("ssrf: request to blocked IP range")
	ErrSSRFDNSTimeout       = errors.New("ssrf: DNS resolution timeout")
	ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")
	ErrSSRFDNSFailed        = errors.New("ssrf: DNS resolution failed")
)

// BlockedCIDRs are refused unless explicitly allowed.
var BlockedCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard decides which addresses outbound requests may reach.
type Guard struct {
	blocked  []*net.IPNet
	resolver Resolver
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) { g.resolver = r }
}

// AllowPrivate disables the blocklist. Used when the operator points the
// webhook at an internal service on purpose.
func AllowPrivate() GuardOption {
	return func(g *Guard) { g.blocked = nil }
}

// NewGuard parses BlockedCIDRs.
func NewGuard(opts ...GuardOption) (*Guard, error) {
	g := &Guard{resolver: net.DefaultResolver}
	for _, cidr := range BlockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("ssrf: failed to parse CIDR %q: %w", cidr, err)
		}
		g.blocked = append(g.blocked, ipNet)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Blocked reports whether ip falls in a refused range.
func (g *Guard) Blocked(ip net.IP) bool {
	for _, ipNet := range g.blocked {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// resolve returns the addresses for host after checking every one of them,
// so a safe address mixed with a private one is still refused.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if g.Blocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
		return []net.IP{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if g.Blocked(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, a.IP, host)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// DialContext resolves and validates before connecting to the first address.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	ips, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect function enforcing the
// redirect limit and validating every hop.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrSSRFBlocked)
		}
		_, err := g.resolve(req.Context(), host)
		return err
	}
}

// ValidateURL is the pre-flight check run when the webhook channel is
// configured, so a bad URL fails at startup instead of on first delivery.
func (g *Guard) ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("%w: unable to extract host from URL", ErrSSRFBlocked)
	}
	_, err = g.resolve(ctx, parsed.Hostname())
	return err
}

// NewSafeHTTPClient creates an http.Client whose transport dials through g.
func (g *Guard) NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = g.DialContext
	base.Proxy = nil

	return &http.Client{
		Transport:     base,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}

// IsSSRFError reports whether err came from the guard.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) ||
		errors.Is(err, ErrSSRFDNSTimeout) ||
		errors.Is(err, ErrSSRFTooManyRedirects) ||
		errors.Is(err, ErrSSRFDNSFailed)
}
