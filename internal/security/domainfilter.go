package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned when a URL is rejected by a DomainFilter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// DomainFilterConfig lists the domains a DomainFilter accepts or rejects.
// Subdomains match: "example.com" also covers "www.example.com".
type DomainFilterConfig struct {
	// AllowDomains, when non-empty, restricts URLs to these domains.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains always wins over AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`
}

// DomainFilter screens outbound and user-visible URLs. Only http and https
// are accepted, and literal private or loopback addresses are always rejected.
type DomainFilter struct {
	allow []string
	deny  []string
}

// NewDomainFilter creates a filter from cfg.
func NewDomainFilter(cfg DomainFilterConfig) *DomainFilter {
	return &DomainFilter{
		allow: normalizeDomains(cfg.AllowDomains),
		deny:  normalizeDomains(cfg.DenyDomains),
	}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check returns nil when rawURL passes the filter and ErrURLBlocked otherwise.
// A nil filter only applies the scheme and address checks.
func (f *DomainFilter) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrURLBlocked, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}
	if host == "localhost" {
		return fmt.Errorf("%w: %s", ErrURLBlocked, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
			return fmt.Errorf("%w: %s (non-public address)", ErrURLBlocked, host)
		}
	}
	if f == nil {
		return nil
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}
	if len(f.allow) == 0 {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// Allowed is Check as a predicate.
func (f *DomainFilter) Allowed(rawURL string) bool {
	return f.Check(rawURL) == nil
}

// matchDomain reports whether host is domain or one of its subdomains.
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
