package publicurl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ValidationError names the rule a candidate public base URL violated.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "public url: " + e.Rule
	}
	return fmt.Sprintf("public url: %s (%s)", e.Rule, e.Detail)
}

// Rule names. Keep stable; they surface in readiness reports.
const (
	RuleParse           = "unparseable url"
	RuleScheme          = "scheme must be https"
	RuleCredentials     = "embedded credentials not allowed"
	RulePath            = "path must be empty or /"
	RuleQuery           = "query and fragment not allowed"
	RuleHost            = "host required"
	RuleLocalName       = "loopback or local host name"
	RulePrivateSuffix   = "private network host suffix"
	RuleDisallowedIP    = "address in disallowed range"
	RuleUnresolvable    = "host does not resolve"
	RuleResolvesPrivate = "host resolves to disallowed address"
)

var localNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

var privateSuffixes = []string{
	".localhost",
	".local",
	".localdomain",
	".internal",
	".intranet",
	".lan",
	".home",
	".home.arpa",
	".corp",
	".private",
}

var disallowedPrefixes = mustPrefixes(
	// IPv4
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	// IPv6
	"::/96",
	"::1/128",
	"64:ff9b::/96",
	"100::/64",
	"2001::/32",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
	"ff00::/8",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Validate checks a candidate externally reachable base URL and returns its
// normalized origin (scheme://host[:port], lowercase, no trailing slash).
func Validate(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Rule: RuleParse, Detail: err.Error()}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", &ValidationError{Rule: RuleScheme, Detail: u.Scheme}
	}
	if u.User != nil {
		return "", &ValidationError{Rule: RuleCredentials}
	}
	if u.Path != "" && u.Path != "/" {
		return "", &ValidationError{Rule: RulePath, Detail: u.Path}
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", &ValidationError{Rule: RuleQuery}
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", &ValidationError{Rule: RuleHost}
	}
	if err := checkHost(host); err != nil {
		return "", err
	}

	origin := "https://" + strings.ToLower(u.Host)
	return strings.TrimSuffix(origin, "/"), nil
}

func checkHost(host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		if Disallowed(addr) {
			return &ValidationError{Rule: RuleDisallowedIP, Detail: addr.String()}
		}
		return nil
	}
	if _, ok := localNames[host]; ok {
		return &ValidationError{Rule: RuleLocalName, Detail: host}
	}
	for _, s := range privateSuffixes {
		if strings.HasSuffix(host, s) {
			return &ValidationError{Rule: RulePrivateSuffix, Detail: s}
		}
	}
	return nil
}

// Disallowed reports whether addr is loopback, private, link-local, CGNAT,
// multicast, reserved, documentation or benchmark space. Zoned addresses are
// always disallowed: a zone only makes sense on a local link, and
// netip.Prefix.Contains never matches one.
func Disallowed(addr netip.Addr) bool {
	if !addr.IsValid() || addr.Zone() != "" {
		return true
	}
	addr = addr.Unmap()
	for _, p := range disallowedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver is the subset of *net.Resolver used by CheckResolved.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// CheckResolved resolves the origin's host and fails if it does not resolve
// or if any address it resolves to is disallowed.
func CheckResolved(ctx context.Context, origin string, r Resolver) error {
	if r == nil {
		r = net.DefaultResolver
	}
	if _, err := Validate(origin); err != nil {
		return err
	}
	u, _ := url.Parse(origin)
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")

	if addr, err := netip.ParseAddr(host); err == nil {
		if Disallowed(addr) {
			return &ValidationError{Rule: RuleDisallowedIP, Detail: addr.String()}
		}
		return nil
	}

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return &ValidationError{Rule: RuleUnresolvable, Detail: err.Error()}
	}
	if len(addrs) == 0 {
		return &ValidationError{Rule: RuleUnresolvable, Detail: host}
	}
	for _, a := range addrs {
		if Disallowed(a) {
			return &ValidationError{Rule: RuleResolvesPrivate, Detail: a.Unmap().String()}
		}
	}
	return nil
}
