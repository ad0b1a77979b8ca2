// Package ssrf implements the scheme and IP-range guard required before any
// fetch is attempted (spec §4.1): reject any scheme other than http/https,
// reject literal private/loopback/link-local IPs, and reject "localhost".
package ssrf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateNetworks is the CIDR list from spec §4.1, grounded on the
// teacher's parse.go privateNetworks table, extended with the link-local
// and IPv6 ranges the spec additionally names.
var privateNetworks = []*net.IPNet{
	parseCIDR("10.0.0.0/8"),
	parseCIDR("172.16.0.0/12"),
	parseCIDR("192.168.0.0/16"),
	parseCIDR("127.0.0.0/8"),
	parseCIDR("169.254.0.0/16"),
	parseCIDR("fc00::/7"),
	parseCIDR("fe80::/10"),
}

var loopbackV6 = net.ParseIP("::1")

func parseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err.Error())
	}
	return n
}

// AllowedSchemes is the closed set of schemes the fetcher may act on.
var AllowedSchemes = map[string]bool{"http": true, "https": true}

// IsPrivateIP reports whether addr falls in any of the blocked ranges.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.Equal(loopbackV6) {
		return true
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckURL validates scheme and literal-IP/hostname restrictions that do
// not require a DNS lookup. It returns a non-nil error describing the
// rejection reason; callers surface this as INVALID_URL without ever
// invoking the fetcher.
func CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %v", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url must be absolute")
	}
	if !AllowedSchemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return nil, fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return nil, fmt.Errorf("host %q resolves to a blocked address range", host)
	}
	return u, nil
}

// CheckResolvedIP is applied after DNS resolution, against the actual IP
// the client is about to connect to, so a DNS rebind between the
// scheme/hostname check above and the real dial cannot smuggle a private
// address through (the teacher's fetcher.checkForBlacklisting ran this
// check against an already-established connection instead).
func CheckResolvedIP(ip net.IP) error {
	if IsPrivateIP(ip) {
		return fmt.Errorf("resolved address %v is in a blocked range", ip)
	}
	return nil
}
