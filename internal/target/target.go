// Package target vets caller supplied URLs before they are sent upstream.
//
// The private address check only applies to literal IP hostnames. Domain names
// that resolve to private ranges are not caught.
package target

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"
)

// Wire codes double as error text.
var (
	ErrInvalidURL      = errors.New("invalid_url")
	ErrForbiddenTarget = errors.New("forbidden_target")
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
}

var loopbackV6 = netip.MustParseAddr("::1")

// Validate parses raw and returns it when it is an absolute http(s) URL that
// does not name a private or loopback IP literal.
func Validate(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != schemeHTTP && scheme != schemeHTTPS) || parsed.Host == "" {
		return nil, ErrInvalidURL
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return nil, ErrInvalidURL
	}

	if IsPrivateIP(hostname) {
		return nil, ErrForbiddenTarget
	}

	return parsed, nil
}

// IsPrivateIP reports whether host is an IP literal inside one of the
// blocked ranges. Non-IP hostnames always report false.
func IsPrivateIP(host string) bool {
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}

	addr = addr.Unmap()
	if addr == loopbackV6 {
		return true
	}

	for _, prefix := range privatePrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}
