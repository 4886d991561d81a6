// CLAUDE:SUMMARY Endpoint validation (scheme allow-list, SSRF guard), room-name checks and bounded reads shared by transports.
// Package safe holds the small guards every network-facing part of docsync
// goes through: endpoint URL validation, identifier checks and bounded reads.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrSSRF is returned when an endpoint targets a private or loopback address
	// and private targets were not allowed.
	ErrSSRF = errors.New("safe: endpoint targets a private or loopback address")

	// ErrUnsafeScheme is returned when an endpoint scheme is not allowed.
	ErrUnsafeScheme = errors.New("safe: endpoint scheme not allowed")

	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("safe: payload too large")
)

// HTTPSchemes and WebSocketSchemes are the allow-lists used by the transports.
var (
	HTTPSchemes      = []string{"http", "https"}
	WebSocketSchemes = []string{"ws", "wss"}
)

// ValidateEndpoint parses rawURL and checks its scheme against schemes. When
// allowPrivate is false, hosts resolving to loopback, link-local or private
// ranges are rejected. A DNS failure is not an error: the dial will fail anyway.
func ValidateEndpoint(rawURL string, schemes []string, allowPrivate bool) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("safe: invalid endpoint: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	ok := false
	for _, s := range schemes {
		if s == scheme {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("safe: endpoint %q has no host", rawURL)
	}
	if allowPrivate {
		return u, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return nil, ErrSSRF
		}
		return u, nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return u, nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return nil, ErrSSRF
		}
	}
	return u, nil
}

// ValidateIdentifier rejects room and service names unsuitable for URL path
// segments and SQL keys. Allows alphanumerics, underscore, hyphen and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("safe: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("safe: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7", "100.64.0.0/10")

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
