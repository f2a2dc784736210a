package probe

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Addr builds the dial address for a router management endpoint.
//
// Inventories carry addresses in whatever form the operator typed: a bare
// host, "host:port", a bracketed IPv6 with port or a raw IPv6 without one.
// An explicit port in the address wins; otherwise port is used.
func Addr(address string, port int) (string, bool) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", false
	}

	// Raw IP (including unbracketed IPv6) carries no port.
	if ip, err := netip.ParseAddr(strings.Trim(a, "[]")); err == nil {
		if port <= 0 {
			return "", false
		}
		return net.JoinHostPort(ip.String(), strconv.Itoa(port)), true
	}

	if h, p, err := net.SplitHostPort(a); err == nil {
		if h == "" {
			return "", false
		}
		if n, err := strconv.Atoi(p); err != nil || n <= 0 || n > 65535 {
			return "", false
		}
		return net.JoinHostPort(h, p), true
	}

	if strings.Contains(a, ":") || port <= 0 {
		return "", false
	}
	return net.JoinHostPort(a, strconv.Itoa(port)), true
}
