package model

import (
	"net"
	"strings"
)

// NormalizeIP validates an IPv4 or IPv6 address and returns its canonical
// text form, so that one address always maps to one store key.
func NormalizeIP(s string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return "", Invalid("malformed IP address %q", s)
	}
	return ip.String(), nil
}
