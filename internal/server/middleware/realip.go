package middleware

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies rewrites r.RemoteAddr from X-Forwarded-For or X-Real-IP,
// but only when the connecting peer lies inside one of proxies. The client
// is the rightmost X-Forwarded-For hop that is not itself a trusted proxy.
// Requests from any other peer keep their socket address, so a client
// cannot choose the address that blocks and session binding are keyed on.
func TrustedProxies(proxies []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(proxies) > 0 && trusted(proxies, peerIP(r.RemoteAddr)) {
				if ip := forwardedFor(r, proxies); ip != "" {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

func trusted(proxies []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// forwardedFor returns the client address claimed by the proxy chain, or ""
// when the headers carry nothing usable.
func forwardedFor(r *http.Request, proxies []*net.IPNet) string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	if len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(hops[i])
			if ip == nil {
				return ""
			}
			if i == 0 || !trusted(proxies, ip) {
				return ip.String()
			}
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}
