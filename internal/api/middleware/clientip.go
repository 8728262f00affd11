package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address. X-Forwarded-For and X-Real-IP are honored only
// when the direct peer is inside one of trustedProxyCIDRs. Proxies append to
// X-Forwarded-For, so the list is read from the right and the first address outside the
// trusted ranges is the client; entries left of it are caller-supplied and ignored.
func ClientIP(r *http.Request, trustedProxyCIDRs []string) string {
	if r == nil {
		return ""
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trustedProxyCIDRs) {
		if ip, ok := forwardedClient(r.Header.Values("X-Forwarded-For"), trustedProxyCIDRs); ok {
			return ip
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	return remoteIP
}

// forwardedClient returns the rightmost untrusted address across all X-Forwarded-For
// header lines. A malformed hop stops the walk since nothing left of it can be trusted.
func forwardedClient(headers []string, trustedCIDRs []string) (string, bool) {
	var hops []string
	for _, h := range headers {
		for _, hop := range strings.Split(h, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}

	for i := len(hops) - 1; i >= 0; i-- {
		if net.ParseIP(hops[i]) == nil {
			return "", false
		}
		if !isTrustedProxy(hops[i], trustedCIDRs) {
			return hops[i], true
		}
	}
	return "", false
}

func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidrStr := range trustedCIDRs {
		_, cidr, err := net.ParseCIDR(strings.TrimSpace(cidrStr))
		if err != nil {
			continue
		}
		if cidr.Contains(parsedIP) {
			return true
		}
	}

	return false
}
