package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address used to key per-client limits. The first
// parseable X-Forwarded-For entry wins, then X-Real-IP, then RemoteAddr.
// Garbage in the forwarding headers is skipped rather than used as a key.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip, ok := parseIP(part); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	if ip, ok := parseIP(r.RemoteAddr); ok {
		return ip
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// parseIP accepts "1.2.3.4", "1.2.3.4:80", "::1" and "[::1]:80".
func parseIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
