package utils

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
)

// TrustProxyHeaders is a runtime feature toggle for proxy header trust.
// When false, ClientIP reports the socket peer and ignores every header,
// which is the safe posture when the service is directly exposed. Scan
// logs and rate-limit keys both go through ClientIP, so flipping this on
// behind an untrusted proxy lets clients spoof their identity.
var TrustProxyHeaders atomic.Bool

var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		if _, block, err := net.ParseCIDR(cidr); err == nil {
			privateIPBlocks = append(privateIPBlocks, block)
		}
	}
}

// ClientIP returns the best-effort client address. With proxy trust enabled
// it prefers CF-Connecting-IP, then the first public hop of X-Forwarded-For,
// then the single-address headers some proxies set instead.
func ClientIP(c *fiber.Ctx) string {
	if !TrustProxyHeaders.Load() {
		return c.IP()
	}

	if ip := validHeaderIP(c, "CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := forwardedClientIP(c.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	for _, header := range []string{"X-Real-IP", "X-Client-IP"} {
		if ip := validHeaderIP(c, header); ip != "" {
			return ip
		}
	}
	return c.IP()
}

// validHeaderIP returns the header value only when it parses as an address.
func validHeaderIP(c *fiber.Ctx, name string) string {
	raw := strings.TrimSpace(c.Get(name))
	if raw == "" || net.ParseIP(raw) == nil {
		return ""
	}
	return raw
}

// forwardedClientIP walks an X-Forwarded-For chain left to right and picks
// the first public address. When every hop is private (common on internal
// deployments), the first parseable entry is used instead.
func forwardedClientIP(chain string) string {
	if chain == "" {
		return ""
	}
	var fallback string
	for _, part := range strings.Split(chain, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" || strings.EqualFold(entry, "unknown") {
			continue
		}
		parsed := net.ParseIP(entry)
		if parsed == nil {
			continue
		}
		if IsPublicIP(parsed) {
			return entry
		}
		if fallback == "" {
			fallback = entry
		}
	}
	return fallback
}

// IsPublicIP reports whether ip is a routable public address.
func IsPublicIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}
