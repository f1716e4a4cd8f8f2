package audit

import (
	"net/netip"
	"regexp"
	"strings"
)

var (
	browserTokenRe = regexp.MustCompile(`(Chrome|Firefox|Safari|Edge)/[\d.]+`)
	osTokenRe      = regexp.MustCompile(`Windows|Mac OS X|macOS|Linux|Android|iOS`)
)

// MinimizeIP reduces an IP address to a network prefix: IPv4 addresses get a
// zeroed last octet, IPv6 addresses keep only the /64 prefix. Strings that do
// not parse as an IP (and empty strings) pass through unchanged.
func MinimizeIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ip
	}
	if addr.Is4() || addr.Is4In6() {
		b := addr.As4()
		b[3] = 0
		return netip.AddrFrom4(b).String()
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}

// MinimizeUserAgent keeps only the browser token and the OS token of a
// User-Agent string, discarding engine and detailed version strings. An
// unrecognized non-empty value becomes "unknown"; empty stays empty.
func MinimizeUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	var parts []string
	if browser := browserTokenRe.FindString(ua); browser != "" {
		parts = append(parts, browser)
	}
	if os := osTokenRe.FindString(ua); os != "" {
		parts = append(parts, os)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}
