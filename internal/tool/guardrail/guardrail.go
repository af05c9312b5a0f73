// Package guardrail screens tool inputs and outputs before they reach
// external systems or the model.
package guardrail

import (
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Config tunes the guardrail checks.
type Config struct {
	// AllowedSchemes for outbound URLs. Default http/https.
	AllowedSchemes []string
	// DeniedDomainSuffixes rejects hostnames ending in any entry.
	DeniedDomainSuffixes []string
	// MaxArgBytes caps the serialised size of a single string argument.
	MaxArgBytes int
	// MaxResultBytes caps tool output before truncation.
	MaxResultBytes int
}

// DefaultConfig returns the production guardrail settings.
func DefaultConfig() Config {
	return Config{
		AllowedSchemes: []string{"http", "https"},
		DeniedDomainSuffixes: []string{
			"localhost",
			".local",
			".internal",
			".corp",
			".lan",
			".intranet",
		},
		MaxArgBytes:    64 * 1024,
		MaxResultBytes: 100 * 1024,
	}
}

// Guard applies the configured checks.
type Guard struct {
	cfg     Config
	schemes map[string]bool
}

// New builds a Guard, filling zero config values with defaults.
func New(cfg Config) *Guard {
	defaults := DefaultConfig()
	if len(cfg.AllowedSchemes) == 0 {
		cfg.AllowedSchemes = defaults.AllowedSchemes
	}
	if cfg.DeniedDomainSuffixes == nil {
		cfg.DeniedDomainSuffixes = defaults.DeniedDomainSuffixes
	}
	if cfg.MaxArgBytes <= 0 {
		cfg.MaxArgBytes = defaults.MaxArgBytes
	}
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = defaults.MaxResultBytes
	}
	schemes := make(map[string]bool, len(cfg.AllowedSchemes))
	for _, s := range cfg.AllowedSchemes {
		schemes[strings.ToLower(s)] = true
	}
	return &Guard{cfg: cfg, schemes: schemes}
}

// ValidateURL rejects URLs that could reach internal infrastructure:
// non-http(s) schemes, denylisted hostnames, and IP literals in
// private, loopback, link-local or otherwise reserved ranges. IP
// literals are recognised in every inet_aton notation (dotted decimal,
// octal, hex, packed integer) as well as IPv6 and IPv4-mapped IPv6.
func (g *Guard) ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !g.schemes[scheme] {
		return fmt.Errorf("URL scheme %q is not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	for _, suffix := range g.cfg.DeniedDomainSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("host %q matches denied domain %q", host, suffix)
		}
	}

	if addr, ok := parseIPLiteral(host); ok {
		if reason := blockedAddr(addr); reason != "" {
			return fmt.Errorf("IP %s is %s", addr, reason)
		}
	}
	return nil
}

// parseIPLiteral recognises IP addresses in any notation a resolver
// would accept, including the legacy inet_aton forms that the strict
// parsers reject.
func parseIPLiteral(host string) (netip.Addr, bool) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), true
	}
	return parseLegacyIPv4(host)
}

// parseLegacyIPv4 implements inet_aton semantics: one to four parts,
// each decimal, octal (leading 0) or hex (0x); the final part fills
// the remaining bytes.
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return netip.Addr{}, false
	}
	values := make([]uint64, len(parts))
	for i, part := range parts {
		if part == "" {
			return netip.Addr{}, false
		}
		v, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return netip.Addr{}, false
		}
		values[i] = v
	}

	var packed uint64
	last := len(values) - 1
	for i := 0; i < last; i++ {
		if values[i] > 0xff {
			return netip.Addr{}, false
		}
		packed = packed<<8 | values[i]
	}
	remaining := 4 - last
	if values[last] >= 1<<(8*remaining) {
		return netip.Addr{}, false
	}
	packed = packed<<(8*remaining) | values[last]
	if packed > 0xffffffff {
		return netip.Addr{}, false
	}

	b := [4]byte{byte(packed >> 24), byte(packed >> 16), byte(packed >> 8), byte(packed)}
	return netip.AddrFrom4(b), true
}

var reservedV4 = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

func blockedAddr(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return "a loopback address"
	case addr.IsPrivate():
		return "a private address"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "a link-local address"
	case addr.IsUnspecified():
		return "the unspecified address"
	case addr.IsMulticast():
		return "a multicast address"
	}
	if addr.Is4() {
		for _, p := range reservedV4 {
			if p.Contains(addr) {
				return "a reserved address"
			}
		}
	}
	if addr.Is6() && !addr.IsGlobalUnicast() {
		return "a reserved address"
	}
	return ""
}

// bannedShellPatterns are substrings that make a shell command
// unconditionally rejected, independent of approval.
var bannedShellPatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){",
	"shutdown",
	"reboot",
	"> /dev/sd",
	"chmod -r 777 /",
	"| sh",
	"| bash",
	"/etc/passwd",
	"/etc/shadow",
}

// CheckShellCommand rejects destructive or exfiltrating command
// patterns.
func (g *Guard) CheckShellCommand(command string) error {
	normalised := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for _, pattern := range bannedShellPatterns {
		if strings.Contains(normalised, pattern) {
			return fmt.Errorf("command matches banned pattern %q", pattern)
		}
	}
	return nil
}

// CheckArgSize rejects oversized string arguments.
func (g *Guard) CheckArgSize(name, value string) error {
	if len(value) > g.cfg.MaxArgBytes {
		return fmt.Errorf("argument %s exceeds %d bytes", name, g.cfg.MaxArgBytes)
	}
	return nil
}

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[A-Za-z0-9\-._~+/]{8,}['"]?`),
}

// Redact masks credential and PII patterns in tool output before it
// reaches the model or the event stream.
func (g *Guard) Redact(text string) string {
	for _, p := range redactPatterns {
		text = p.ReplaceAllString(text, "[redacted]")
	}
	return text
}

// TruncationMarker is appended to truncated results so the model knows
// output was cut.
const TruncationMarker = "\n...[output truncated]"

// Truncate enforces the result byte budget, cutting on a rune
// boundary and appending the marker.
func (g *Guard) Truncate(text string) string {
	budget := g.cfg.MaxResultBytes
	if len(text) <= budget {
		return text
	}
	cut := budget
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker
}

func isRuneStart(b byte) bool {
	return b&0xc0 != 0x80
}
