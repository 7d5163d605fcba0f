package logger

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode/utf8"
)

// MaskFiller replaces the identifying part of masked values
const MaskFiller = "***"

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "[invalid-email]"
	}

	domain := parts[1]
	tld := ""
	if i := strings.LastIndex(domain, "."); i > 0 {
		tld = domain[i:]
		domain = domain[:i]
	}

	return firstRune(parts[0]) + MaskFiller + "@" + firstRune(domain) + MaskFiller + tld
}

func firstRune(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}

// MaskIdentity keeps the first two characters of an identity. Emails are
// masked with SanitizedEmail.
func MaskIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ""
	}
	if strings.Contains(identity, "@") {
		return SanitizedEmail(identity)
	}
	runes := []rune(identity)
	if len(runes) <= 2 {
		return MaskFiller
	}
	return string(runes[:2]) + MaskFiller
}

// MaskAddress keeps the network prefix of a client address: the first two
// octets of IPv4, the first two groups of IPv6
func MaskAddress(addr string) string {
	if addr == "" || addr == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(addr)
	if parsed == nil {
		return MaskIdentity(addr)
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%s", v4[0], v4[1], MaskFiller)
	}
	return fmt.Sprintf("%x:%x:%s", uint16(parsed[0])<<8|uint16(parsed[1]), uint16(parsed[2])<<8|uint16(parsed[3]), MaskFiller)
}

// MaskCode hides a presented access code completely. Only whether a value was
// presented survives.
func MaskCode(code string) string {
	if code == "" {
		return ""
	}
	return MaskFiller
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"code",
	"token",
	"secret",
	"api_key",
	"apikey",
	"email",
	"auth",
	"password",
}

// SanitizeQueryString reports whether the query string carries a sensitive
// parameter and should be redacted entirely
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
