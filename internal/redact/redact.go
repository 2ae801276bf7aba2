// Package redact masks secrets in request headers and cookies before they
// are written to the audit log.
package redact

import "strings"

// Mask replaces the value of a sensitive header.
const Mask = "***REDACTED***"

const cookieKeep = 4

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"x-auth-token":  {},
	"api-key":       {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"apikey":        {},
}

// SensitiveHeader reports whether a header value must not be persisted.
func SensitiveHeader(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := sensitiveHeaders[n]; ok {
		return true
	}
	return strings.Contains(n, "auth")
}

// Headers returns a copy of h with sensitive values replaced by Mask.
func Headers(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if SensitiveHeader(k) {
			out[k] = Mask
			continue
		}
		out[k] = v
	}
	return out
}

// Cookies returns a copy of c where every value keeps at most its first four
// characters followed by "***". Values of four characters or fewer become
// "***".
func Cookies(c map[string]string) map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = Cookie(v)
	}
	return out
}

// Cookie masks a single cookie value.
func Cookie(v string) string {
	r := []rune(v)
	if len(r) <= cookieKeep {
		return "***"
	}
	return string(r[:cookieKeep]) + "***"
}
