package common

import (
	"strings"
)

// ParseCookieString parses browser-exported cookies into a name/value map.
// Two formats are accepted: the Cookie-header form ("a=1; b=2") and the
// newline-delimited form produced by copy/paste from devtools ("a=1\nb=2").
// Entries without an "=" are skipped; values may themselves contain "=".
func ParseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cookies
	}

	var parts []string
	if strings.Contains(raw, "\n") {
		parts = strings.Split(raw, "\n")
	} else {
		parts = strings.Split(raw, ";")
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		cookies[name] = strings.TrimSpace(value)
	}

	return cookies
}
