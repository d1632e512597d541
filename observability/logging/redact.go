package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential values in log output.
const RedactedValue = "[REDACTED]"

// Key fragments that mark a log attribute as a credential. Matching is
// case-insensitive on the attribute key.
var sensitiveFragments = []string{
	"secret",
	"token",
	"password",
	"passphrase",
	"api_key",
	"apikey",
	"authorization",
	"dsn",
}

// IsSensitive reports whether key names a credential that must never be
// logged verbatim.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns the placeholder for non-empty values. Empty values pass
// through so operators can still see that a credential is unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField always masks value, whatever the key.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// redactAttr is applied by the JSON handler to every attribute so credentials
// logged under a sensitive key are masked even without MaskField.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
