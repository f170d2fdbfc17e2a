package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive attribute values in emitted logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys never reach the log sink in clear text. Signatures and dispute
// evidence are client material; the rest are credentials.
var sensitiveKeys = map[string]struct{}{
	"signature":     {},
	"evidence":      {},
	"authorization": {},
	"token":         {},
	"secret":        {},
	"hmacsecret":    {},
	"passphrase":    {},
	"privatekey":    {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys lists the masked keys in sorted order.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns RedactedValue for any non-empty value.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute, masking it when key is sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// redactAttr is applied by the handler to every attribute, so callers that
// forget MaskField are still covered.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
