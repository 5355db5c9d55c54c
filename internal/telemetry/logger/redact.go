package logger

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are substrings of attribute keys whose values never reach
// the log, such as gossip.secret_key or an operator's keypair path.
var sensitiveKeys = []string{"secret", "password", "token", "credential", "private_key", "keypair"}

const redactedValue = "***REDACTED***"

// redact is the handlers' ReplaceAttr. slog calls it for every leaf
// attribute, group members included. Empty values are left alone so a
// missing secret stays visible.
func redact(_ []string, a slog.Attr) slog.Attr {
	if !IsSensitiveKey(a.Key) {
		return a
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if v.String() == "" {
			return a
		}
	case slog.KindAny:
		if b, ok := v.Any().([]byte); ok && len(b) == 0 {
			return a
		}
	}
	return slog.String(a.Key, redactedValue)
}

// IsSensitiveKey reports whether values logged under key are redacted.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
