package internal

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// envKeySeparator is the two-character delimiter between env key segments.
const envKeySeparator = "__"

var (
	snakeStage1 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	snakeStage2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// foldKey normalizes a business key for comparison under the active case mode.
func foldKey(key string, caseSensitive bool) string {
	if caseSensitive {
		return key
	}
	return strings.ToLower(key)
}

// foldEquals compares two keys under the active case mode.
func foldEquals(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// hasPrefixFold reports whether value starts with prefix as a literal string,
// exactly or case-insensitively depending on the active case mode.
func hasPrefixFold(value, prefix string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.HasPrefix(value, prefix)
	}
	if len(value) < len(prefix) {
		return false
	}
	return strings.EqualFold(value[:len(prefix)], prefix)
}

// isControlRoot reports whether a path segment names the reserved control root.
func isControlRoot(segment string) bool {
	return strings.EqualFold(segment, controlRoot)
}

// keyToParts splits an environment key into nested path segments.
//
// Reserved control keys (CONTROL__*) bypass the business prefix and always fold
// case-insensitively. Business keys must carry the configured prefix (stripped as
// a literal match before segmentation). Keys producing any empty segment are
// dropped entirely.
func keyToParts(envKey, prefix string, caseSensitive bool, logger *zap.Logger) []string {
	reserved := strings.HasPrefix(strings.ToUpper(envKey), controlEnvPrefix)

	var keyPath string
	switch {
	case reserved:
		keyPath = envKey
	case prefix != "":
		if !hasPrefixFold(envKey, prefix, caseSensitive) {
			return nil
		}
		keyPath = envKey[len(prefix):]
		if strings.HasPrefix(strings.ToUpper(keyPath), controlEnvPrefix) {
			logger.Warn("ignoring env key: control keys must not carry the business prefix",
				zap.String("key", envKey),
				zap.String("prefix", prefix))
			return nil
		}
	default:
		keyPath = envKey
	}

	if keyPath == "" {
		return nil
	}

	raw := strings.Split(keyPath, envKeySeparator)
	for _, part := range raw {
		if part == "" {
			return nil
		}
	}

	if reserved || !caseSensitive {
		parts := make([]string, len(raw))
		for i, part := range raw {
			parts[i] = strings.ToLower(part)
		}
		return parts
	}
	return raw
}

// splitDottedPath splits a dotted section or lookup path into trimmed segments.
// Empty segments make the whole path invalid.
func splitDottedPath(raw string) ([]string, bool) {
	parts := strings.Split(raw, ".")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		parts[i] = part
	}
	return parts, true
}

// toSnakeCase derives a default section name from a type name (AppSettings -> app_settings).
func toSnakeCase(name string) string {
	stage1 := snakeStage1.ReplaceAllString(name, "${1}_${2}")
	stage2 := snakeStage2.ReplaceAllString(stage1, "${1}_${2}")
	return strings.ToLower(stage2)
}
