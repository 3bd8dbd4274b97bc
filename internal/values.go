package internal

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	intRe   = regexp.MustCompile(`^[+-]?\d(?:_?\d)*$`)
	floatRe = regexp.MustCompile(`^[+-]?(?:\d(?:_?\d)*)[eE][+-]?\d+$|` +
		`^[+-]?(?:(?:\d(?:_?\d)*)?\.\d(?:_?\d)*|\d(?:_?\d)*\.)(?:[eE][+-]?\d+)?$`)
)

// parseScalar interprets a raw environment or dotenv value as a typed scalar.
//
// Empty input stays an empty string. Matching outer quotes are stripped first.
// Boolean and null word tokens are folded, JSON-looking payloads are decoded,
// and numeric literals (with optional `_` digit separators) become numbers.
// Anything else is returned as the original string.
func parseScalar(raw string) any {
	stripped := strings.TrimSpace(raw)
	if stripped == "" {
		return ""
	}

	value := stripMatchingQuotes(stripped)
	switch strings.ToLower(value) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	case "null", "none":
		return nil
	}

	if looksLikeJSON(value) {
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
		return value
	}

	if intRe.MatchString(value) {
		if n, err := strconv.ParseInt(strings.ReplaceAll(value, "_", ""), 10, 64); err == nil {
			return int(n)
		}
		return value
	}
	if floatRe.MatchString(value) {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(value, "_", ""), 64); err == nil {
			return f
		}
		return value
	}

	return value
}

func looksLikeJSON(value string) bool {
	return (strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}")) ||
		(strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"))
}

// stripMatchingQuotes removes one pair of identical outer quotes, if present.
func stripMatchingQuotes(value string) string {
	if len(value) >= 2 && value[0] == value[len(value)-1] && (value[0] == '\'' || value[0] == '"') {
		return value[1 : len(value)-1]
	}
	return value
}
