package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Canonicalize produces a deterministic string encoding of a key->value map,
// independent of map iteration order. Keys are sorted lexicographically and
// each pair is rendered as "key=value" with values formatted via %v, joined
// by "&". Nested maps are canonicalized recursively so a request fingerprint
// never depends on how the caller built its input map.
func Canonicalize(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonicalValue(m[k]))
	}
	return b.String()
}

func canonicalValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return "{" + Canonicalize(val) + "}"
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = canonicalValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Fingerprint computes the 16-hex-char cache key for a request, derived
// from a SHA-256 digest of the tool name and the canonicalized tool input.
// Two requests with the same tool name and an equal (order-independent)
// input map always produce the same fingerprint.
func Fingerprint(toolName string, toolInput map[string]any) string {
	sum := sha256.Sum256([]byte(toolName + "\x00" + Canonicalize(toolInput)))
	return hex.EncodeToString(sum[:8])
}

// Fingerprint returns the request's fingerprint.
func (r Request) Fingerprint() string {
	return Fingerprint(r.ToolName, r.ToolInput)
}
