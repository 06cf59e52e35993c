package util

import (
	"fmt"
	"strings"
)

// DefaultLogMaxLen caps broker/exchange bodies written to the log (512B).
const DefaultLogMaxLen = 512

// SecretMask is what settings views return in place of a stored secret.
const SecretMask = "••••••••••••••••"

// TruncateLog shortens s to maxLen bytes and notes the original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog with DefaultLogMaxLen for raw response bodies.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskToken keeps the last 6 characters of a bearer token for log lines.
func MaskToken(t string) string {
	if t == "" {
		return ""
	}
	if len(t) <= 12 {
		return "***"
	}
	return "..." + t[len(t)-6:]
}

// IsMasked reports whether a submitted secret is the mask echoed back by a
// settings form rather than a real value.
func IsMasked(s string) bool {
	return strings.Contains(s, "••••")
}
