package tracker

import "strings"

// Normalize canonicalizes a company or role name for the dedup key:
// lowercase, trimmed, inner whitespace collapsed. Idempotent.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
