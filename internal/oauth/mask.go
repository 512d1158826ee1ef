package oauth

import "strings"

const maskVisible = 4

// MaskToken hides a credential for diagnostics, keeping a short prefix and suffix
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= maskVisible*3 {
		return strings.Repeat("*", 8)
	}
	return token[:maskVisible] + "..." + token[len(token)-maskVisible:]
}
