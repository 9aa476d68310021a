package errors

import "strings"

// Redact replaces every occurrence of the given secret values in s with
// "[REDACTED]". Provider error payloads can echo back tokens and client
// secrets, so every error message built from a provider response passes
// through here before logging or propagation. Empty secrets are skipped.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return s
}
