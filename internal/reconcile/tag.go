package reconcile

import "strings"

// Sentinel marks events written by celcal. Only events whose description
// contains it are ever listed for deletion.
const Sentinel = "[CELCAT EVENT]"

// Tag appends the sentinel to an event body.
func Tag(text string) string {
	return text + "\n\n" + Sentinel
}

// IsOwned reports whether a destination description carries the sentinel.
func IsOwned(description string) bool {
	return strings.Contains(description, Sentinel)
}
