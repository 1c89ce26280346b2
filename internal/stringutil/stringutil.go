// Package stringutil provides small string helpers shared across
// packages.
package stringutil

// TruncString shortens val to at most max runes, appending "..." when
// anything was cut. Log lines carry notification bodies and event
// payloads through here so a large body cannot flood the log.
func TruncString(val string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(val)
	if len(runes) <= max {
		return val
	}
	return string(runes[:max]) + "..."
}
