package models

import (
	"strings"
)

// maxToolNameLen bounds the sanitized name portion of a tool identifier;
// with the separator and 8-char ID suffix the full identifier stays ≤ 64
// characters, the limit most model providers place on tool names.
const maxToolNameLen = 55

// SanitizeToolName replaces every non-alphanumeric, non-underscore rune
// with '_', collapses runs of underscores, and truncates to max runes.
func SanitizeToolName(name string, max int) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	s := strings.Trim(b.String(), "_")
	if len(s) > max {
		s = strings.TrimRight(s[:max], "_")
	}
	if s == "" {
		s = "tool"
	}
	return s
}

// ShortID returns the first n characters of an identifier with hyphens
// stripped, so UUIDs shorten predictably.
func ShortID(id string, n int) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > n {
		id = id[:n]
	}
	return id
}

// ToolIdentifier builds the wire name the model calls an operation by:
// sanitize(name, 55) + "_" + shortId(toolId, 8). Upper bound 64 chars.
func ToolIdentifier(name, toolID string) string {
	return SanitizeToolName(name, maxToolNameLen) + "_" + ShortID(toolID, 8)
}

// ToolIDSuffix extracts the short-ID suffix from a wire tool name, or ""
// when the name carries none.
func ToolIDSuffix(wireName string) string {
	i := strings.LastIndex(wireName, "_")
	if i < 0 || i == len(wireName)-1 {
		return ""
	}
	return wireName[i+1:]
}
