package specparse

import (
	"strings"

	"github.com/actionchat/actionchat/pkg/models"
)

// Keyword rules for risk classification. Evaluated in order; the first
// matching rule wins.
var (
	dangerousKeywords = []string{
		"delete", "remove", "destroy", "drop", "truncate", "clear", "purge",
		"wipe", "reset", "revoke", "terminate", "kill", "cancel", "disable",
		"deactivate", "suspend", "ban", "block",
	}
	safePrefixes = []string{
		"get", "list", "read", "fetch", "query", "search", "find", "show",
		"describe", "inspect", "view", "check",
	}
	moderateKeywords = []string{
		"update", "modify", "edit", "change", "set", "patch", "write",
		"create", "insert", "add", "post", "put", "send", "execute", "run",
		"trigger", "invoke",
	}
)

// ClassifyRisk derives an operation's risk level from its name and
// description.
func ClassifyRisk(name, description string) models.RiskLevel {
	text := strings.ToLower(name + " " + description)
	for _, kw := range dangerousKeywords {
		if strings.Contains(text, kw) {
			return models.RiskDangerous
		}
	}
	lowerName := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range safePrefixes {
		if strings.HasPrefix(lowerName, prefix) {
			return models.RiskSafe
		}
	}
	for _, kw := range moderateKeywords {
		if strings.Contains(text, kw) {
			return models.RiskModerate
		}
	}
	return models.RiskSafe
}
