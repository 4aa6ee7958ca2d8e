package executor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Caps on what flows back into the model. The full response body still
// reaches the ActionRecord and the UI.
const (
	LLMSummaryCap = 500
	ErrCap        = 2048
)

// listKeys are the body keys recognized as the data array of a
// list-shaped response, checked in order.
var listKeys = []string{"data", "results", "items", "records", "entries", "list", "rows", "objects"}

// SummarizeForLLM condenses a response body into the short string the
// model sees. Success summaries stay under LLMSummaryCap; errors carry
// the truncated body up to ErrCap.
func SummarizeForLLM(body interface{}, status int) string {
	if status < 200 || status >= 300 {
		return errorSummary(body, status)
	}
	return capSummary(successSummary(body))
}

func errorSummary(body interface{}, status int) string {
	raw := rawBodyText(body)
	if len(raw) > ErrCap {
		raw = raw[:ErrCap]
	}
	return fmt.Sprintf("HTTP %d Error:\n%s", status, raw)
}

func successSummary(body interface{}) string {
	obj, ok := body.(map[string]interface{})
	if !ok {
		if arr, ok := body.([]interface{}); ok {
			return listSummary(arr, false)
		}
		return "Success"
	}

	// List-shaped: {data: [...], has_more}.
	for _, key := range listKeys {
		if arr, ok := obj[key].([]interface{}); ok {
			hasMore, _ := obj["has_more"].(bool)
			return listSummary(arr, hasMore)
		}
	}

	// Single object with an id.
	if id, ok := obj["id"].(string); ok {
		kind, _ := obj["object"].(string)
		if kind == "" {
			kind, _ = obj["type"].(string)
		}
		if kind == "" {
			kind = "object"
		}
		if label := displayLabel(obj); label != "" {
			return fmt.Sprintf("Success: %s %s (%s)", kind, id, label)
		}
		return fmt.Sprintf("Success: %s %s", kind, id)
	}

	// Generic object.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	if len(keys) > 5 {
		return fmt.Sprintf("Success: object with %d fields", len(keys))
	}
	sort.Strings(keys)
	return "Success: {" + strings.Join(keys, ", ") + "}"
}

func listSummary(arr []interface{}, hasMore bool) string {
	s := fmt.Sprintf("Success: %d items returned", len(arr))
	if hasMore {
		s += "; has_more: true"
	}
	if len(arr) == 0 {
		return s
	}
	first, ok := arr[0].(map[string]interface{})
	if !ok {
		return s
	}
	id, _ := first["id"].(string)
	if id == "" {
		return s
	}
	kind, _ := first["object"].(string)
	if kind == "" {
		kind = "item"
	}
	if label := displayLabel(first); label != "" {
		return s + fmt.Sprintf(". First: %s (%s: %s)", id, kind, label)
	}
	return s + fmt.Sprintf(". First: %s (%s)", id, kind)
}

// displayLabel picks the friendliest identifying field.
func displayLabel(obj map[string]interface{}) string {
	for _, key := range []string{"name", "email", "description"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func capSummary(s string) string {
	if len(s) <= LLMSummaryCap {
		return s
	}
	return s[:LLMSummaryCap]
}

func rawBodyText(body interface{}) string {
	switch val := body.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}:
		if text, ok := val["text"].(string); ok && len(val) == 1 {
			return text
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf("%v", body)
	}
	return string(data)
}
