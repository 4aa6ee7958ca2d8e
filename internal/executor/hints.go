package executor

import (
	"fmt"
	"path"

	"github.com/actionchat/actionchat/pkg/models"
)

// ApplyArgHints rewrites call arguments per the source template's
// runtime hints. Currently one rewrite exists: list expansion injects a
// default expand parameter on matching tools when the model omitted it.
func ApplyArgHints(hints *models.RuntimeHints, toolName string, args map[string]interface{}) map[string]interface{} {
	if hints == nil || hints.ListExpansion == nil {
		return args
	}
	exp := hints.ListExpansion
	if exp.Param == "" || len(exp.Default) == 0 {
		return args
	}
	if exp.ToolGlob != "" {
		if ok, _ := path.Match(exp.ToolGlob, toolName); !ok {
			return args
		}
	}
	if _, present := args[exp.Param]; present {
		return args
	}
	out := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	vals := make([]interface{}, len(exp.Default))
	for i, d := range exp.Default {
		vals[i] = d
	}
	out[exp.Param] = vals
	return out
}

// ApplyResponseHints post-processes an upstream body. unwrap_data
// replaces a {data: [...]} wrapper with its payload; detect_thin
// returns a warning when a list came back with id-only items, naming
// the enrichment tool when the template declares one.
func ApplyResponseHints(hints *models.RuntimeHints, body interface{}) (interface{}, string) {
	if hints == nil {
		return body, ""
	}

	out := body
	if hints.Response.UnwrapData {
		if obj, ok := out.(map[string]interface{}); ok {
			if data, present := obj["data"]; present {
				out = data
			}
		}
	}

	var warning string
	if hints.Response.DetectThin && isThinList(out) {
		warning = "Warning: list items contain only ids."
		if hints.FetchEnrichment != "" {
			warning = fmt.Sprintf(
				"Warning: list items contain only ids. Call %s per item to fetch full records.",
				hints.FetchEnrichment)
		}
	}
	return out, warning
}

// isThinList reports whether the body is a non-empty array whose
// object items all carry nothing beyond an id.
func isThinList(body interface{}) bool {
	var items []interface{}
	switch val := body.(type) {
	case []interface{}:
		items = val
	case map[string]interface{}:
		arr, ok := val["data"].([]interface{})
		if !ok {
			return false
		}
		items = arr
	default:
		return false
	}
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		if _, hasID := obj["id"]; !hasID || len(obj) > 1 {
			return false
		}
	}
	return true
}
