package executor

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/actionchat/actionchat/pkg/models"
)

// CleanArgs drops keys whose value is null, empty string, or empty
// array. Idempotent.
func CleanArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
		case []interface{}:
			if len(val) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// BuildURL materializes the request URL: base with trailing slashes
// stripped, path placeholders substituted with URL-encoded values, and
// remaining in=query args emitted as a stable-sorted query string.
// Returns the URL and the set of argument keys consumed.
func BuildURL(baseURL, path string, args map[string]interface{}, schema map[string]models.ParameterSpec) (string, map[string]bool) {
	base := strings.TrimRight(baseURL, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	consumed := make(map[string]bool)
	for name, spec := range schema {
		if spec.In != "path" {
			continue
		}
		v, ok := args[name]
		if !ok {
			continue
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(scalarString(v)))
		consumed[name] = true
	}

	query := url.Values{}
	queryKeys := make([]string, 0)
	for name, spec := range schema {
		if spec.In != "query" {
			continue
		}
		if _, ok := args[name]; ok {
			queryKeys = append(queryKeys, name)
		}
	}
	sort.Strings(queryKeys)
	for _, name := range queryKeys {
		appendQuery(query, name, args[name])
		consumed[name] = true
	}

	full := base + path
	if encoded := query.Encode(); encoded != "" {
		full += "?" + encoded
	}
	return full, consumed
}

// appendQuery flattens a query argument. Arrays repeat the key with a
// [] suffix; everything else serializes as a scalar.
func appendQuery(query url.Values, name string, v interface{}) {
	if arr, ok := v.([]interface{}); ok {
		for _, item := range arr {
			query.Add(name+"[]", scalarString(item))
		}
		return
	}
	query.Add(name, scalarString(v))
}

// BuildBody collects the request body object. With a declared body
// schema only its properties are taken; otherwise every argument not
// routed to the path or query is included. Empty body yields nil.
func BuildBody(args map[string]interface{}, schema map[string]models.ParameterSpec, bodySchema map[string]interface{}, consumed map[string]bool) map[string]interface{} {
	body := make(map[string]interface{})

	if props, ok := bodyProperties(bodySchema); ok {
		for name := range props {
			if v, present := args[name]; present && !consumed[name] {
				body[name] = v
			}
		}
	} else {
		for name, v := range args {
			if consumed[name] {
				continue
			}
			if spec, ok := schema[name]; ok && (spec.In == "path" || spec.In == "query") {
				continue
			}
			body[name] = v
		}
	}

	if len(body) == 0 {
		return nil
	}
	return body
}

func bodyProperties(bodySchema map[string]interface{}) (map[string]interface{}, bool) {
	if bodySchema == nil {
		return nil, false
	}
	props, ok := bodySchema["properties"].(map[string]interface{})
	if !ok || len(props) == 0 {
		return nil, false
	}
	return props, true
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
