package adapters

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// FormEncode serializes nested arguments with bracket notation the way
// form-first APIs expect: parent[child]=v, arrays as parent[0]=v,
// objects in arrays as parent[0][child]=v. Null values are skipped.
// Output is sorted by key for stable requests.
func FormEncode(args map[string]interface{}) string {
	values := url.Values{}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flattenForm(values, k, args[k])
	}
	return values.Encode()
}

func flattenForm(values url.Values, key string, v interface{}) {
	switch val := v.(type) {
	case nil:
		// skipped
	case map[string]interface{}:
		childKeys := make([]string, 0, len(val))
		for k := range val {
			childKeys = append(childKeys, k)
		}
		sort.Strings(childKeys)
		for _, k := range childKeys {
			flattenForm(values, key+"["+k+"]", val[k])
		}
	case []interface{}:
		for i, item := range val {
			flattenForm(values, key+"["+strconv.Itoa(i)+"]", item)
		}
	default:
		values.Set(key, formScalar(val))
	}
}

func formScalar(v interface{}) string {
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
		return fmt.Sprintf("%v", val)
	}
}
