// Package paginate detects pagination families on upstream responses
// and drives silent follow-on fetches under the original operation's
// identity. Fetched pages accumulate in a per-invocation cache that
// lives only for the viewing session.
package paginate

// Family names a recognized pagination style.
type Family string

const (
	FamilyNone   Family = ""
	FamilyCursor Family = "cursor"
	FamilyOffset Family = "offset"
	FamilyPage   Family = "page"
)

// dataKeys are the body keys checked, in order, for the page's data
// array.
var dataKeys = []string{"data", "results", "items", "records", "entries", "list", "rows", "objects"}

// Detection captures what the detector learned from one response.
type Detection struct {
	Family  Family
	DataKey string        // body key holding the array, empty for a bare array
	Data    []interface{} // extracted page data
	Cursor  string        // cursor family: id of the last item
	HasMore bool
}

// Detect classifies a successful response body against the issued
// arguments. Families are tried in a fixed order; the first match
// wins, and no match reports HasMore=false.
func Detect(args map[string]interface{}, body interface{}) Detection {
	data, dataKey := extractData(body)
	det := Detection{DataKey: dataKey, Data: data}

	obj, _ := body.(map[string]interface{})

	// Cursor family: has_more plus a data array.
	if obj != nil && data != nil {
		if hasMore, ok := obj["has_more"].(bool); ok {
			det.Family = FamilyCursor
			det.HasMore = hasMore
			det.Cursor = lastItemID(data)
			if det.Cursor == "" {
				det.HasMore = false
			}
			return det
		}
	}

	// Offset family: limit/offset in the arguments or the body.
	if hasAnyKey(args, "offset", "limit") || hasScalarKey(obj, "offset") || hasScalarKey(obj, "limit") {
		det.Family = FamilyOffset
		det.HasMore = len(data) > 0 && fullPage(args, len(data))
		return det
	}

	// Page-number family.
	if hasAnyKey(args, "page") || hasScalarKey(obj, "page") || hasScalarKey(obj, "total_pages") {
		det.Family = FamilyPage
		det.HasMore = morePages(args, obj, len(data))
		return det
	}

	return det
}

// NextArgs produces the arguments for the follow-on fetch, overriding
// only pagination-related keys.
func (d Detection) NextArgs(args map[string]interface{}, fetchedCount int) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	switch d.Family {
	case FamilyCursor:
		out["starting_after"] = d.Cursor
	case FamilyOffset:
		out["offset"] = float64(intArg(args, "offset") + fetchedCount)
	case FamilyPage:
		page := intArg(args, "page")
		if page == 0 {
			page = 1
		}
		out["page"] = float64(page + 1)
	}
	return out
}

// extractData finds the page's data array: the first recognized body
// key holding an array, or the body itself when it is a bare array.
func extractData(body interface{}) ([]interface{}, string) {
	switch val := body.(type) {
	case []interface{}:
		return val, ""
	case map[string]interface{}:
		for _, key := range dataKeys {
			if arr, ok := val[key].([]interface{}); ok {
				return arr, key
			}
		}
	}
	return nil, ""
}

func lastItemID(data []interface{}) string {
	if len(data) == 0 {
		return ""
	}
	obj, ok := data[len(data)-1].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := obj["id"].(string)
	return id
}

func hasAnyKey(args map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := args[k]; ok {
			return true
		}
	}
	return false
}

func hasScalarKey(obj map[string]interface{}, key string) bool {
	if obj == nil {
		return false
	}
	switch obj[key].(type) {
	case float64, string:
		return true
	}
	return false
}

// fullPage guesses whether another offset page likely exists: the
// returned count met the requested limit.
func fullPage(args map[string]interface{}, count int) bool {
	limit := intArg(args, "limit")
	if limit == 0 {
		return false
	}
	return count >= limit
}

func morePages(args, obj map[string]interface{}, count int) bool {
	if obj != nil {
		if total, ok := obj["total_pages"].(float64); ok {
			page := float64(intArg(args, "page"))
			if page == 0 {
				if p, ok := obj["page"].(float64); ok {
					page = p
				} else {
					page = 1
				}
			}
			return page < total
		}
	}
	return count > 0
}

func intArg(args map[string]interface{}, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
