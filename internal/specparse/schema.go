package specparse

// DeepCleanSchema strips empty values from a JSON schema map so it can
// be handed to model providers that reject nulls and empty containers.
// Idempotent: cleaning a cleaned schema is a no-op.
func DeepCleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		cleaned, keep := cleanValue(v)
		if keep {
			out[k] = cleaned
		}
	}
	return out
}

func cleanValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, val != ""
	case map[string]interface{}:
		cleaned := DeepCleanSchema(val)
		return cleaned, len(cleaned) > 0
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			if cleaned, keep := cleanValue(item); keep {
				out = append(out, cleaned)
			}
		}
		return out, len(out) > 0
	default:
		return val, true
	}
}
