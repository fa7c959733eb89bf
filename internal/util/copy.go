package util

// CopyPayload deep-copies a telemetry event payload so bus consumers never
// observe later mutations by the emitter. Payloads are plain data: nested
// maps, slices, and scalars. Values of other types are passed through
// unchanged; emitters own keeping them immutable.
func CopyPayload(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	cpy := make(map[string]interface{}, len(src))
	for k, v := range src {
		cpy[k] = copyValue(v)
	}
	return cpy
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CopyPayload(val)
	case []interface{}:
		cpy := make([]interface{}, len(val))
		for i, e := range val {
			cpy[i] = copyValue(e)
		}
		return cpy
	case []string:
		cpy := make([]string, len(val))
		copy(cpy, val)
		return cpy
	case map[string]string:
		cpy := make(map[string]string, len(val))
		for k, e := range val {
			cpy[k] = e
		}
		return cpy
	default:
		return val
	}
}
