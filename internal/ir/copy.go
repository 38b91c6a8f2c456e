package ir

// DeepCopy clones a decoded-JSON value (maps, slices, primitives). The
// sanitizer and the purity filter both rewrite trees in place, so every
// entry point that promises not to mutate its input copies first.
func DeepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return val
	}
}

// CopyMap deep-copies a JSON object.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}
