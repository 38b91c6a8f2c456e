package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// undefinedLiteral is the placeholder string some clients inject where a
// field should simply be absent; the upstream rejects requests carrying it.
const undefinedLiteral = "[undefined]"

// StripUndefined recursively removes JSON null, the literal string
// "[undefined]", and emptied-out sub-objects from a request tree before
// dispatch. This is the purity filter guarding the upstream envelope: after
// it runs, no null and no "[undefined]" survives at any depth.
func StripUndefined(data map[string]interface{}) {
	if data == nil {
		return
	}
	for key, val := range data {
		switch v := val.(type) {
		case nil:
			delete(data, key)
		case string:
			if v == undefinedLiteral {
				delete(data, key)
			}
		case map[string]interface{}:
			StripUndefined(v)
			if len(v) == 0 {
				delete(data, key)
			}
		case []interface{}:
			data[key] = stripUndefinedSlice(v)
		}
	}
}

func stripUndefinedSlice(arr []interface{}) []interface{} {
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			if v == undefinedLiteral {
				continue
			}
			out = append(out, v)
		case map[string]interface{}:
			StripUndefined(v)
			out = append(out, v)
		case []interface{}:
			out = append(out, stripUndefinedSlice(v))
		default:
			out = append(out, v)
		}
	}
	return out
}

// PruneNulls returns input with nil values removed from maps and arrays.
// Unlike StripUndefined it never drops empty containers, so a tool input
// of {} stays {}; some tools are legitimately argument-free.
func PruneNulls(input interface{}) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = PruneNulls(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, PruneNulls(item))
		}
		return out
	default:
		return input
	}
}

// CoerceToolArgs rewrites args in place so that values match the declared
// parameter types. Models sometimes return numbers and booleans as strings
// ("5", "true"); rather than bounce the tool call back, the gateway coerces
// what it safely can and leaves the rest alone.
func CoerceToolArgs(args map[string]interface{}, schema map[string]interface{}) {
	if args == nil || schema == nil {
		return
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}
	for key, val := range args {
		if propSchema, ok := props[key].(map[string]interface{}); ok {
			if coerced := coerceValue(val, propSchema); coerced != nil {
				args[key] = coerced
			}
		}
	}
}

func coerceValue(val interface{}, schema map[string]interface{}) interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		if m, ok := val.(map[string]interface{}); ok {
			for k, v := range m {
				if ps, ok := props[k].(map[string]interface{}); ok {
					if coerced := coerceValue(v, ps); coerced != nil {
						m[k] = coerced
					}
				}
			}
			return m
		}
		return val
	}

	declared, _ := schema["type"].(string)
	switch strings.ToLower(declared) {
	case "array":
		items, ok := schema["items"].(map[string]interface{})
		if !ok {
			return val
		}
		if arr, ok := val.([]interface{}); ok {
			for i, item := range arr {
				if coerced := coerceValue(item, items); coerced != nil {
					arr[i] = coerced
				}
			}
			return arr
		}
	case "number", "integer":
		if s, ok := val.(string); ok {
			// A leading zero usually means an identifier ("007"), not a number.
			if len(s) > 1 && strings.HasPrefix(s, "0") && !strings.HasPrefix(s, "0.") {
				return val
			}
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return float64(i)
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	case "boolean":
		switch v := val.(type) {
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes", "on":
				return true
			case "false", "0", "no", "off":
				return false
			}
		case float64:
			if v == 1 {
				return true
			}
			if v == 0 {
				return false
			}
		}
	case "string":
		if _, ok := val.(string); !ok && val != nil {
			return fmt.Sprintf("%v", val)
		}
	}
	return val
}
