package ir

import (
	"fmt"
	"strings"
)

// SanitizeSchema prepares a client tool declaration's JSON Schema for the
// upstream. One pass serves both model families: reference inlining, allOf
// merging, union collapse, constraint migration, and keyword whitelisting
// are shared; forClaude additionally strips the keywords the Claude-family
// endpoint rejects and pins additionalProperties to false.
//
// The function is pure (the input map is never mutated) and idempotent:
// sanitizing twice yields the same schema as sanitizing once.
func SanitizeSchema(schema map[string]interface{}, forClaude bool) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := CopyMap(schema)

	defs := map[string]interface{}{}
	collectDefs(out, defs)
	delete(out, "$defs")
	delete(out, "definitions")
	inlineRefs(out, defs)

	sanitizeNode(out)

	if forClaude {
		stripClaudeUnsupported(out)
		out["additionalProperties"] = false
	}
	return out
}

// collectDefs gathers every $defs/definitions table in the tree so that
// inlineRefs can resolve local pointers wherever they appear, not only at
// the root.
func collectDefs(value interface{}, defs map[string]interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, table := range []string{"$defs", "definitions"} {
			if d, ok := v[table].(map[string]interface{}); ok {
				for name, def := range d {
					if _, exists := defs[name]; !exists {
						defs[name] = def
					}
				}
			}
		}
		for key, child := range v {
			if key != "$defs" && key != "definitions" {
				collectDefs(child, defs)
			}
		}
	case []interface{}:
		for _, item := range v {
			collectDefs(item, defs)
		}
	}
}

// inlineRefs replaces each "$ref": "#/$defs/Name" pointer with a copy of
// the referenced definition. A pointer that cannot be resolved degrades to
// a plain string field carrying a hint in its description, which the model
// can still act on, instead of failing the whole declaration.
func inlineRefs(node map[string]interface{}, defs map[string]interface{}) {
	if ref, ok := node["$ref"].(string); ok {
		delete(node, "$ref")
		segments := strings.Split(ref, "/")
		name := segments[len(segments)-1]
		if def, ok := defs[name].(map[string]interface{}); ok {
			for k, v := range def {
				if _, exists := node[k]; !exists {
					node[k] = DeepCopy(v)
				}
			}
			inlineRefs(node, defs) // the definition may itself carry refs
		} else {
			node["type"] = "string"
			appendDescription(node, fmt.Sprintf("(Unresolved $ref: %s)", ref))
		}
	}

	for _, child := range node {
		switch c := child.(type) {
		case map[string]interface{}:
			inlineRefs(c, defs)
		case []interface{}:
			for _, item := range c {
				if m, ok := item.(map[string]interface{}); ok {
					inlineRefs(m, defs)
				}
			}
		}
	}
}

// sanitizeNode rewrites one schema node in place and reports whether the
// node is effectively nullable (its type includes "null"), so the parent
// can drop it from its required list.
func sanitizeNode(schema map[string]interface{}) bool {
	nullable := false

	mergeAllOf(schema)

	// Children first: nullable properties must leave required before the
	// whitelist pass runs on this node.
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		nullableKeys := map[string]bool{}
		for key, child := range props {
			if m, ok := child.(map[string]interface{}); ok {
				if sanitizeNode(m) {
					nullableKeys[key] = true
				}
			}
		}
		if len(nullableKeys) > 0 {
			dropFromRequired(schema, nullableKeys)
		}
	} else if items, ok := schema["items"].(map[string]interface{}); ok {
		sanitizeNode(items)
	} else {
		for _, child := range schema {
			switch c := child.(type) {
			case map[string]interface{}:
				sanitizeNode(c)
			case []interface{}:
				for _, item := range c {
					if m, ok := item.(map[string]interface{}); ok {
						sanitizeNode(m)
					}
				}
			}
		}
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		if branches, ok := schema[key].([]interface{}); ok {
			for _, branch := range branches {
				if m, ok := branch.(map[string]interface{}); ok {
					sanitizeNode(m)
				}
			}
		}
	}

	collapseUnion(schema)

	if !looksLikeSchema(schema) {
		return nullable
	}

	migrateConstraints(schema)

	if c, ok := schema["const"]; ok {
		schema["enum"] = []interface{}{c}
		delete(schema, "const")
	}

	// Whitelist: everything the upstream is known to accept; the rest was
	// either migrated into the description above or is dropped outright.
	for key := range schema {
		switch key {
		case "type", "description", "properties", "required", "items", "enum", "title":
		default:
			delete(schema, key)
		}
	}

	// The upstream rejects an object declaration with no properties at all.
	if t, _ := schema["type"].(string); t == "object" {
		if props, _ := schema["properties"].(map[string]interface{}); len(props) == 0 {
			schema["properties"] = map[string]interface{}{
				"reason": map[string]interface{}{"type": "string", "description": "Reason for calling this tool"},
			}
			schema["required"] = []interface{}{"reason"}
		}
	}

	alignRequired(schema)
	nullable = normalizeType(schema)
	if nullable {
		appendDescription(schema, "(nullable)")
	}
	stringifyEnum(schema)

	return nullable
}

// mergeAllOf folds every allOf branch into the node itself: properties and
// required union, other keys first-wins.
func mergeAllOf(schema map[string]interface{}) {
	branches, ok := schema["allOf"].([]interface{})
	if !ok || len(branches) == 0 {
		return
	}
	delete(schema, "allOf")

	for _, branch := range branches {
		sub, ok := branch.(map[string]interface{})
		if !ok {
			continue
		}
		if props, ok := sub["properties"].(map[string]interface{}); ok {
			target, _ := schema["properties"].(map[string]interface{})
			if target == nil {
				target = map[string]interface{}{}
				schema["properties"] = target
			}
			for k, v := range props {
				if _, exists := target[k]; !exists {
					target[k] = DeepCopy(v)
				}
			}
		}
		if req, ok := sub["required"].([]interface{}); ok {
			schema["required"] = unionRequired(schema["required"], req)
		}
		for k, v := range sub {
			if k == "properties" || k == "required" || k == "allOf" {
				continue
			}
			if _, exists := schema[k]; !exists {
				schema[k] = DeepCopy(v)
			}
		}
	}
}

// collapseUnion resolves anyOf/oneOf on a node that has no concrete type
// of its own. A single-element union collapses to its element; a larger
// one is replaced by its most structured branch (object > array > typed
// scalar), which loses alternatives but keeps the declaration valid.
func collapseUnion(schema map[string]interface{}) {
	if t, _ := schema["type"].(string); t != "" && t != "object" {
		return
	}
	var branches []interface{}
	for _, key := range []string{"anyOf", "oneOf"} {
		if arr, ok := schema[key].([]interface{}); ok && branches == nil {
			branches = arr
		}
		delete(schema, key)
	}
	if len(branches) == 0 {
		return
	}

	best, bestScore := branches[0], -1
	for _, branch := range branches {
		if score := structureScore(branch); score > bestScore {
			best, bestScore = branch, score
		}
	}
	branch, ok := best.(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range branch {
		switch k {
		case "properties":
			target, _ := schema["properties"].(map[string]interface{})
			if target == nil {
				target = map[string]interface{}{}
				schema["properties"] = target
			}
			if props, ok := v.(map[string]interface{}); ok {
				for pk, pv := range props {
					if _, exists := target[pk]; !exists {
						target[pk] = DeepCopy(pv)
					}
				}
			}
		case "required":
			if req, ok := v.([]interface{}); ok {
				schema["required"] = unionRequired(schema["required"], req)
			}
		default:
			if _, exists := schema[k]; !exists {
				schema[k] = DeepCopy(v)
			}
		}
	}
}

func structureScore(branch interface{}) int {
	m, ok := branch.(map[string]interface{})
	if !ok {
		return 0
	}
	t, _ := m["type"].(string)
	if _, hasProps := m["properties"]; hasProps || t == "object" {
		return 3
	}
	if _, hasItems := m["items"]; hasItems || t == "array" {
		return 2
	}
	if t != "" && t != "null" {
		return 1
	}
	return 0
}

// migrateConstraints moves validation keywords the upstream rejects into a
// human-readable description suffix, so the model still sees them.
func migrateConstraints(schema map[string]interface{}) {
	labels := []struct{ field, label string }{
		{"minLength", "minLen"}, {"maxLength", "maxLen"}, {"pattern", "pattern"},
		{"minimum", "min"}, {"maximum", "max"}, {"multipleOf", "multipleOf"},
		{"exclusiveMinimum", "exclMin"}, {"exclusiveMaximum", "exclMax"},
		{"minItems", "minItems"}, {"maxItems", "maxItems"},
		{"propertyNames", "propertyNames"}, {"format", "format"},
	}
	var hints []string
	for _, c := range labels {
		if val, ok := schema[c.field]; ok && val != nil {
			hints = append(hints, fmt.Sprintf("%s: %v", c.label, val))
		}
	}
	if len(hints) == 0 {
		return
	}
	suffix := fmt.Sprintf(" [Constraint: %s]", strings.Join(hints, ", "))
	if desc, _ := schema["description"].(string); !strings.Contains(desc, suffix) {
		schema["description"] = desc + suffix
	}
}

// normalizeType forces type to a single lowercase string, preferring the
// first non-null entry of a type array. Reports whether "null" appeared.
func normalizeType(schema map[string]interface{}) bool {
	typeVal, ok := schema["type"]
	if !ok {
		return false
	}
	nullable := false
	selected := ""
	switch t := typeVal.(type) {
	case string:
		if lower := strings.ToLower(t); lower == "null" {
			nullable = true
		} else {
			selected = lower
		}
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if lower := strings.ToLower(s); lower == "null" {
					nullable = true
				} else if selected == "" {
					selected = lower
				}
			}
		}
	}
	if selected == "" {
		selected = "string"
	}
	schema["type"] = selected
	return nullable
}

// stringifyEnum renders non-string enum members as strings; the upstream
// only accepts string enums.
func stringifyEnum(schema map[string]interface{}) {
	members, ok := schema["enum"].([]interface{})
	if !ok {
		return
	}
	out := make([]interface{}, len(members))
	for i, v := range members {
		switch {
		case v == nil:
			out[i] = "null"
		default:
			if s, ok := v.(string); ok {
				out[i] = s
			} else {
				out[i] = fmt.Sprintf("%v", v)
			}
		}
	}
	schema["enum"] = out
}

// alignRequired drops required entries that name no declared property.
func alignRequired(schema map[string]interface{}) {
	req, ok := schema["required"].([]interface{})
	if !ok {
		return
	}
	props, _ := schema["properties"].(map[string]interface{})
	kept := []interface{}{}
	for _, r := range req {
		if name, ok := r.(string); ok {
			if _, exists := props[name]; exists {
				kept = append(kept, name)
			}
		}
	}
	if len(kept) == 0 {
		delete(schema, "required")
	} else {
		schema["required"] = kept
	}
}

func dropFromRequired(schema map[string]interface{}, names map[string]bool) {
	req, ok := schema["required"].([]interface{})
	if !ok {
		return
	}
	kept := []interface{}{}
	for _, r := range req {
		if name, ok := r.(string); ok && !names[name] {
			kept = append(kept, name)
		}
	}
	if len(kept) == 0 {
		delete(schema, "required")
	} else {
		schema["required"] = kept
	}
}

func unionRequired(existing interface{}, extra []interface{}) []interface{} {
	seen := map[string]bool{}
	out := []interface{}{}
	if arr, ok := existing.([]interface{}); ok {
		for _, r := range arr {
			if s, ok := r.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, r := range extra {
		if s, ok := r.(string); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func looksLikeSchema(schema map[string]interface{}) bool {
	for _, key := range []string{"type", "properties", "items", "enum", "anyOf", "oneOf", "allOf"} {
		if _, ok := schema[key]; ok {
			return true
		}
	}
	return false
}

func appendDescription(schema map[string]interface{}, hint string) {
	desc, _ := schema["description"].(string)
	if strings.Contains(desc, hint) {
		return
	}
	if desc != "" {
		desc += " "
	}
	schema["description"] = desc + hint
}

// stripClaudeUnsupported removes the keywords the Claude-family endpoint
// rejects over and above the shared pass. The set was collected from
// rejected declarations observed in production, not from the JSON Schema
// standard; schema_test.go documents it.
func stripClaudeUnsupported(schema map[string]interface{}) {
	for _, field := range []string{
		"$schema", "$id", "$anchor", "$comment", "$vocabulary",
		"$dynamicRef", "$dynamicAnchor",
		"if", "then", "else", "not",
		"dependentSchemas", "dependentRequired", "dependencies",
		"unevaluatedItems", "unevaluatedProperties",
		"contentEncoding", "contentMediaType", "contentSchema",
		"minProperties", "maxProperties",
		"default",
	} {
		delete(schema, field)
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, child := range props {
			if m, ok := child.(map[string]interface{}); ok {
				stripClaudeUnsupported(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		stripClaudeUnsupported(items)
	}
}
