package ir

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mustJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return out
}

// The keyword drop set below is empirically derived: each entry appeared
// in a real client declaration the upstream rejected. The sanitizer's
// whitelist is the inverse statement of the same finding.
func TestSanitizeSchemaDropsRejectedKeywords(t *testing.T) {
	schema := mustJSON(t, `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"$id": "https://example.com/tool.json",
		"type": "object",
		"additionalProperties": false,
		"minProperties": 1,
		"properties": {
			"path": {"type": "string", "format": "uri", "minLength": 1},
			"count": {"type": "integer", "exclusiveMinimum": true, "minimum": 0}
		},
		"required": ["path"]
	}`)

	out := SanitizeSchema(schema, false)

	for _, key := range []string{"$schema", "$id", "additionalProperties", "minProperties"} {
		if _, ok := out[key]; ok {
			t.Errorf("%s should be dropped", key)
		}
	}
	path := out["properties"].(map[string]interface{})["path"].(map[string]interface{})
	if _, ok := path["format"]; ok {
		t.Error("format should be dropped from property schemas")
	}
	if _, ok := path["minLength"]; ok {
		t.Error("minLength should be dropped from property schemas")
	}
	// Dropped constraints are preserved as a description hint.
	if desc, _ := path["description"].(string); desc == "" {
		t.Error("dropped constraints should migrate into the description")
	}
}

func TestSanitizeSchemaIdempotent(t *testing.T) {
	fixtures := []string{
		`{"type": "object", "properties": {"a": {"type": ["string", "null"]}}, "required": ["a"]}`,
		`{"anyOf": [{"type": "object", "properties": {"x": {"type": "integer"}}}, {"type": "null"}]}`,
		`{"type": "object", "properties": {"p": {"$ref": "#/$defs/P"}}, "$defs": {"P": {"type": "string"}}}`,
		`{"allOf": [{"properties": {"a": {"type": "string"}}, "required": ["a"]}, {"properties": {"b": {"type": "integer"}}}], "type": "object"}`,
		`{"type": "object", "properties": {"n": {"type": "integer", "minimum": 0, "maximum": 10}}}`,
		`{"type": "object"}`,
	}
	for _, fixture := range fixtures {
		for _, forClaude := range []bool{false, true} {
			once := SanitizeSchema(mustJSON(t, fixture), forClaude)
			twice := SanitizeSchema(once, forClaude)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("sanitize not idempotent (claude=%v) for %s:\nonce:  %#v\ntwice: %#v", forClaude, fixture, once, twice)
			}
		}
	}
}

func TestSanitizeSchemaDoesNotMutateInput(t *testing.T) {
	original := mustJSON(t, `{"type": "object", "properties": {"a": {"type": "string", "format": "uri"}}}`)
	snapshot := mustJSON(t, `{"type": "object", "properties": {"a": {"type": "string", "format": "uri"}}}`)
	_ = SanitizeSchema(original, true)
	if !reflect.DeepEqual(original, snapshot) {
		t.Fatal("SanitizeSchema mutated its input")
	}
}

func TestSanitizeSchemaInlinesRefs(t *testing.T) {
	schema := mustJSON(t, `{
		"type": "object",
		"properties": {"loc": {"$ref": "#/$defs/Location"}},
		"$defs": {"Location": {"type": "object", "properties": {"lat": {"type": "number"}, "lng": {"type": "number"}}}}
	}`)
	out := SanitizeSchema(schema, false)

	if _, ok := out["$defs"]; ok {
		t.Error("$defs should be removed after inlining")
	}
	loc := out["properties"].(map[string]interface{})["loc"].(map[string]interface{})
	if loc["type"] != "object" {
		t.Fatalf("ref not inlined: %#v", loc)
	}
	if _, ok := loc["properties"].(map[string]interface{})["lat"]; !ok {
		t.Error("inlined definition lost its properties")
	}
}

func TestSanitizeSchemaUnresolvedRefDegrades(t *testing.T) {
	schema := mustJSON(t, `{"type": "object", "properties": {"x": {"$ref": "https://elsewhere/schema.json"}}}`)
	out := SanitizeSchema(schema, false)
	x := out["properties"].(map[string]interface{})["x"].(map[string]interface{})
	if x["type"] != "string" {
		t.Fatalf("unresolved ref should degrade to string, got %#v", x)
	}
}

func TestSanitizeSchemaCollapsesSingletonUnion(t *testing.T) {
	schema := mustJSON(t, `{"anyOf": [{"type": "object", "properties": {"q": {"type": "string"}}, "required": ["q"]}]}`)
	out := SanitizeSchema(schema, false)
	if out["type"] != "object" {
		t.Fatalf("singleton anyOf should collapse to its element, got %#v", out)
	}
	if _, ok := out["anyOf"]; ok {
		t.Error("anyOf should be gone after collapse")
	}
}

func TestSanitizeSchemaPrefersStructuredUnionBranch(t *testing.T) {
	schema := mustJSON(t, `{"oneOf": [{"type": "null"}, {"type": "object", "properties": {"v": {"type": "integer"}}}]}`)
	out := SanitizeSchema(schema, false)
	if out["type"] != "object" {
		t.Fatalf("object branch should win, got %#v", out)
	}
}

func TestSanitizeSchemaTypeArray(t *testing.T) {
	schema := mustJSON(t, `{"type": "object", "properties": {"a": {"type": ["null", "string"]}}, "required": ["a"]}`)
	out := SanitizeSchema(schema, false)
	a := out["properties"].(map[string]interface{})["a"].(map[string]interface{})
	if a["type"] != "string" {
		t.Fatalf("type array should resolve to first non-null, got %v", a["type"])
	}
	// A nullable property leaves the required list.
	if _, ok := out["required"]; ok {
		t.Errorf("nullable property should be dropped from required, got %v", out["required"])
	}
}

func TestSanitizeSchemaMergesAllOf(t *testing.T) {
	schema := mustJSON(t, `{
		"type": "object",
		"allOf": [
			{"properties": {"a": {"type": "string"}}, "required": ["a"]},
			{"properties": {"b": {"type": "boolean"}}, "required": ["b"]}
		]
	}`)
	out := SanitizeSchema(schema, false)
	props := out["properties"].(map[string]interface{})
	if len(props) != 2 {
		t.Fatalf("allOf branches should merge, got %#v", props)
	}
	req := out["required"].([]interface{})
	if len(req) != 2 {
		t.Fatalf("required should union, got %v", req)
	}
}

func TestSanitizeSchemaEmptyObjectGainsPlaceholder(t *testing.T) {
	out := SanitizeSchema(mustJSON(t, `{"type": "object"}`), false)
	props := out["properties"].(map[string]interface{})
	if _, ok := props["reason"]; !ok {
		t.Fatal("empty object schemas need a placeholder property")
	}
}

func TestSanitizeSchemaConstBecomesEnum(t *testing.T) {
	out := SanitizeSchema(mustJSON(t, `{"type": "string", "const": "fixed"}`), false)
	enum, ok := out["enum"].([]interface{})
	if !ok || len(enum) != 1 || enum[0] != "fixed" {
		t.Fatalf("const should become a single-member enum, got %#v", out)
	}
}

func TestSanitizeSchemaClaudeAdditionalProperties(t *testing.T) {
	out := SanitizeSchema(mustJSON(t, `{"type": "object", "properties": {"a": {"type": "string"}}}`), true)
	if out["additionalProperties"] != false {
		t.Fatal("claude-target schemas must pin additionalProperties to false")
	}
}
