package to_ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// ParseAnthropicRequest converts a raw Anthropic Messages request body into
// the canonical ir.UnifiedChatRequest. system may be a plain string or an
// array of text blocks;
// thinking.budget_tokens maps straight onto ir.ThinkingConfig.
func ParseAnthropicRequest(rawJSON []byte) (*ir.UnifiedChatRequest, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, &json.UnmarshalTypeError{Value: "invalid json"}
	}
	root := gjson.ParseBytes(rawJSON)

	req := &ir.UnifiedChatRequest{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
		System: anthropicSystem(root.Get("system")),
	}

	for _, m := range root.Get("messages").Array() {
		req.Messages = append(req.Messages, anthropicMessage(m))
	}

	req.Tools = anthropicTools(root)
	req.FunctionCalling = anthropicToolChoice(root)

	if v := root.Get("max_tokens"); v.Exists() {
		req.MaxTokens = int(v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := root.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := root.Get("top_k"); v.Exists() {
		k := int(v.Int())
		req.TopK = &k
	}
	for _, s := range root.Get("stop_sequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}
	if thinking := root.Get("thinking"); thinking.Exists() && thinking.Get("type").String() == "enabled" {
		req.Thinking = &ir.ThinkingConfig{
			Budget:          int(thinking.Get("budget_tokens").Int()),
			IncludeThoughts: true,
		}
	}

	return req, nil
}

func anthropicSystem(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if v.IsArray() {
		var text string
		for _, block := range v.Array() {
			if block.Get("type").String() == "text" {
				if text != "" {
					text += "\n\n"
				}
				text += block.Get("text").String()
			}
		}
		return text
	}
	return ""
}

func anthropicMessage(m gjson.Result) ir.Message {
	role := ir.RoleUser
	if m.Get("role").String() == "assistant" {
		role = ir.RoleAssistant
	}
	content := m.Get("content")
	if content.Type == gjson.String {
		return ir.Message{Role: role, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: content.String()}}}
	}

	msg := ir.Message{Role: role}
	for _, block := range content.Array() {
		if part, ok := anthropicBlockToPart(block); ok {
			msg.Content = append(msg.Content, part)
		}
	}
	return msg
}

func anthropicBlockToPart(block gjson.Result) (ir.ContentPart, bool) {
	switch block.Get("type").String() {
	case "text":
		return ir.ContentPart{Type: ir.ContentTypeText, Text: ir.SanitizeText(block.Get("text").String())}, true
	case "image":
		source := block.Get("source")
		switch source.Get("type").String() {
		case "base64":
			data, err := decodeBase64(source.Get("data").String())
			if err != nil {
				return ir.ContentPart{}, false
			}
			return ir.ContentPart{Type: ir.ContentTypeImage, MimeType: source.Get("media_type").String(), Data: data}, true
		case "url":
			return ir.ContentPart{Type: ir.ContentTypeImage, URL: source.Get("url").String()}, true
		}
		return ir.ContentPart{}, false
	case "thinking":
		return ir.ContentPart{
			Type:             ir.ContentTypeReasoning,
			Reasoning:        block.Get("thinking").String(),
			ThoughtSignature: block.Get("signature").String(),
		}, true
	case "redacted_thinking":
		return ir.ContentPart{Type: ir.ContentTypeReasoning, ThoughtSignature: block.Get("data").String()}, true
	case "tool_use":
		input := block.Get("input").Raw
		if input == "" {
			input = "{}"
		}
		return ir.ContentPart{
			Type:       ir.ContentTypeToolUse,
			ToolCallID: block.Get("id").String(),
			ToolName:   block.Get("name").String(),
			ToolInput:  json.RawMessage(input),
		}, true
	case "tool_result":
		return ir.ContentPart{
			Type:            ir.ContentTypeToolResult,
			ToolResultForID: block.Get("tool_use_id").String(),
			ToolResult:      anthropicToolResultContent(block.Get("content")),
			IsError:         block.Get("is_error").Bool(),
		}, true
	}
	return ir.ContentPart{}, false
}

func anthropicToolResultContent(v gjson.Result) []ir.ContentPart {
	if v.Type == gjson.String {
		return []ir.ContentPart{{Type: ir.ContentTypeText, Text: v.String()}}
	}
	var parts []ir.ContentPart
	for _, block := range v.Array() {
		if part, ok := anthropicBlockToPart(block); ok {
			parts = append(parts, part)
		}
	}
	return parts
}

func anthropicTools(root gjson.Result) []ir.ToolDefinition {
	var tools []ir.ToolDefinition
	for _, t := range root.Get("tools").Array() {
		var schema map[string]interface{}
		if s := t.Get("input_schema"); s.Exists() {
			_ = json.Unmarshal([]byte(s.Raw), &schema)
		}
		tools = append(tools, ir.ToolDefinition{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			InputSchema: schema,
		})
	}
	return tools
}

func anthropicToolChoice(root gjson.Result) *ir.FunctionCallingConfig {
	choice := root.Get("tool_choice")
	if !choice.Exists() {
		return nil
	}
	switch choice.Get("type").String() {
	case "auto":
		return &ir.FunctionCallingConfig{Mode: "auto"}
	case "any":
		return &ir.FunctionCallingConfig{Mode: "any"}
	case "none":
		return &ir.FunctionCallingConfig{Mode: "none"}
	case "tool":
		return &ir.FunctionCallingConfig{Mode: "tool", AllowedNames: []string{choice.Get("name").String()}}
	}
	return nil
}
