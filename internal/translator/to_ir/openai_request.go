// Package to_ir parses the three public/upstream wire dialects into the
// canonical ir representation. This file handles incoming OpenAI Chat
// Completions requests.
package to_ir

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// ParseOpenAIRequest converts a raw OpenAI chat.completions request body
// into the canonical ir.UnifiedChatRequest. Multiple system messages are
// concatenated; role=tool messages become a user turn carrying
// a tool_result part that refers back to the prior tool_call_id.
func ParseOpenAIRequest(rawJSON []byte) (*ir.UnifiedChatRequest, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, &json.UnmarshalTypeError{Value: "invalid json"}
	}
	root := gjson.ParseBytes(rawJSON)

	req := &ir.UnifiedChatRequest{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
	}

	var systemParts []string
	var pendingToolResults []ir.ContentPart

	flushToolResults := func() {
		if len(pendingToolResults) == 0 {
			return
		}
		req.Messages = append(req.Messages, ir.Message{Role: ir.RoleUser, Content: pendingToolResults})
		pendingToolResults = nil
	}

	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		switch role {
		case "system", "developer":
			if text := openaiMessageText(m); text != "" {
				systemParts = append(systemParts, text)
			}
		case "user":
			flushToolResults()
			req.Messages = append(req.Messages, ir.Message{Role: ir.RoleUser, Content: openaiUserContent(m)})
		case "assistant":
			flushToolResults()
			req.Messages = append(req.Messages, openaiAssistantMessage(m))
		case "tool", "function":
			id, _ := ir.DecodeToolIDAndSignature(m.Get("tool_call_id").String())
			if id == "" {
				id = m.Get("name").String()
			}
			pendingToolResults = append(pendingToolResults, ir.ContentPart{
				Type:            ir.ContentTypeToolResult,
				ToolResultForID: id,
				ToolResult:      []ir.ContentPart{{Type: ir.ContentTypeText, Text: openaiMessageText(m)}},
			})
		}
	}
	flushToolResults()

	if len(systemParts) > 0 {
		req.System = strings.Join(systemParts, "\n\n")
	}

	req.Tools = openaiTools(root)
	req.FunctionCalling = openaiToolChoice(root)

	if v := root.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := root.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := root.Get("max_completion_tokens"); v.Exists() {
		req.MaxTokens = int(v.Int())
	} else if v := root.Get("max_tokens"); v.Exists() {
		req.MaxTokens = int(v.Int())
	}
	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			for _, s := range stop.Array() {
				req.StopSequences = append(req.StopSequences, s.String())
			}
		} else if stop.String() != "" {
			req.StopSequences = []string{stop.String()}
		}
	}
	if effort := root.Get("reasoning_effort"); effort.Exists() {
		if budget, includeThoughts := ir.MapEffortToBudget(effort.String()); includeThoughts || budget == 0 {
			req.Thinking = &ir.ThinkingConfig{Budget: budget, IncludeThoughts: includeThoughts}
		}
	}

	return req, nil
}

func openaiMessageText(m gjson.Result) string {
	content := m.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var b strings.Builder
		for _, part := range content.Array() {
			if part.Get("type").String() == "text" {
				b.WriteString(part.Get("text").String())
			}
		}
		return b.String()
	}
	return ""
}

func openaiUserContent(m gjson.Result) []ir.ContentPart {
	content := m.Get("content")
	if content.Type == gjson.String {
		return []ir.ContentPart{{Type: ir.ContentTypeText, Text: ir.SanitizeText(content.String())}}
	}
	var parts []ir.ContentPart
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, ir.ContentPart{Type: ir.ContentTypeText, Text: ir.SanitizeText(part.Get("text").String())})
		case "image_url":
			url := part.Get("image_url.url").String()
			if strings.HasPrefix(url, "data:") {
				mime, data := parseDataURL(url)
				parts = append(parts, ir.ContentPart{Type: ir.ContentTypeImage, MimeType: mime, Data: data})
			} else {
				parts = append(parts, ir.ContentPart{Type: ir.ContentTypeImage, URL: url})
			}
		}
	}
	return parts
}

func parseDataURL(url string) (mime string, data []byte) {
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", nil
	}
	mime = rest[:idx]
	b64 := rest[idx+len(";base64,"):]
	decoded, err := decodeBase64(b64)
	if err != nil {
		return mime, nil
	}
	return mime, decoded
}

func openaiAssistantMessage(m gjson.Result) ir.Message {
	msg := ir.Message{Role: ir.RoleAssistant}
	if text := openaiMessageText(m); text != "" {
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
	}
	if reasoning := m.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		msg.Content = append([]ir.ContentPart{{Type: ir.ContentTypeReasoning, Reasoning: reasoning.String()}}, msg.Content...)
	}
	for _, tc := range m.Get("tool_calls").Array() {
		// The OpenAI dialect has no signature slot, so signatures ride
		// piggybacked on the tool call id across the client round trip.
		id, signature := ir.DecodeToolIDAndSignature(tc.Get("id").String())
		name := tc.Get("function.name").String()
		args := tc.Get("function.arguments").String()
		msg.Content = append(msg.Content, ir.ContentPart{
			Type:             ir.ContentTypeToolUse,
			ToolCallID:       id,
			ToolName:         name,
			ToolInput:        json.RawMessage(ir.ValidateAndNormalizeJSON(args)),
			ThoughtSignature: signature,
		})
	}
	return msg
}

func openaiTools(root gjson.Result) []ir.ToolDefinition {
	var tools []ir.ToolDefinition
	for _, t := range root.Get("tools").Array() {
		fn := t.Get("function")
		if !fn.Exists() {
			continue
		}
		tools = append(tools, toolFromGJSON(fn))
	}
	// Legacy "functions" field (pre tool_calls API).
	for _, fn := range root.Get("functions").Array() {
		tools = append(tools, toolFromGJSON(fn))
	}
	return tools
}

func toolFromGJSON(fn gjson.Result) ir.ToolDefinition {
	var schema map[string]interface{}
	if params := fn.Get("parameters"); params.Exists() {
		_ = json.Unmarshal([]byte(params.Raw), &schema)
	}
	return ir.ToolDefinition{
		Name:        fn.Get("name").String(),
		Description: fn.Get("description").String(),
		InputSchema: schema,
	}
}

func openaiToolChoice(root gjson.Result) *ir.FunctionCallingConfig {
	choice := root.Get("tool_choice")
	if !choice.Exists() {
		return nil
	}
	if choice.Type == gjson.String {
		switch choice.String() {
		case "none":
			return &ir.FunctionCallingConfig{Mode: "none"}
		case "required":
			return &ir.FunctionCallingConfig{Mode: "any"}
		default:
			return &ir.FunctionCallingConfig{Mode: "auto"}
		}
	}
	if name := choice.Get("function.name").String(); name != "" {
		return &ir.FunctionCallingConfig{Mode: "tool", AllowedNames: []string{name}}
	}
	return &ir.FunctionCallingConfig{Mode: "auto"}
}
