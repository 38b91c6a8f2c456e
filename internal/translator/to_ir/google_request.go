package to_ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// ParseGoogleRequest converts a Google-native generateContent request body
// into the canonical ir.UnifiedChatRequest, so the native surface runs
// through the same repair/signature/dispatch pipeline as the translated
// dialects. functionCall parts carry no ids in this dialect; ids are
// minted here and functionResponse parts are matched back by call order
// per function name.
func ParseGoogleRequest(model string, rawJSON []byte) (*ir.UnifiedChatRequest, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, &json.UnmarshalTypeError{Value: "invalid json"}
	}
	root := gjson.ParseBytes(rawJSON)

	req := &ir.UnifiedChatRequest{Model: model}

	if sys := root.Get("systemInstruction.parts"); sys.Exists() {
		for _, part := range sys.Array() {
			if text := part.Get("text").String(); text != "" {
				if req.System != "" {
					req.System += "\n"
				}
				req.System += text
			}
		}
	} else if text := root.Get("systemInstruction.text").String(); text != "" {
		req.System = text
	}

	// Pending call ids per function name, consumed in FIFO order when the
	// matching functionResponse arrives.
	pendingCalls := map[string][]string{}
	for _, content := range root.Get("contents").Array() {
		role := ir.RoleUser
		if content.Get("role").String() == "model" {
			role = ir.RoleAssistant
		}
		msg := ir.Message{Role: role}
		for _, part := range content.Get("parts").Array() {
			if converted, ok := googleRequestPart(part, pendingCalls); ok {
				msg.Content = append(msg.Content, converted)
			}
		}
		if len(msg.Content) > 0 {
			req.Messages = append(req.Messages, msg)
		}
	}

	for _, tool := range root.Get("tools").Array() {
		for _, decl := range tool.Get("functionDeclarations").Array() {
			var schema map[string]interface{}
			if params := decl.Get("parameters"); params.Exists() {
				_ = json.Unmarshal([]byte(params.Raw), &schema)
			}
			req.Tools = append(req.Tools, ir.ToolDefinition{
				Name:        decl.Get("name").String(),
				Description: decl.Get("description").String(),
				InputSchema: schema,
			})
		}
	}

	if fc := root.Get("toolConfig.functionCallingConfig"); fc.Exists() {
		cfg := &ir.FunctionCallingConfig{}
		switch fc.Get("mode").String() {
		case "ANY":
			cfg.Mode = "any"
		case "NONE":
			cfg.Mode = "none"
		default:
			cfg.Mode = "auto"
		}
		for _, name := range fc.Get("allowedFunctionNames").Array() {
			cfg.AllowedNames = append(cfg.AllowedNames, name.String())
		}
		req.FunctionCalling = cfg
	}

	gen := root.Get("generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := gen.Get("topP"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := gen.Get("topK"); v.Exists() {
		k := int(v.Int())
		req.TopK = &k
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		req.MaxTokens = int(v.Int())
	}
	for _, s := range gen.Get("stopSequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}
	if tc := gen.Get("thinkingConfig"); tc.Exists() {
		req.Thinking = &ir.ThinkingConfig{
			Budget:          int(tc.Get("thinkingBudget").Int()),
			IncludeThoughts: tc.Get("includeThoughts").Bool(),
		}
	}
	if ic := gen.Get("imageConfig"); ic.Exists() {
		req.ImageConfig = &ir.ImageConfig{
			AspectRatio: ic.Get("aspectRatio").String(),
			ImageSize:   ic.Get("imageSize").String(),
		}
	}

	return req, nil
}

func googleRequestPart(part gjson.Result, pendingCalls map[string][]string) (ir.ContentPart, bool) {
	switch {
	case part.Get("functionCall").Exists():
		fc := part.Get("functionCall")
		name := fc.Get("name").String()
		args := fc.Get("args").Raw
		if args == "" {
			args = "{}"
		}
		id := ir.GenToolCallIDWithName(name)
		pendingCalls[name] = append(pendingCalls[name], id)
		return ir.ContentPart{
			Type:             ir.ContentTypeToolUse,
			ToolCallID:       id,
			ToolName:         name,
			ToolInput:        json.RawMessage(args),
			ThoughtSignature: part.Get("thoughtSignature").String(),
		}, true
	case part.Get("functionResponse").Exists():
		fr := part.Get("functionResponse")
		name := fr.Get("name").String()
		var id string
		if queue := pendingCalls[name]; len(queue) > 0 {
			id, pendingCalls[name] = queue[0], queue[1:]
		} else {
			id = ir.GenToolCallIDWithName(name)
		}
		return ir.ContentPart{
			Type:            ir.ContentTypeToolResult,
			ToolResultForID: id,
			ToolResult:      []ir.ContentPart{{Type: ir.ContentTypeText, Text: fr.Get("response").Raw}},
		}, true
	case part.Get("inlineData").Exists():
		data, err := decodeBase64(part.Get("inlineData.data").String())
		if err != nil {
			return ir.ContentPart{}, false
		}
		return ir.ContentPart{
			Type:     ir.ContentTypeImage,
			MimeType: part.Get("inlineData.mimeType").String(),
			Data:     data,
		}, true
	case part.Get("fileData").Exists():
		return ir.ContentPart{Type: ir.ContentTypeImage, URL: part.Get("fileData.fileUri").String()}, true
	case part.Get("thought").Bool():
		return ir.ContentPart{
			Type:             ir.ContentTypeReasoning,
			Reasoning:        part.Get("text").String(),
			ThoughtSignature: part.Get("thoughtSignature").String(),
		}, true
	case part.Get("text").Exists():
		return ir.ContentPart{Type: ir.ContentTypeText, Text: ir.SanitizeText(part.Get("text").String())}, true
	}
	return ir.ContentPart{}, false
}
