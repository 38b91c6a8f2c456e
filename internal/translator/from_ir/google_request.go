// Package from_ir renders the canonical ir representation back out into
// each dialect's wire format: the outbound Google-native upstream request,
// and the Anthropic/OpenAI response shapes streamed or returned to clients.
package from_ir

import (
	"encoding/base64"
	"encoding/json"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/modelid"
)

// RenderGoogleRequest builds the upstream Google generateContent request
// body from a canonical ir.UnifiedChatRequest. It does not apply the
// cross-model thinking-signature policy itself; callers run the messages
// through sigcache.ApplyCrossModelPolicy before handing them to this
// renderer.
func RenderGoogleRequest(req *ir.UnifiedChatRequest) map[string]interface{} {
	body := map[string]interface{}{}

	if req.System != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": req.System}},
		}
	}

	toolNames := map[string]string{} // tool_call_id -> tool name, for functionResponse lookup
	var contents []interface{}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == ir.RoleAssistant {
			role = "model"
		}
		parts := make([]interface{}, 0, len(msg.Content))
		// Thinking parts are not emitted as parts of their own; the
		// signature of the most recent one rides the next functionCall as
		// thoughtSignature, which is all the upstream needs to validate
		// the reasoning that justified the call.
		pendingSignature := ""
		for _, part := range msg.Content {
			if part.Type == ir.ContentTypeReasoning {
				if part.ThoughtSignature != "" {
					pendingSignature = part.ThoughtSignature
				}
				continue
			}
			if part.Type == ir.ContentTypeToolUse {
				toolNames[part.ToolCallID] = part.ToolName
			}
			rendered, ok := googlePartFromContentPart(part, toolNames)
			if !ok {
				continue
			}
			if part.Type == ir.ContentTypeToolUse && pendingSignature != "" {
				if m, ok := rendered.(map[string]interface{}); ok {
					if _, has := m["thoughtSignature"]; !has {
						m["thoughtSignature"] = pendingSignature
					}
					pendingSignature = ""
				}
			}
			parts = append(parts, rendered)
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}
	body["contents"] = contents

	if len(req.Tools) > 0 {
		// Claude-family targets are reached over the same Google wire but
		// reject a stricter keyword set in tool declarations.
		forClaude := modelid.FamilyOf(req.Model) == modelid.FamilyClaude
		var decls []interface{}
		for _, t := range req.Tools {
			decls = append(decls, map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  ir.SanitizeSchema(t.InputSchema, forClaude),
			})
		}
		body["tools"] = []interface{}{map[string]interface{}{"functionDeclarations": decls}}
	}

	if req.FunctionCalling != nil {
		fc := map[string]interface{}{"mode": googleFunctionCallingMode(req.FunctionCalling.Mode)}
		if len(req.FunctionCalling.AllowedNames) > 0 {
			fc["allowedFunctionNames"] = req.FunctionCalling.AllowedNames
		}
		body["toolConfig"] = map[string]interface{}{"functionCallingConfig": fc}
	}

	genConfig := map[string]interface{}{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.TopK != nil {
		genConfig["topK"] = *req.TopK
	}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}
	if req.Thinking != nil {
		thinkingCfg := map[string]interface{}{"includeThoughts": req.Thinking.IncludeThoughts}
		if req.Thinking.Budget > 0 {
			thinkingCfg["thinkingBudget"] = req.Thinking.Budget
		}
		genConfig["thinkingConfig"] = thinkingCfg
	}
	if req.ImageConfig != nil {
		imageCfg := map[string]interface{}{}
		if req.ImageConfig.AspectRatio != "" {
			imageCfg["aspectRatio"] = req.ImageConfig.AspectRatio
		}
		if req.ImageConfig.ImageSize != "" {
			imageCfg["imageSize"] = req.ImageConfig.ImageSize
		}
		if len(imageCfg) > 0 {
			genConfig["imageConfig"] = imageCfg
		}
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	body["safetySettings"] = ir.DefaultGeminiSafetySettings()

	return body
}

func googlePartFromContentPart(part ir.ContentPart, toolNames map[string]string) (interface{}, bool) {
	switch part.Type {
	case ir.ContentTypeText:
		if part.Text == "" {
			return nil, false
		}
		return map[string]interface{}{"text": part.Text}, true
	case ir.ContentTypeImage:
		if len(part.Data) > 0 {
			return map[string]interface{}{"inlineData": map[string]interface{}{
				"mimeType": part.MimeType,
				"data":     base64.StdEncoding.EncodeToString(part.Data),
			}}, true
		}
		if part.URL != "" {
			return map[string]interface{}{"fileData": map[string]interface{}{"fileUri": part.URL}}, true
		}
		return nil, false
	case ir.ContentTypeToolUse:
		var args interface{} = map[string]interface{}{}
		if len(part.ToolInput) > 0 {
			_ = json.Unmarshal(part.ToolInput, &args)
		}
		p := map[string]interface{}{"functionCall": map[string]interface{}{"name": part.ToolName, "args": args}}
		if part.ThoughtSignature != "" {
			p["thoughtSignature"] = part.ThoughtSignature
		}
		return p, true
	case ir.ContentTypeToolResult:
		name := toolNames[part.ToolResultForID]
		var response interface{} = map[string]interface{}{"result": contentPartsToText(part.ToolResult)}
		if part.IsError {
			response = map[string]interface{}{"error": contentPartsToText(part.ToolResult)}
		}
		return map[string]interface{}{"functionResponse": map[string]interface{}{"name": name, "response": response}}, true
	}
	return nil, false
}

func contentPartsToText(parts []ir.ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == ir.ContentTypeText {
			out += p.Text
		}
	}
	return out
}

func googleFunctionCallingMode(mode string) string {
	switch mode {
	case "any":
		return "ANY"
	case "none":
		return "NONE"
	case "tool":
		return "ANY"
	default:
		return "AUTO"
	}
}
