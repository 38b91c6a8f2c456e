package from_ir

import (
	"encoding/json"
	"fmt"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// RenderAnthropicResponse builds a non-streaming Anthropic Messages response
// from the assistant turns of a canonical conversation.
func RenderAnthropicResponse(model string, msgs []ir.Message, usage *ir.Usage) map[string]interface{} {
	b := ir.BuildResponse(msgs)

	var content []interface{}
	if b.Reasoning != "" {
		block := map[string]interface{}{"type": "thinking", "thinking": b.Reasoning}
		if sig := ir.GetFirstThoughtSignature(msgs); sig != "" {
			block["signature"] = sig
		}
		content = append(content, block)
	}
	if b.Text != "" {
		content = append(content, map[string]interface{}{"type": "text", "text": b.Text})
	}
	for _, tc := range b.ToolCalls {
		var input interface{} = map[string]interface{}{}
		if len(tc.Args) > 0 {
			_ = json.Unmarshal(tc.Args, &input)
		}
		content = append(content, map[string]interface{}{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": input,
		})
	}

	resp := map[string]interface{}{
		"id":            "msg_" + ir.GenerateUUID(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       content,
		"stop_reason":   ir.MapFinishReasonToClaude(b.FinishReason),
		"stop_sequence": nil,
	}
	if usage != nil {
		resp["usage"] = map[string]interface{}{
			"input_tokens":                usage.PromptTokens,
			"output_tokens":               usage.CompletionTokens,
			"cache_read_input_tokens":     usage.CachedContentTokenCount,
			"cache_creation_input_tokens": 0,
		}
	}
	return resp
}

// AnthropicStreamRenderer turns canonical UnifiedEvents into the Anthropic
// Messages SSE event sequence: message_start, content_block_start/delta/
// stop, message_delta, message_stop.
type AnthropicStreamRenderer struct {
	model       string
	started     bool
	blockOpen   bool
	blockIndex  int
	blockType   string // "text" | "thinking" | "tool_use"
	toolArgsBuf string
}

// NewAnthropicStreamRenderer constructs a renderer for one streamed response.
func NewAnthropicStreamRenderer(model string) *AnthropicStreamRenderer {
	return &AnthropicStreamRenderer{model: model, blockIndex: -1}
}

// Render converts one canonical event into zero or more SSE frames
// ("event: ...\ndata: ...\n\n", ready to write to the response body).
func (r *AnthropicStreamRenderer) Render(ev ir.UnifiedEvent) []string {
	var frames []string
	if !r.started {
		r.started = true
		frames = append(frames, r.sse("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":      "msg_" + ir.GenerateUUID(),
				"type":    "message",
				"role":    "assistant",
				"model":   r.model,
				"content": []interface{}{},
				"usage":   map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	switch ev.Type {
	case ir.EventTypeToken:
		frames = append(frames, r.ensureBlock("text", nil)...)
		frames = append(frames, r.sse("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": r.blockIndex,
			"delta": map[string]interface{}{"type": "text_delta", "text": ev.Content},
		}))
	case ir.EventTypeReasoning:
		frames = append(frames, r.ensureBlock("thinking", nil)...)
		frames = append(frames, r.sse("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": r.blockIndex,
			"delta": map[string]interface{}{"type": "thinking_delta", "thinking": ev.Reasoning},
		}))
	case ir.EventTypeToolCall:
		frames = append(frames, r.closeBlock()...)
		args := "{}"
		if ev.ToolCall != nil && len(ev.ToolCall.Args) > 0 {
			args = string(ev.ToolCall.Args)
		}
		r.blockOpen = true
		r.blockType = "tool_use"
		r.blockIndex++
		start := map[string]interface{}{
			"type":  "tool_use",
			"id":    "",
			"name":  "",
			"input": map[string]interface{}{},
		}
		if ev.ToolCall != nil {
			start["id"] = ev.ToolCall.ID
			start["name"] = ev.ToolCall.Name
		}
		frames = append(frames, r.sse("content_block_start", map[string]interface{}{
			"type":          "content_block_start",
			"index":         r.blockIndex,
			"content_block": start,
		}))
		frames = append(frames, r.sse("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": r.blockIndex,
			"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": args},
		}))
		frames = append(frames, r.closeBlock()...)
	case ir.EventTypeFinish:
		frames = append(frames, r.closeBlock()...)
		usage := map[string]interface{}{"output_tokens": 0}
		if ev.Usage != nil {
			usage["output_tokens"] = ev.Usage.CompletionTokens
			usage["input_tokens"] = ev.Usage.PromptTokens
			usage["cache_read_input_tokens"] = ev.Usage.CachedContentTokenCount
		}
		frames = append(frames, r.sse("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": ir.MapFinishReasonToClaude(ev.FinishReason)},
			"usage": usage,
		}))
		frames = append(frames, r.sse("message_stop", map[string]interface{}{"type": "message_stop"}))
	case ir.EventTypeError:
		frames = append(frames, r.closeBlock()...)
	}
	return frames
}

func (r *AnthropicStreamRenderer) ensureBlock(blockType string, extra map[string]interface{}) []string {
	if r.blockOpen && r.blockType == blockType {
		return nil
	}
	var frames []string
	frames = append(frames, r.closeBlock()...)
	r.blockOpen = true
	r.blockType = blockType
	r.blockIndex++
	block := map[string]interface{}{"type": blockType}
	switch blockType {
	case "text":
		block["text"] = ""
	case "thinking":
		block["thinking"] = ""
	}
	for k, v := range extra {
		block[k] = v
	}
	frames = append(frames, r.sse("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         r.blockIndex,
		"content_block": block,
	}))
	return frames
}

func (r *AnthropicStreamRenderer) closeBlock() []string {
	if !r.blockOpen {
		return nil
	}
	r.blockOpen = false
	return []string{r.sse("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": r.blockIndex,
	})}
}

// RenderAnthropicErrorFrame renders the Anthropic "error" SSE event for a
// stream that broke after chunks were already delivered.
func RenderAnthropicErrorFrame(err interface{ RenderAnthropic() map[string]interface{} }) string {
	data, _ := json.Marshal(err.RenderAnthropic())
	return fmt.Sprintf("event: error\ndata: %s\n\n", data)
}

func (r *AnthropicStreamRenderer) sse(event string, payload map[string]interface{}) string {
	data, _ := json.Marshal(payload)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
