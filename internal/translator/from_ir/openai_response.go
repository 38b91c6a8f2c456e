package from_ir

import (
	"encoding/json"
	"fmt"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// RenderOpenAIResponse builds a non-streaming chat.completions response
// from the assistant turns of a canonical conversation.
func RenderOpenAIResponse(model string, msgs []ir.Message, usage *ir.Usage, meta *ir.OpenAIMeta) map[string]interface{} {
	b := ir.BuildResponse(msgs)

	message := map[string]interface{}{"role": "assistant"}
	if b.Text != "" {
		message["content"] = b.Text
	} else {
		message["content"] = nil
	}
	if b.Reasoning != "" {
		message["reasoning_content"] = b.Reasoning
	}
	if len(b.ToolCalls) > 0 {
		var calls []interface{}
		for _, tc := range b.ToolCalls {
			args := string(tc.Args)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, map[string]interface{}{
				// No signature slot in this dialect; piggyback it on the id
				// so the next turn can hand it back.
				"id":   ir.EncodeToolIDWithSignature(tc.ID, tc.ThoughtSignature),
				"type": "function",
				"function": map[string]interface{}{
					"name":      tc.Name,
					"arguments": args,
				},
			})
		}
		message["tool_calls"] = calls
	}

	choice := map[string]interface{}{
		"index":         0,
		"message":       message,
		"finish_reason": openaiFinishReason(b.FinishReason),
	}

	id := "chatcmpl-" + ir.GenerateUUID()
	createTime := int64(0)
	if meta != nil {
		if meta.ResponseID != "" {
			id = meta.ResponseID
		}
		createTime = meta.CreateTime
	}

	resp := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion",
		"created": createTime,
		"model":   model,
		"choices": []interface{}{choice},
	}
	if usage != nil {
		resp["usage"] = map[string]interface{}{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
		if usage.ThoughtsTokenCount > 0 {
			resp["usage"].(map[string]interface{})["completion_tokens_details"] = map[string]interface{}{
				"reasoning_tokens": usage.ThoughtsTokenCount,
			}
		}
	}
	return resp
}

func openaiFinishReason(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return "length"
	case ir.FinishReasonToolCalls:
		return "tool_calls"
	case ir.FinishReasonContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// OpenAIStreamRenderer turns canonical UnifiedEvents into OpenAI
// chat.completion.chunk SSE frames.
type OpenAIStreamRenderer struct {
	id      string
	model   string
	created int64
	toolIdx int
}

// NewOpenAIStreamRenderer constructs a renderer for one streamed response.
func NewOpenAIStreamRenderer(model string, createTime int64) *OpenAIStreamRenderer {
	return &OpenAIStreamRenderer{id: "chatcmpl-" + ir.GenerateUUID(), model: model, created: createTime, toolIdx: -1}
}

// Render converts one canonical event into zero or more SSE "data: ...\n\n"
// frames, ending the stream with the OpenAI "data: [DONE]\n\n" sentinel on
// finish events.
func (r *OpenAIStreamRenderer) Render(ev ir.UnifiedEvent) []string {
	switch ev.Type {
	case ir.EventTypeToken:
		return []string{r.chunk(map[string]interface{}{"content": ev.Content}, nil)}
	case ir.EventTypeReasoning:
		return []string{r.chunk(map[string]interface{}{"reasoning_content": ev.Reasoning}, nil)}
	case ir.EventTypeToolCall:
		r.toolIdx++
		delta := map[string]interface{}{
			"tool_calls": []interface{}{map[string]interface{}{
				"index": r.toolIdx,
				"id":    idOrEmpty(ev.ToolCall),
				"type":  "function",
				"function": map[string]interface{}{
					"name":      nameOrEmpty(ev.ToolCall),
					"arguments": argsOrEmpty(ev.ToolCall),
				},
			}},
		}
		return []string{r.chunk(delta, nil)}
	case ir.EventTypeFinish:
		reason := openaiFinishReason(ev.FinishReason)
		frame := r.chunk(map[string]interface{}{}, &reason)
		done := "data: [DONE]\n\n"
		return []string{frame, done}
	}
	return nil
}

func idOrEmpty(tc *ir.ToolCall) string {
	if tc == nil {
		return ""
	}
	return ir.EncodeToolIDWithSignature(tc.ID, tc.ThoughtSignature)
}
func nameOrEmpty(tc *ir.ToolCall) string {
	if tc == nil {
		return ""
	}
	return tc.Name
}
func argsOrEmpty(tc *ir.ToolCall) string {
	if tc == nil || len(tc.Args) == 0 {
		return ""
	}
	return string(tc.Args)
}

// RenderOpenAIErrorFrame renders a trailing SSE error for a stream that
// broke after chunks were already delivered. OpenAI has no error event
// type, so the error rides in a data frame followed by [DONE].
func RenderOpenAIErrorFrame(err interface{ RenderOpenAI() map[string]interface{} }) string {
	data, _ := json.Marshal(err.RenderOpenAI())
	return fmt.Sprintf("data: %s\n\ndata: [DONE]\n\n", data)
}

func (r *OpenAIStreamRenderer) chunk(delta map[string]interface{}, finishReason *string) string {
	choice := map[string]interface{}{"index": 0, "delta": delta}
	if finishReason != nil {
		choice["finish_reason"] = *finishReason
	} else {
		choice["finish_reason"] = nil
	}
	payload := map[string]interface{}{
		"id":      r.id,
		"object":  "chat.completion.chunk",
		"created": r.created,
		"model":   r.model,
		"choices": []interface{}{choice},
	}
	data, _ := json.Marshal(payload)
	return fmt.Sprintf("data: %s\n\n", data)
}
