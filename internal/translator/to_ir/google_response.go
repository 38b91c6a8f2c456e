package to_ir

import (
	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// ParseGoogleChunk converts one upstream Google generateContent response
// object (a full non-streaming body, or a single SSE chunk payload as the
// upstream client emits it) into canonical UnifiedEvents. Both shapes
// carry the same candidates/usageMetadata
// structure, so one parser serves both the streaming and non-streaming
// paths.
func ParseGoogleChunk(raw []byte) []ir.UnifiedEvent {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)

	var events []ir.UnifiedEvent

	candidates := root.Get("candidates")
	if candidates.IsArray() && len(candidates.Array()) > 0 {
		candidate := candidates.Array()[0]
		events = append(events, googlePartsToEvents(candidate.Get("content.parts"))...)

		if reason := candidate.Get("finishReason"); reason.Exists() && reason.String() != "" {
			events = append(events, ir.UnifiedEvent{
				Type:         ir.EventTypeFinish,
				FinishReason: ir.MapGeminiFinishReason(reason.String()),
			})
		}
	}

	if usage := root.Get("usageMetadata"); usage.Exists() {
		u := &ir.Usage{
			PromptTokens:            int(usage.Get("promptTokenCount").Int()),
			CompletionTokens:        int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:             int(usage.Get("totalTokenCount").Int()),
			ThoughtsTokenCount:      int(usage.Get("thoughtsTokenCount").Int()),
			CachedContentTokenCount: int(usage.Get("cachedContentTokenCount").Int()),
		}
		if len(events) > 0 {
			events[len(events)-1].Usage = u
		} else {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeFinish, Usage: u})
		}
	}

	if id := root.Get("responseId"); id.Exists() {
		meta := &ir.ResponseMeta{ResponseID: id.String()}
		if len(events) > 0 {
			events[len(events)-1].Meta = meta
		}
	}

	return events
}

func googlePartsToEvents(parts gjson.Result) []ir.UnifiedEvent {
	var events []ir.UnifiedEvent
	for _, part := range parts.Array() {
		switch {
		case part.Get("functionCall").Exists():
			fc := part.Get("functionCall")
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			events = append(events, ir.UnifiedEvent{
				Type: ir.EventTypeToolCall,
				ToolCall: &ir.ToolCall{
					ID:               ir.GenToolCallID(),
					Name:             fc.Get("name").String(),
					Args:             []byte(args),
					ThoughtSignature: part.Get("thoughtSignature").String(),
				},
			})
		case part.Get("inlineData").Exists():
			data, err := decodeBase64(part.Get("inlineData.data").String())
			if err != nil {
				continue
			}
			events = append(events, ir.UnifiedEvent{
				Type:  ir.EventTypeImage,
				Image: &ir.ImagePart{MimeType: part.Get("inlineData.mimeType").String(), Data: data},
			})
		case part.Get("thought").Bool():
			events = append(events, ir.UnifiedEvent{
				Type:      ir.EventTypeReasoning,
				Reasoning: part.Get("text").String(),
			})
		case part.Get("text").Exists():
			events = append(events, ir.UnifiedEvent{
				Type:    ir.EventTypeToken,
				Content: part.Get("text").String(),
			})
		}
	}
	return events
}
