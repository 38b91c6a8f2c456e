package ir

// ResponseBuilder assembles a single logical assistant turn out of the
// message list produced by a to_ir parser, merging consecutive text parts
// and collecting tool calls in order. Every from_ir non-streaming
// serializer is built on top of this so the consecutive-text merge rule
// lives in exactly one place.
type ResponseBuilder struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason FinishReason
}

// BuildResponse walks the assistant-role messages in msgs and produces the
// merged text/reasoning/tool-call view every reverse converter needs.
func BuildResponse(msgs []Message) *ResponseBuilder {
	b := &ResponseBuilder{FinishReason: FinishReasonStop}
	for _, msg := range msgs {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			switch part.Type {
			case ContentTypeText:
				b.Text += part.Text
			case ContentTypeReasoning:
				b.Reasoning += part.Reasoning
			case ContentTypeToolUse:
				b.ToolCalls = append(b.ToolCalls, ToolCall{
					ID:               part.ToolCallID,
					Name:             part.ToolName,
					Args:             part.ToolInput,
					ThoughtSignature: part.ThoughtSignature,
				})
			}
		}
	}
	if len(b.ToolCalls) > 0 {
		b.FinishReason = FinishReasonToolCalls
	}
	return b
}

// EventsToMessages folds a parsed response's events into a single
// assistant turn plus the final usage, metadata, and finish reason, the
// shape the non-streaming renderers consume. Reasoning text becomes one
// thinking part carrying the first signature seen; consecutive text tokens
// merge.
func EventsToMessages(events []UnifiedEvent) ([]Message, *Usage, *OpenAIMeta, FinishReason) {
	var (
		text      string
		reasoning string
		signature string
		toolParts []ContentPart
		usage     *Usage
		meta      OpenAIMeta
	)
	finish := FinishReasonStop
	for _, ev := range events {
		switch ev.Type {
		case EventTypeToken:
			text += ev.Content
		case EventTypeReasoning:
			reasoning += ev.Reasoning
		case EventTypeToolCall:
			if ev.ToolCall == nil {
				continue
			}
			if signature == "" {
				signature = ev.ToolCall.ThoughtSignature
			}
			toolParts = append(toolParts, ContentPart{
				Type:             ContentTypeToolUse,
				ToolCallID:       ev.ToolCall.ID,
				ToolName:         ev.ToolCall.Name,
				ToolInput:        ev.ToolCall.Args,
				ThoughtSignature: ev.ToolCall.ThoughtSignature,
			})
		case EventTypeFinish:
			if ev.FinishReason != FinishReasonUnknown {
				finish = ev.FinishReason
			}
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if ev.Meta != nil {
			meta.ResponseID = ev.Meta.ResponseID
			meta.CreateTime = ev.Meta.CreateTime
			meta.NativeFinishReason = ev.Meta.NativeFinishReason
		}
	}
	if usage != nil {
		meta.ThoughtsTokenCount = usage.ThoughtsTokenCount
	}
	if len(toolParts) > 0 && finish == FinishReasonStop {
		finish = FinishReasonToolCalls
	}

	var parts []ContentPart
	if reasoning != "" {
		parts = append(parts, ContentPart{Type: ContentTypeReasoning, Reasoning: reasoning, ThoughtSignature: signature})
	}
	if text != "" {
		parts = append(parts, ContentPart{Type: ContentTypeText, Text: text})
	}
	parts = append(parts, toolParts...)
	return []Message{{Role: RoleAssistant, Content: parts}}, usage, &meta, finish
}

// GetFirstThoughtSignature returns the signature carried by the first
// thinking part found in the assistant turns of msgs, or "" if none carry
// one. Used when rendering a non-streaming thinking block back out to a
// dialect that needs the signature preserved for a later turn.
func GetFirstThoughtSignature(msgs []Message) string {
	for _, msg := range msgs {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == ContentTypeReasoning && part.ThoughtSignature != "" {
				return part.ThoughtSignature
			}
		}
	}
	return ""
}
