package ir

import "strings"

// SkipThoughtSignatureValidator is the upstream's documented sentinel: a
// tool call carrying it is accepted without signature validation. The
// cross-model policy substitutes it for signatures that cannot be trusted
// for the target family.
const SkipThoughtSignatureValidator = "skip_thought_signature_validator"

// minThoughtSignatureLength is the length below which a non-sentinel
// signature is treated as damaged. Genuine signatures are long opaque
// blobs; anything shorter is a client-side truncation.
const minThoughtSignatureLength = 50

// RepairToolTurns enforces the transcript invariant that every tool_use in
// an assistant turn has a matching tool_result, in the same order, in the
// next user turn. Client history is frequently damaged here (results
// reordered, dropped, or duplicated) and the upstream rejects the whole
// conversation over it, so the converter repairs rather than rejects:
//
//   - results are reordered to follow the assistant's tool_use order
//   - a missing result gets a synthesized placeholder
//   - a result answering no known call is dropped
//
// Non-tool content in the user turn is preserved after the results.
func RepairToolTurns(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		out = append(out, msg)
		if msg.Role != RoleAssistant {
			continue
		}
		callIDs := toolUseIDs(msg)
		if len(callIDs) == 0 {
			continue
		}

		var next *Message
		if i+1 < len(messages) && messages[i+1].Role == RoleUser {
			next = &messages[i+1]
			i++
		}
		out = append(out, repairedResultTurn(callIDs, next))
	}
	return out
}

func toolUseIDs(msg Message) []string {
	var ids []string
	for _, part := range msg.Content {
		if part.Type == ContentTypeToolUse {
			ids = append(ids, part.ToolCallID)
		}
	}
	return ids
}

func repairedResultTurn(callIDs []string, next *Message) Message {
	byID := map[string]ContentPart{}
	var rest []ContentPart
	if next != nil {
		for _, part := range next.Content {
			if part.Type == ContentTypeToolResult {
				if _, dup := byID[part.ToolResultForID]; !dup {
					byID[part.ToolResultForID] = part
				}
				continue
			}
			rest = append(rest, part)
		}
	}

	parts := make([]ContentPart, 0, len(callIDs)+len(rest))
	for _, id := range callIDs {
		if part, ok := byID[id]; ok {
			parts = append(parts, part)
			continue
		}
		parts = append(parts, ContentPart{
			Type:            ContentTypeToolResult,
			ToolResultForID: id,
			ToolResult:      []ContentPart{{Type: ContentTypeText, Text: "Tool result unavailable."}},
		})
	}
	return Message{Role: RoleUser, Content: append(parts, rest...)}
}

// OrderThinkingFirst moves thinking parts ahead of the tool_use they
// justify within each assistant turn, restoring the ordering rule clients
// that re-serialize history tend to break.
func OrderThinkingFirst(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != RoleAssistant {
			continue
		}
		var thinking, others []ContentPart
		for _, part := range msg.Content {
			if part.Type == ContentTypeReasoning {
				thinking = append(thinking, part)
			} else {
				others = append(others, part)
			}
		}
		if len(thinking) == 0 {
			continue
		}
		out[i].Content = append(thinking, others...)
	}
	return out
}

// EnsureLeadingThinking guarantees the last assistant turn opens with a
// thinking block when thinking is enabled, inserting an empty sentinel
// block if the client stripped it. Gemini thinking models reject a model
// turn that jumps straight to a function call.
func EnsureLeadingThinking(messages []Message) ([]Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		if len(messages[i].Content) > 0 && messages[i].Content[0].Type == ContentTypeReasoning {
			return messages, false
		}
		placeholder := ContentPart{
			Type:             ContentTypeReasoning,
			ThoughtSignature: SkipThoughtSignatureValidator,
		}
		messages[i].Content = append([]ContentPart{placeholder}, messages[i].Content...)
		return messages, true
	}
	return messages, false
}

// DropDamagedThinking removes thinking parts whose signature is present
// but too short to be genuine. Passing them upstream fails validation for
// the whole request; dropping just the damaged block keeps the
// conversation usable.
func DropDamagedThinking(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			out = append(out, msg)
			continue
		}
		kept := msg
		kept.Content = nil
		for _, part := range msg.Content {
			if part.Type == ContentTypeReasoning {
				sig := strings.TrimSpace(part.ThoughtSignature)
				if sig != "" && sig != SkipThoughtSignatureValidator && len(sig) < minThoughtSignatureLength {
					continue
				}
			}
			kept.Content = append(kept.Content, part)
		}
		out = append(out, kept)
	}
	return out
}

// TrimTrailingUnsignedThinking drops unsigned thinking parts from the end
// of assistant turns. An unsigned trailing block is a streaming artifact
// (the signature arrives with the part that follows); resending it would
// fail upstream validation.
func TrimTrailingUnsignedThinking(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			out = append(out, msg)
			continue
		}
		trimmed := msg
		for len(trimmed.Content) > 0 {
			last := trimmed.Content[len(trimmed.Content)-1]
			if last.Type != ContentTypeReasoning || strings.TrimSpace(last.ThoughtSignature) != "" {
				break
			}
			trimmed.Content = trimmed.Content[:len(trimmed.Content)-1]
		}
		out = append(out, trimmed)
	}
	return out
}
