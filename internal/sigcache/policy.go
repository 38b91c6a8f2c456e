package sigcache

import "github.com/kestrel-labs/antigravity-gateway/internal/ir"

// ApplyCrossModelPolicy enforces the cross-model rule: before dispatch to
// a given target family, every signature in the conversation is checked
// against the cache and either kept, or dropped and replaced with the
// skip-validation sentinel. Signatures ride on both thinking parts (the
// Claude-dialect carrier) and tool_use parts (the Gemini-dialect carrier),
// so both are checked.
//
// For a Gemini target, a signature survives only if it passes the length
// gate and the cache says it was produced by Gemini; anything else
// (damaged, unknown origin, or known Claude origin) is replaced by the
// sentinel. For a Claude target, signatures pass through unchanged; the
// upstream validates them itself.
func (c *Cache) ApplyCrossModelPolicy(sessionID string, messages []ir.Message, target Family) []ir.Message {
	if target != FamilyGemini {
		return messages
	}
	out := make([]ir.Message, len(messages))
	copy(out, messages)

	for i := range out {
		if out[i].Role != ir.RoleAssistant {
			continue
		}
		parts := make([]ir.ContentPart, len(out[i].Content))
		copy(parts, out[i].Content)
		for j := range parts {
			if parts[j].Type != ir.ContentTypeToolUse && parts[j].Type != ir.ContentTypeReasoning {
				continue
			}
			sig := parts[j].ThoughtSignature
			if sig == "" || sig == SkipValidation {
				continue
			}
			if !IsValidSignature(sig) {
				parts[j].ThoughtSignature = SkipValidation
				continue
			}
			if family, ok := c.Lookup(sessionID, sig); !ok || family != FamilyGemini {
				parts[j].ThoughtSignature = SkipValidation
			}
		}
		out[i].Content = parts
	}
	return out
}

// HasInterruptedToolLoop reports whether the conversation's last assistant
// turn ends on a tool_use with no matching tool_result in the following
// user turn: an interrupted tool loop.
func HasInterruptedToolLoop(messages []ir.Message) (openCallIDs []string, ok bool) {
	if len(messages) == 0 {
		return nil, false
	}
	last := messages[len(messages)-1]
	if last.Role != ir.RoleAssistant {
		return nil, false
	}
	for _, part := range last.Content {
		if part.Type == ir.ContentTypeToolUse {
			openCallIDs = append(openCallIDs, part.ToolCallID)
		}
	}
	return openCallIDs, len(openCallIDs) > 0
}

// RepairInterruptedToolLoop synthesizes a minimal user turn containing a
// placeholder tool_result for each open tool_use, so the target upstream
// sees a well-formed transcript.
func RepairInterruptedToolLoop(messages []ir.Message, openCallIDs []string) []ir.Message {
	if len(openCallIDs) == 0 {
		return messages
	}
	parts := make([]ir.ContentPart, 0, len(openCallIDs))
	for _, id := range openCallIDs {
		parts = append(parts, ir.ContentPart{
			Type:            ir.ContentTypeToolResult,
			ToolResultForID: id,
			ToolResult: []ir.ContentPart{{
				Type: ir.ContentTypeText,
				Text: "Tool loop recovered after a model-family switch; original result unavailable.",
			}},
		})
	}
	out := make([]ir.Message, len(messages), len(messages)+1)
	copy(out, messages)
	out = append(out, ir.Message{Role: ir.RoleUser, Content: parts})
	return out
}

// NeedsCrossModelRepair reports whether switching to target requires the
// Gemini→Claude tool-loop repair: any cached signature for sessionID
// belongs to Gemini, and the conversation has an open tool loop.
func (c *Cache) NeedsCrossModelRepair(sessionID string, messages []ir.Message, target Family) ([]string, bool) {
	if target != FamilyClaude {
		return nil, false
	}
	if !c.HasFamily(sessionID, FamilyGemini) {
		return nil, false
	}
	return HasInterruptedToolLoop(messages)
}
