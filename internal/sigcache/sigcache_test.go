package sigcache

import (
	"testing"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

func TestRememberLookup(t *testing.T) {
	c := New()
	c.Remember("sess-1", "sig-abc", FamilyGemini)

	family, ok := c.Lookup("sess-1", "sig-abc")
	if !ok || family != FamilyGemini {
		t.Fatalf("expected gemini, got %v ok=%v", family, ok)
	}

	if _, ok := c.Lookup("sess-2", "sig-abc"); ok {
		t.Fatal("signature must not resurrect across sessions")
	}
}

func TestHasFamily(t *testing.T) {
	c := New()
	c.Remember("sess-1", "sig-a", FamilyClaude)
	if c.HasFamily("sess-1", FamilyGemini) {
		t.Fatal("should not report gemini family")
	}
	if !c.HasFamily("sess-1", FamilyClaude) {
		t.Fatal("should report claude family")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewSized(2)
	c.Remember("s", "sig1", FamilyGemini)
	c.Remember("s", "sig2", FamilyGemini)
	c.Remember("s", "sig3", FamilyGemini)

	if _, ok := c.Lookup("s", "sig1"); ok {
		t.Fatal("sig1 should have been evicted")
	}
	if _, ok := c.Lookup("s", "sig3"); !ok {
		t.Fatal("sig3 should still be present")
	}
}

func TestIsValidSignature(t *testing.T) {
	if !IsValidSignature(SkipValidation) {
		t.Fatal("sentinel must be valid")
	}
	if IsValidSignature("short") {
		t.Fatal("short signature must be invalid")
	}
	long := make([]byte, MinSignatureLength)
	for i := range long {
		long[i] = 'a'
	}
	if !IsValidSignature(string(long)) {
		t.Fatal("long enough signature must be valid")
	}
}

func longSig(seed string) string {
	for len(seed) < MinSignatureLength {
		seed += "0123456789"
	}
	return seed
}

func TestApplyCrossModelPolicyDropsNonGeminiSignatures(t *testing.T) {
	sigGem, sigClaude, sigUnknown := longSig("sig-gem-"), longSig("sig-claude-"), longSig("sig-unknown-")
	c := New()
	c.Remember("sess", sigGem, FamilyGemini)
	c.Remember("sess", sigClaude, FamilyClaude)

	messages := []ir.Message{
		{
			Role: ir.RoleAssistant,
			Content: []ir.ContentPart{
				{Type: ir.ContentTypeToolUse, ToolCallID: "t1", ThoughtSignature: sigGem},
				{Type: ir.ContentTypeToolUse, ToolCallID: "t2", ThoughtSignature: sigClaude},
				{Type: ir.ContentTypeToolUse, ToolCallID: "t3", ThoughtSignature: sigUnknown},
				{Type: ir.ContentTypeToolUse, ToolCallID: "t4", ThoughtSignature: "truncated"},
			},
		},
	}

	out := c.ApplyCrossModelPolicy("sess", messages, FamilyGemini)
	got := out[0].Content
	if got[0].ThoughtSignature != sigGem {
		t.Errorf("gemini-origin signature should survive, got %q", got[0].ThoughtSignature)
	}
	if got[1].ThoughtSignature != SkipValidation {
		t.Errorf("claude-origin signature should be replaced, got %q", got[1].ThoughtSignature)
	}
	if got[2].ThoughtSignature != SkipValidation {
		t.Errorf("unknown-origin signature should be replaced, got %q", got[2].ThoughtSignature)
	}
	if got[3].ThoughtSignature != SkipValidation {
		t.Errorf("too-short signature should be replaced, got %q", got[3].ThoughtSignature)
	}
}

func TestApplyCrossModelPolicyChecksThinkingParts(t *testing.T) {
	sigGem, sigClaude := longSig("think-gem-"), longSig("think-claude-")
	c := New()
	c.Remember("sess", sigGem, FamilyGemini)
	c.Remember("sess", sigClaude, FamilyClaude)

	// The Claude dialect carries the signature on the thinking part, not
	// the tool_use; the policy must cover it there too.
	messages := []ir.Message{
		{
			Role: ir.RoleAssistant,
			Content: []ir.ContentPart{
				{Type: ir.ContentTypeReasoning, Reasoning: "kept", ThoughtSignature: sigGem},
				{Type: ir.ContentTypeToolUse, ToolCallID: "t1"},
			},
		},
		{
			Role: ir.RoleAssistant,
			Content: []ir.ContentPart{
				{Type: ir.ContentTypeReasoning, Reasoning: "dropped", ThoughtSignature: sigClaude},
				{Type: ir.ContentTypeToolUse, ToolCallID: "t2"},
			},
		},
	}

	out := c.ApplyCrossModelPolicy("sess", messages, FamilyGemini)
	if out[0].Content[0].ThoughtSignature != sigGem {
		t.Errorf("gemini-origin thinking signature should survive, got %q", out[0].Content[0].ThoughtSignature)
	}
	if out[1].Content[0].ThoughtSignature != SkipValidation {
		t.Errorf("claude-origin thinking signature should be replaced, got %q", out[1].Content[0].ThoughtSignature)
	}
}

func TestApplyCrossModelPolicyPassesThroughForClaudeTarget(t *testing.T) {
	c := New()
	messages := []ir.Message{
		{Role: ir.RoleAssistant, Content: []ir.ContentPart{
			{Type: ir.ContentTypeToolUse, ToolCallID: "t1", ThoughtSignature: "whatever"},
		}},
	}
	out := c.ApplyCrossModelPolicy("sess", messages, FamilyClaude)
	if out[0].Content[0].ThoughtSignature != "whatever" {
		t.Fatal("claude target must leave signatures untouched")
	}
}

func TestNeedsCrossModelRepair(t *testing.T) {
	c := New()
	c.Remember("sess", "sig-gem", FamilyGemini)

	messages := []ir.Message{
		{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}},
		{Role: ir.RoleAssistant, Content: []ir.ContentPart{
			{Type: ir.ContentTypeToolUse, ToolCallID: "open-1", ToolName: "get_time"},
		}},
	}

	ids, ok := c.NeedsCrossModelRepair("sess", messages, FamilyClaude)
	if !ok {
		t.Fatal("expected repair to be needed")
	}
	if len(ids) != 1 || ids[0] != "open-1" {
		t.Fatalf("unexpected open call ids: %v", ids)
	}

	repaired := RepairInterruptedToolLoop(messages, ids)
	last := repaired[len(repaired)-1]
	if last.Role != ir.RoleUser {
		t.Fatal("repair must append a user turn")
	}
	if last.Content[0].ToolResultForID != "open-1" {
		t.Fatal("placeholder tool_result must reference the open call id")
	}
}
