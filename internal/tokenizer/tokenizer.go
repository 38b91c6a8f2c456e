// Package tokenizer estimates token counts for request text. The upstream
// reports exact usage with each response; this estimator serves the paths
// that need a count before any response exists: the Anthropic
// count_tokens endpoint and usage backfill for responses whose
// usageMetadata went missing.
package tokenizer

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

var (
	once sync.Once
	enc  tokenizer.Codec
)

// codec lazily loads the cl100k vocabulary. Neither served family
// publishes its tokenizer, so cl100k is a deliberate approximation; counts
// here are estimates, never billing truth.
func codec() tokenizer.Codec {
	once.Do(func() {
		enc, _ = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return enc
}

// CountText estimates the token count of a single string.
func CountText(text string) int {
	c := codec()
	if c == nil || text == "" {
		return 0
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		// Rough fallback: average English token is ~4 bytes.
		return len(text) / 4
	}
	return len(ids)
}

// CountRequest estimates the prompt tokens of a canonical request: system
// instruction, every text and thinking part, tool-call arguments, and a
// flat per-image charge. Tool declarations are charged by their JSON size.
func CountRequest(req *ir.UnifiedChatRequest) int {
	if req == nil {
		return 0
	}
	total := CountText(req.System)
	for _, msg := range req.Messages {
		total += 4 // per-message framing overhead
		total += countParts(msg.Content)
	}
	for _, tool := range req.Tools {
		total += CountText(tool.Name) + CountText(tool.Description)
		total += len(tool.InputSchema) * 8
	}
	return total
}

func countParts(parts []ir.ContentPart) int {
	total := 0
	for _, part := range parts {
		switch part.Type {
		case ir.ContentTypeText:
			total += CountText(part.Text)
		case ir.ContentTypeReasoning:
			total += CountText(part.Reasoning)
		case ir.ContentTypeToolUse:
			total += CountText(part.ToolName) + CountText(string(part.ToolInput))
		case ir.ContentTypeToolResult:
			total += countParts(part.ToolResult)
		case ir.ContentTypeImage:
			total += 765 // flat charge, matching the common vision pricing unit
		}
	}
	return total
}
