package ir

import "strings"

// MapGeminiFinishReason converts an upstream finishReason into the
// canonical FinishReason. MALFORMED_FUNCTION_CALL and UNEXPECTED_TOOL_CALL
// map to Unknown on purpose: they are intermediate states a stream can
// recover from, not terminal outcomes, and the stream translator skips
// them rather than closing the response.
func MapGeminiFinishReason(reason string) FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP", "FINISH_REASON_UNSPECIFIED", "UNKNOWN":
		return FinishReasonStop
	case "MAX_TOKENS":
		return FinishReasonLength
	case "SAFETY", "RECITATION":
		return FinishReasonContentFilter
	default:
		return FinishReasonUnknown
	}
}

// MapFinishReasonToClaude renders the canonical FinishReason in Anthropic
// stop_reason vocabulary.
func MapFinishReasonToClaude(reason FinishReason) string {
	switch reason {
	case FinishReasonLength:
		return "max_tokens"
	case FinishReasonToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// MapEffortToBudget converts an OpenAI reasoning_effort string into a
// thinking token budget. A budget of -1 means "model decides".
func MapEffortToBudget(effort string) (budget int, includeThoughts bool) {
	switch effort {
	case "none":
		return 0, false
	case "minimal":
		return 512, true
	case "low":
		return 1024, true
	case "medium":
		return 8192, true
	case "high":
		return 24576, true
	case "xhigh":
		return 32768, true
	default:
		return -1, true
	}
}
