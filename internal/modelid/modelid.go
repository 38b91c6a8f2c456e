// Package modelid is the catalog of model identifiers the gateway serves:
// family classification (Claude vs Gemini), thinking-variant and
// image-generation detection, and the display-prefix form some clients use
// in their model pickers.
package modelid

import "strings"

// Family is the model family a request ultimately targets. The thinking
// signature protocol differs per family, so most routing decisions key on
// this.
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyGemini Family = "gemini"
)

// Known is the identifier set served by /v1/models. The upstream accepts
// more, but these are the ones verified to work through the Antigravity
// envelope.
var Known = []string{
	"gemini-3-pro-preview",
	"gemini-3-pro-preview-thinking",
	"gemini-2.5-pro",
	"gemini-2.5-pro-thinking",
	"gemini-2.5-flash",
	"gemini-2.5-flash-image",
	"claude-opus-4-5",
	"claude-opus-4-5-thinking",
	"claude-sonnet-4-5",
	"claude-sonnet-4-5-thinking",
}

// FamilyOf classifies a model identifier. Anything that is not recognizably
// Claude is treated as Gemini, matching the upstream's own default.
func FamilyOf(model string) Family {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude") {
		return FamilyClaude
	}
	return FamilyGemini
}

// IsThinking reports whether model is an extended-thinking variant.
func IsThinking(model string) bool {
	return strings.Contains(strings.ToLower(model), "thinking")
}

// IsImageGeneration reports whether model produces images, which changes
// the upstream envelope's requestType from "agent" to "image_gen".
func IsImageGeneration(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "-image") || strings.Contains(lower, "imagen")
}

// Normalize strips the "[Label] model-id" display prefix some client model
// pickers send and returns the bare identifier. A model id without a
// prefix passes through unchanged.
func Normalize(model string) string {
	model = strings.TrimSpace(model)
	if !strings.HasPrefix(model, "[") {
		return model
	}
	idx := strings.Index(model, "]")
	if idx <= 1 || idx+1 >= len(model) {
		return model
	}
	bare := strings.TrimSpace(model[idx+1:])
	if bare == "" {
		return model
	}
	return bare
}

// Display renders a model id in the "[Label] model-id" picker form.
func Display(label, model string) string {
	label = strings.TrimSpace(label)
	model = strings.TrimSpace(model)
	if label == "" || model == "" {
		return model
	}
	return "[" + label + "] " + model
}
