package ir

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a random UUID string, the id source for every
// gateway-minted identifier (request ids, message ids, tool call ids).
func GenerateUUID() string {
	return uuid.NewString()
}

// GenToolCallID mints a tool call id for a functionCall the upstream
// returned without one. Google parts carry no id at all, so the gateway
// must invent one that stays stable for the rest of the conversation.
func GenToolCallID() string {
	return GenToolCallIDWithName("call")
}

// GenToolCallIDWithName mints a tool call id prefixed with the function
// name, which makes transcripts and logs considerably easier to follow
// than bare UUIDs.
func GenToolCallIDWithName(name string) string {
	return fmt.Sprintf("%s-%s", name, GenerateUUID()[:8])
}

// toolIDSignatureMarker separates the id from the piggybacked signature in
// EncodeToolIDWithSignature.
const toolIDSignatureMarker = "|sig:"

// EncodeToolIDWithSignature piggybacks a thought signature on a tool call
// id so it survives a round trip through clients that preserve ids but
// strip unknown fields. Best effort: a client that rewrites ids loses the
// signature, and the cross-model policy then falls back to the sentinel.
func EncodeToolIDWithSignature(id, signature string) string {
	id = strings.TrimSpace(id)
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return id
	}
	if id == "" {
		id = "tool"
	}
	return id + toolIDSignatureMarker + signature
}

// DecodeToolIDAndSignature splits an id produced by
// EncodeToolIDWithSignature back into its parts. Ids without the marker
// come back unchanged with an empty signature.
func DecodeToolIDAndSignature(encoded string) (id, signature string) {
	encoded = strings.TrimSpace(encoded)
	idx := strings.Index(encoded, toolIDSignatureMarker)
	if idx < 0 {
		return encoded, ""
	}
	return strings.TrimSpace(encoded[:idx]), strings.TrimSpace(encoded[idx+len(toolIDSignatureMarker):])
}
