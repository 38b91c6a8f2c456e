package upstream

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
)

// MergeChunks assembles a single Google-format response out of a stream:
// the first chunk is the base frame, every later chunk's
// candidates.0.content.parts are appended to it, and the last
// usageMetadata seen replaces earlier ones (the upstream repeats partial
// usage mid-stream and only the final chunk's numbers are authoritative).
// The final finishReason wins for the same reason.
func MergeChunks(chunks <-chan StreamChunk) ([]byte, error) {
	var merged []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			if merged == nil {
				return nil, chunk.Err
			}
			// A break after content arrived: return what was assembled.
			return merged, nil
		}
		if merged == nil {
			merged = append([]byte(nil), chunk.Payload...)
			continue
		}
		merged = mergeFrame(merged, chunk.Payload)
	}
	if merged == nil {
		return nil, gwerror.Empty("upstream stream produced no chunks")
	}
	return merged, nil
}

func mergeFrame(base, next []byte) []byte {
	for _, part := range gjson.GetBytes(next, "candidates.0.content.parts").Array() {
		base, _ = sjson.SetRawBytes(base, "candidates.0.content.parts.-1", []byte(part.Raw))
	}
	if usage := gjson.GetBytes(next, "usageMetadata"); usage.Exists() {
		base, _ = sjson.SetRawBytes(base, "usageMetadata", []byte(usage.Raw))
	}
	if reason := gjson.GetBytes(next, "candidates.0.finishReason"); reason.Exists() {
		base, _ = sjson.SetBytes(base, "candidates.0.finishReason", reason.String())
	}
	return base
}
