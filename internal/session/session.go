// Package session derives the stable request fingerprint used both to pick
// a sticky account and as the upstream session identifier so prompt
// caching hits.
package session

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// DeriveID computes the SHA-256 hex digest over the concatenation of the
// text parts of the first user message in messages. It is stable across
// turns of the same conversation as long as the first user message is
// unchanged, which is the property the account pool and upstream client
// rely on for sticky affinity and cache locality.
func DeriveID(messages []ir.Message) string {
	var text string
	for _, msg := range messages {
		if msg.Role != ir.RoleUser {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == ir.ContentTypeText {
				text += part.Text
			}
		}
		break
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
