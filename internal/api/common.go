package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/tokenizer"
)

// maxBodyBytes bounds inbound request bodies; conversations with inline
// images run large, so the cap is generous.
const maxBodyBytes = 64 << 20

func readBody(c *gin.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, gwerror.Translation("failed to read request body", err)
	}
	return data, nil
}

// renderError writes err in the given dialect's error envelope and counts
// the request.
func (s *Server) renderError(c *gin.Context, dialect string, err error) {
	var ge *gwerror.Error
	if !errors.As(err, &ge) {
		ge = gwerror.Wrap(gwerror.KindUpstream, "internal error", err)
	}
	status := ge.HTTPStatus()
	s.metrics.CountRequest(dialect, strconv.Itoa(status))
	switch dialect {
	case "anthropic":
		c.JSON(status, ge.RenderAnthropic())
	case "google":
		c.JSON(status, ge.RenderGoogle())
	default:
		c.JSON(status, ge.RenderOpenAI())
	}
}

// sseHeaders prepares the response for Server-Sent Events streaming.
func sseHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

// writeFrames writes rendered SSE frames and flushes, so the caller sees
// each chunk as it arrives instead of a buffered burst at the end.
func writeFrames(c *gin.Context, frames []string) bool {
	for _, frame := range frames {
		if _, err := c.Writer.WriteString(frame); err != nil {
			return false
		}
	}
	c.Writer.Flush()
	return true
}

// ensureUsage backfills token accounting with tokenizer estimates when the
// upstream response carried no usageMetadata.
func ensureUsage(req *ir.UnifiedChatRequest, msgs []ir.Message, usage *ir.Usage) *ir.Usage {
	if usage != nil {
		return usage
	}
	prompt := tokenizer.CountRequest(req)
	completion := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			completion += tokenizer.CountText(part.Text) + tokenizer.CountText(part.Reasoning)
		}
	}
	return &ir.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
