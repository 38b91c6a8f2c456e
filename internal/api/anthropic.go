package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/tokenizer"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/from_ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/to_ir"
)

func (s *Server) handleAnthropicMessages(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.renderError(c, "anthropic", err)
		return
	}
	req, err := to_ir.ParseAnthropicRequest(body)
	if err != nil {
		s.renderError(c, "anthropic", gwerror.Translation("invalid request body", err))
		return
	}
	if req.Model == "" {
		s.renderError(c, "anthropic", gwerror.New(gwerror.KindTranslation, "missing required field: model"))
		return
	}
	if len(req.Messages) == 0 {
		s.renderError(c, "anthropic", gwerror.New(gwerror.KindTranslation, "missing required field: messages"))
		return
	}

	if req.Stream {
		s.streamAnthropic(c, req)
		return
	}

	events, err := s.gw.Complete(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, "anthropic", err)
		return
	}
	msgs, usage, _, finish := ir.EventsToMessages(events)
	usage = ensureUsage(req, msgs, usage)
	resp := from_ir.RenderAnthropicResponse(req.Model, msgs, usage)
	resp["stop_reason"] = ir.MapFinishReasonToClaude(finish)
	s.metrics.CountRequest("anthropic", "200")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) streamAnthropic(c *gin.Context, req *ir.UnifiedChatRequest) {
	start := time.Now()
	events, err := s.gw.Stream(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, "anthropic", err)
		return
	}
	sseHeaders(c)
	renderer := from_ir.NewAnthropicStreamRenderer(req.Model)
	for ev := range events {
		if ev.Type == ir.EventTypeError {
			ge, ok := ev.Err.(*gwerror.Error)
			if !ok {
				ge = gwerror.Wrap(gwerror.KindUpstream, "stream failed", ev.Err)
			}
			writeFrames(c, []string{from_ir.RenderAnthropicErrorFrame(ge)})
			break
		}
		if !writeFrames(c, renderer.Render(ev)) {
			return
		}
	}
	s.metrics.CountRequest("anthropic", "200")
	s.metrics.StreamDuration.WithLabelValues("anthropic").Observe(time.Since(start).Seconds())
}

// handleAnthropicCountTokens estimates prompt tokens without an upstream
// call, mirroring the Anthropic count_tokens surface.
func (s *Server) handleAnthropicCountTokens(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.renderError(c, "anthropic", err)
		return
	}
	req, err := to_ir.ParseAnthropicRequest(body)
	if err != nil {
		s.renderError(c, "anthropic", gwerror.Translation("invalid request body", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": tokenizer.CountRequest(req)})
}
