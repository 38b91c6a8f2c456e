package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/modelid"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/from_ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/to_ir"
)

func (s *Server) handleOpenAIChat(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.renderError(c, "openai", err)
		return
	}
	req, err := to_ir.ParseOpenAIRequest(body)
	if err != nil {
		s.renderError(c, "openai", gwerror.Translation("invalid request body", err))
		return
	}
	if req.Model == "" {
		s.renderError(c, "openai", gwerror.New(gwerror.KindTranslation, "missing required field: model"))
		return
	}
	if len(req.Messages) == 0 {
		s.renderError(c, "openai", gwerror.New(gwerror.KindTranslation, "missing required field: messages"))
		return
	}

	if req.Stream {
		s.streamOpenAI(c, req)
		return
	}

	events, err := s.gw.Complete(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, "openai", err)
		return
	}
	msgs, usage, meta, finish := ir.EventsToMessages(events)
	usage = ensureUsage(req, msgs, usage)
	resp := from_ir.RenderOpenAIResponse(req.Model, msgs, usage, meta)
	if choices, ok := resp["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			choice["finish_reason"] = finishToOpenAI(finish)
		}
	}
	s.metrics.CountRequest("openai", "200")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) streamOpenAI(c *gin.Context, req *ir.UnifiedChatRequest) {
	start := time.Now()
	events, err := s.gw.Stream(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, "openai", err)
		return
	}
	sseHeaders(c)
	renderer := from_ir.NewOpenAIStreamRenderer(req.Model, time.Now().Unix())
	for ev := range events {
		if ev.Type == ir.EventTypeError {
			ge, ok := ev.Err.(*gwerror.Error)
			if !ok {
				ge = gwerror.Wrap(gwerror.KindUpstream, "stream failed", ev.Err)
			}
			writeFrames(c, []string{from_ir.RenderOpenAIErrorFrame(ge)})
			break
		}
		if !writeFrames(c, renderer.Render(ev)) {
			return // caller went away; context cancellation stops the upstream reader
		}
	}
	s.metrics.CountRequest("openai", "200")
	s.metrics.StreamDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
}

func (s *Server) handleListModels(c *gin.Context) {
	models := make([]gin.H, 0, len(modelid.Known))
	for _, id := range modelid.Known {
		models = append(models, gin.H{
			"id":     id,
			"object": "model",
			// Some client model pickers show this; Normalize strips it
			// back off when such a client echoes it as the model id.
			"display_name": modelid.Display("Antigravity", id),
			"owned_by":     "antigravity",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": models})
}

func finishToOpenAI(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return "length"
	case ir.FinishReasonToolCalls:
		return "tool_calls"
	case ir.FinishReasonContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}
