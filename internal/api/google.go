package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/to_ir"
)

// handleGoogleGenerate serves the Google-native surface. The wildcard
// parameter carries "{model}:generateContent" or
// "{model}:streamGenerateContent"; streaming is chosen by the action, with
// alt=sse as the documented toggle.
func (s *Server) handleGoogleGenerate(c *gin.Context) {
	modelAction := strings.TrimPrefix(c.Param("modelAction"), "/")
	model, action, found := strings.Cut(modelAction, ":")
	if !found || model == "" {
		s.renderError(c, "google", gwerror.New(gwerror.KindTranslation, "malformed model path: want {model}:generateContent"))
		return
	}

	var streaming bool
	switch action {
	case "generateContent":
		streaming = false
	case "streamGenerateContent":
		streaming = c.Query("alt") == "" || c.Query("alt") == "sse"
	default:
		s.renderError(c, "google", gwerror.New(gwerror.KindTranslation, "unsupported action: "+action))
		return
	}

	body, err := readBody(c)
	if err != nil {
		s.renderError(c, "google", err)
		return
	}
	req, err := to_ir.ParseGoogleRequest(model, body)
	if err != nil {
		s.renderError(c, "google", gwerror.Translation("invalid request body", err))
		return
	}
	if len(req.Messages) == 0 {
		s.renderError(c, "google", gwerror.New(gwerror.KindTranslation, "missing required field: contents"))
		return
	}

	if !streaming {
		raw, err := s.gw.CompleteRaw(c.Request.Context(), req)
		if err != nil {
			s.renderError(c, "google", err)
			return
		}
		s.metrics.CountRequest("google", "200")
		c.Data(http.StatusOK, "application/json", raw)
		return
	}

	start := time.Now()
	chunks, _, err := s.gw.StreamRaw(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, "google", err)
		return
	}
	sseHeaders(c)
	for chunk := range chunks {
		if chunk.Err != nil {
			// Google SSE has no error event type; the stream simply ends.
			break
		}
		if !writeFrames(c, []string{"data: " + string(chunk.Payload) + "\n\n"}) {
			return
		}
	}
	s.metrics.CountRequest("google", "200")
	s.metrics.StreamDuration.WithLabelValues("google").Observe(time.Since(start).Seconds())
}
