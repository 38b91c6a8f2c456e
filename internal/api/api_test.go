package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/account"
	"github.com/kestrel-labs/antigravity-gateway/internal/config"
	"github.com/kestrel-labs/antigravity-gateway/internal/fallback"
	"github.com/kestrel-labs/antigravity-gateway/internal/gateway"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
	"github.com/kestrel-labs/antigravity-gateway/internal/sigcache"
	"github.com/kestrel-labs/antigravity-gateway/internal/upstream"
)

// scriptedUpstream returns the configured chunk payloads and captures the
// dispatched Google-format bodies.
type scriptedUpstream struct {
	chunks []string
	bodies []map[string]interface{}
}

func (s *scriptedUpstream) Do(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) ([]byte, error) {
	ch, err := s.Stream(ctx, sessionID, model, body, requestType, thinking)
	if err != nil {
		return nil, err
	}
	return upstream.MergeChunks(ch)
}

func (s *scriptedUpstream) Stream(_ context.Context, _, _ string, body map[string]interface{}, _ string, _ bool) (<-chan upstream.StreamChunk, error) {
	s.bodies = append(s.bodies, body)
	out := make(chan upstream.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- upstream.StreamChunk{Payload: []byte(c)}
	}
	close(out)
	return out, nil
}

func testServer(t *testing.T, up gateway.Upstream, mutate ...func(*config.Config)) (*gin.Engine, *scriptedUpstream) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Defaults()
	for _, m := range mutate {
		m(cfg)
	}
	store, err := config.NewGatewayStore(t.TempDir())
	require.NoError(t, err)
	gw := gateway.New(cfg, store, up, sigcache.New(), fallback.NewPolicy(nil), metrics.New())
	pool := account.NewPool(nil, nil, 0)
	engine := New(cfg, gw, pool, store, metrics.New())
	scripted, _ := up.(*scriptedUpstream)
	return engine, scripted
}

func doJSON(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// S1: OpenAI passthrough, text only, non-streaming.
func TestOpenAIPassthrough(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"pong"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`,
	}}
	engine, scripted := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"ping"}],"stream":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The dispatched body is Google format: one user content, one text part.
	require.Len(t, scripted.bodies, 1)
	contents := scripted.bodies[0]["contents"].([]interface{})
	require.Len(t, contents, 1)
	first := contents[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	parts := first["parts"].([]interface{})
	require.Len(t, parts, 1)
	assert.Equal(t, "ping", parts[0].(map[string]interface{})["text"])

	resp := w.Body.String()
	assert.Equal(t, "assistant", gjson.Get(resp, "choices.0.message.role").String())
	assert.Equal(t, "pong", gjson.Get(resp, "choices.0.message.content").String())
	assert.Equal(t, "stop", gjson.Get(resp, "choices.0.finish_reason").String())
}

// S2: streaming SSE round trip with two deltas and the [DONE] sentinel.
func TestOpenAIStreaming(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"po"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"ng"}]},"finishReason":"STOP"}]}`,
	}}
	engine, _ := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"ping"}],"stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	var deltas []string
	for _, frame := range frames {
		data := strings.TrimPrefix(frame, "data: ")
		if data == "[DONE]" {
			continue
		}
		if content := gjson.Get(data, "choices.0.delta.content"); content.Exists() && content.String() != "" {
			deltas = append(deltas, content.String())
		}
	}
	assert.Equal(t, []string{"po", "ng"}, deltas)
	assert.Equal(t, "data: [DONE]", frames[len(frames)-1], "stream must end with the DONE sentinel")
}

func TestAnthropicMessages(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"pong"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`,
	}}
	engine, _ := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4-5","max_tokens":64,"messages":[{"role":"user","content":"ping"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := w.Body.String()
	assert.Equal(t, "message", gjson.Get(resp, "type").String())
	assert.Equal(t, "pong", gjson.Get(resp, "content.0.text").String())
	assert.Equal(t, "end_turn", gjson.Get(resp, "stop_reason").String())
	assert.EqualValues(t, 1, gjson.Get(resp, "usage.input_tokens").Int())
}

func TestAnthropicStreamingEventSequence(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`,
	}}
	engine, _ := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4-5","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"ping"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		assert.Contains(t, body, "event: "+event)
	}
}

func TestGoogleNativeGenerate(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"native"}]},"finishReason":"STOP"}]}`,
	}}
	engine, _ := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hello"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "native", gjson.Get(w.Body.String(), "candidates.0.content.parts.0.text").String())
}

func TestGoogleNativeStreaming(t *testing.T) {
	up := &scriptedUpstream{chunks: []string{
		`{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"b"}]},"finishReason":"STOP"}]}`,
	}}
	engine, _ := testServer(t, up)

	w := doJSON(engine, http.MethodPost, "/v1beta/models/gemini-2.5-pro:streamGenerateContent?alt=sse",
		`{"contents":[{"role":"user","parts":[{"text":"hello"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "data: "))
}

func TestListModels(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{})
	w := doJSON(engine, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := gjson.Get(w.Body.String(), "data").Array()
	assert.NotEmpty(t, data)
	assert.Equal(t, "model", data[0].Get("object").String())
}

func TestHealth(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{})
	w := doJSON(engine, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCountTokens(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{})
	w := doJSON(engine, http.MethodPost, "/v1/messages/count_tokens",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"the quick brown fox jumps over the lazy dog"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, gjson.Get(w.Body.String(), "input_tokens").Int(), int64(0))
}

func TestGatewayConfigSentinel(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{})

	w := doJSON(engine, http.MethodPost, "/api/gateway/config",
		`{"systemInstruction":"You are something else entirely."}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "writes without the sentinel must be rejected")

	w = doJSON(engine, http.MethodPost, "/api/gateway/config",
		`{"systemInstruction":"You are Antigravity, with custom additions."}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(engine, http.MethodGet, "/api/gateway/config", "")
	assert.Contains(t, w.Body.String(), "custom additions")
}

func TestManagementAuthPassword(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{}, func(c *config.Config) { c.WebUIPassword = "hunter2" })

	w := doJSON(engine, http.MethodGet, "/account-limits", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/account-limits", nil)
	req.Header.Set("X-Webui-Password", "hunter2")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTranslationErrors(t *testing.T) {
	engine, _ := testServer(t, &scriptedUpstream{})

	w := doJSON(engine, http.MethodPost, "/v1/chat/completions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	w = doJSON(engine, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "model")
}
