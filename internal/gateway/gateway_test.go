package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kestrel-labs/antigravity-gateway/internal/config"
	"github.com/kestrel-labs/antigravity-gateway/internal/fallback"
	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
	"github.com/kestrel-labs/antigravity-gateway/internal/sigcache"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/to_ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/upstream"
)

// fakeUpstream captures dispatched bodies and replays scripted responses.
type fakeUpstream struct {
	bodies   []map[string]interface{}
	models   []string
	response []byte
	err      error
	errOnce  bool
}

func (f *fakeUpstream) Do(_ context.Context, _, model string, body map[string]interface{}, _ string, _ bool) ([]byte, error) {
	f.models = append(f.models, model)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return nil, err
	}
	if f.response != nil {
		return f.response, nil
	}
	return []byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`), nil
}

func (f *fakeUpstream) Stream(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) (<-chan upstream.StreamChunk, error) {
	raw, err := f.Do(ctx, sessionID, model, body, requestType, thinking)
	if err != nil {
		return nil, err
	}
	out := make(chan upstream.StreamChunk, 1)
	out <- upstream.StreamChunk{Payload: raw}
	close(out)
	return out, nil
}

func testGateway(t *testing.T, fake *fakeUpstream, fallbackOn bool) (*Gateway, *sigcache.Cache) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Fallback = fallbackOn
	store, err := config.NewGatewayStore(t.TempDir())
	require.NoError(t, err)
	cache := sigcache.New()
	return New(cfg, store, fake, cache, fallback.NewPolicy(nil), metrics.New()), cache
}

func userText(text string) ir.Message {
	return ir.Message{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: text}}}
}

func TestSystemInstructionPrepended(t *testing.T) {
	fake := &fakeUpstream{}
	gw, _ := testGateway(t, fake, false)

	req := &ir.UnifiedChatRequest{
		Model:    "gemini-2.5-pro",
		System:   "Client system prompt.",
		Messages: []ir.Message{userText("hi")},
	}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0])
	sys := gjson.GetBytes(raw, "systemInstruction.parts.0.text").String()
	assert.True(t, strings.HasPrefix(sys, config.SystemSentinel), "configured instruction must come first")
	assert.Contains(t, sys, "Client system prompt.")
}

func TestSystemInstructionNotDuplicated(t *testing.T) {
	fake := &fakeUpstream{}
	gw, _ := testGateway(t, fake, false)

	req := &ir.UnifiedChatRequest{
		Model:    "gemini-2.5-pro",
		System:   config.DefaultSystemInstruction + " Plus client additions.",
		Messages: []ir.Message{userText("hi")},
	}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0])
	sys := gjson.GetBytes(raw, "systemInstruction.parts.0.text").String()
	assert.Equal(t, 1, strings.Count(sys, config.SystemSentinel), "instruction must not be prepended twice")
}

// S3 / property 4, driven through the real Anthropic parse path: the
// thinking block's signature ends up as the functionCall's
// thoughtSignature, kept only when its cached family is Gemini, the
// sentinel otherwise. No Claude-cached signature survives to a Gemini
// dispatch.
func TestCrossModelSignaturePolicy(t *testing.T) {
	sigGem := strings.Repeat("g", 64)
	sigClaude := strings.Repeat("c", 64)
	body := `{
		"model": "gemini-2.5-pro",
		"max_tokens": 64,
		"messages": [
			{"role": "user", "content": "first message"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "need the time", "signature": "` + sigGem + `"},
				{"type": "tool_use", "id": "t1", "name": "get_time", "input": {}}
			]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "t1", "content": "14:05"}]},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "need the date", "signature": "` + sigClaude + `"},
				{"type": "tool_use", "id": "t2", "name": "get_date", "input": {}}
			]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "t2", "content": "today"}]},
			{"role": "user", "content": "and now?"}
		]
	}`
	req, err := to_ir.ParseAnthropicRequest([]byte(body))
	require.NoError(t, err)

	fake := &fakeUpstream{}
	gw, cache := testGateway(t, fake, false)
	sessionID := deriveSession(t, gw, req.Messages)
	cache.Remember(sessionID, sigGem, sigcache.FamilyGemini)
	cache.Remember(sessionID, sigClaude, sigcache.FamilyClaude)

	_, err = gw.Complete(context.Background(), req)
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0])
	calls := gjson.GetBytes(raw, `contents.#(role=="model")#.parts.0`).Array()
	require.Len(t, calls, 2)
	assert.Equal(t, "get_time", calls[0].Get("functionCall.name").String())
	assert.Equal(t, sigGem, calls[0].Get("thoughtSignature").String(),
		"a gemini-cached thinking signature must ride the functionCall")
	assert.Equal(t, "get_date", calls[1].Get("functionCall.name").String())
	assert.Equal(t, ir.SkipThoughtSignatureValidator, calls[1].Get("thoughtSignature").String(),
		"a claude-cached thinking signature must be replaced by the sentinel")
	assert.NotContains(t, string(raw), sigClaude, "no claude-cached signature may reach a gemini dispatch")
}

// deriveSession runs a throwaway prepare to learn the session id the
// gateway will derive for the conversation.
func deriveSession(t *testing.T, gw *Gateway, msgs []ir.Message) string {
	t.Helper()
	p := gw.prepare(&ir.UnifiedChatRequest{Model: "gemini-2.5-pro", Messages: msgs}, "gemini-2.5-pro")
	return p.SessionID()
}

// S4: a Gemini-history conversation with an open tool loop, redirected to
// a Claude model, gains a synthesized closing user turn.
func TestCrossModelToolLoopRepair(t *testing.T) {
	fake := &fakeUpstream{}
	gw, cache := testGateway(t, fake, false)

	history := []ir.Message{
		userText("first message"),
		{Role: ir.RoleAssistant, Content: []ir.ContentPart{
			{Type: ir.ContentTypeToolUse, ToolCallID: "open-1", ToolName: "get_time", ToolInput: json.RawMessage(`{}`), ThoughtSignature: "sig-g"},
		}},
	}
	sessionID := deriveSession(t, gw, history)
	cache.Remember(sessionID, "sig-g", sigcache.FamilyGemini)

	req := &ir.UnifiedChatRequest{Model: "claude-sonnet-4-5", Messages: history}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0])
	contents := gjson.GetBytes(raw, "contents").Array()
	last := contents[len(contents)-1]
	assert.Equal(t, "user", last.Get("role").String(), "a closing user turn must be synthesized")
	assert.True(t, last.Get("parts.0.functionResponse").Exists(), "the synthesized turn answers the open call")
}

func TestPurityOfDispatchedBody(t *testing.T) {
	fake := &fakeUpstream{}
	gw, _ := testGateway(t, fake, false)

	req := &ir.UnifiedChatRequest{
		Model:    "gemini-2.5-pro",
		Messages: []ir.Message{userText("ping [not undefined] pong")},
	}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0])
	assert.NotContains(t, string(raw), "null")
	assert.NotContains(t, string(raw), "[undefined]")
}

func TestFallbackSingleHop(t *testing.T) {
	fake := &fakeUpstream{err: gwerror.RateLimit("no account available for model gemini-3-pro-preview"), errOnce: true}
	gw, _ := testGateway(t, fake, true)

	req := &ir.UnifiedChatRequest{Model: "gemini-3-pro-preview", Messages: []ir.Message{userText("hi")}}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fake.models, 2)
	assert.Equal(t, "gemini-3-pro-preview", fake.models[0])
	assert.Equal(t, "gemini-2.5-pro", fake.models[1])
}

func TestFallbackDisabled(t *testing.T) {
	fake := &fakeUpstream{err: gwerror.RateLimit("no account available")}
	gw, _ := testGateway(t, fake, false)

	req := &ir.UnifiedChatRequest{Model: "gemini-3-pro-preview", Messages: []ir.Message{userText("hi")}}
	_, err := gw.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Len(t, fake.models, 1, "no fallback dispatch when disabled")
}

func TestSignaturesRememberedFromResponses(t *testing.T) {
	longSig := strings.Repeat("s", 64)
	fake := &fakeUpstream{response: []byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_time","args":{}},"thoughtSignature":"` + longSig + `"}]},"finishReason":"STOP"}]}`)}
	gw, cache := testGateway(t, fake, false)

	history := []ir.Message{userText("what time?")}
	req := &ir.UnifiedChatRequest{Model: "gemini-2.5-pro", Messages: history}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)

	sessionID := deriveSession(t, gw, history)
	family, ok := cache.Lookup(sessionID, longSig)
	require.True(t, ok, "response signatures must be cached")
	assert.Equal(t, sigcache.FamilyGemini, family)
}

func TestModelDisplayPrefixNormalized(t *testing.T) {
	fake := &fakeUpstream{}
	gw, _ := testGateway(t, fake, false)

	req := &ir.UnifiedChatRequest{Model: "[Antigravity] gemini-2.5-pro", Messages: []ir.Message{userText("hi")}}
	_, err := gw.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", fake.models[0])
}
