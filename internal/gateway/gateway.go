// Package gateway composes the translation pipeline: canonical requests
// are normalized and repaired, the thinking-signature policy is applied,
// the configured system instruction is attached, and the result is
// dispatched upstream with the fallback-model policy on total exhaustion.
// Responses come back as canonical events (or raw Google payloads for the
// Google-native surface).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/kestrel-labs/antigravity-gateway/internal/config"
	"github.com/kestrel-labs/antigravity-gateway/internal/fallback"
	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
	"github.com/kestrel-labs/antigravity-gateway/internal/modelid"
	"github.com/kestrel-labs/antigravity-gateway/internal/session"
	"github.com/kestrel-labs/antigravity-gateway/internal/sigcache"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/from_ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/translator/to_ir"
	"github.com/kestrel-labs/antigravity-gateway/internal/upstream"
)

// Upstream is the slice of the upstream client the gateway depends on,
// separated so tests can dispatch against a fake.
type Upstream interface {
	Do(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) ([]byte, error)
	Stream(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) (<-chan upstream.StreamChunk, error)
}

// Gateway owns one configured translation pipeline.
type Gateway struct {
	fallbackOn bool
	store      *config.GatewayStore
	client     Upstream
	cache      *sigcache.Cache
	policy     *fallback.Policy
	metrics    *metrics.Metrics
}

// New wires a Gateway.
func New(cfg *config.Config, store *config.GatewayStore, client Upstream, cache *sigcache.Cache, policy *fallback.Policy, m *metrics.Metrics) *Gateway {
	return &Gateway{
		fallbackOn: cfg.Fallback,
		store:      store,
		client:     client,
		cache:      cache,
		policy:     policy,
		metrics:    m,
	}
}

// Prepared is one dispatch-ready request.
type Prepared struct {
	model       string
	sessionID   string
	body        map[string]interface{}
	requestType string
	thinking    bool
	toolSchemas map[string]map[string]interface{}
}

// prepare normalizes req for the given target model: transcript repair,
// cross-model signature policy, system instruction, rendering to Google
// format, and the purity filter. It never mutates req.
func (g *Gateway) prepare(req *ir.UnifiedChatRequest, model string) *Prepared {
	family := modelid.FamilyOf(model)
	sessionID := session.DeriveID(req.Messages)

	messages := ir.RepairToolTurns(req.Messages)
	messages = ir.OrderThinkingFirst(messages)
	messages = ir.DropDamagedThinking(messages)
	messages = ir.TrimTrailingUnsignedThinking(messages)

	sigFamily := sigcache.FamilyGemini
	if family == modelid.FamilyClaude {
		sigFamily = sigcache.FamilyClaude
	}
	if openIDs, needed := g.cache.NeedsCrossModelRepair(sessionID, messages, sigFamily); needed {
		log.WithFields(log.Fields{"session": sessionID[:8], "open_calls": len(openIDs)}).
			Debug("closing interrupted tool loop for model-family switch")
		messages = sigcache.RepairInterruptedToolLoop(messages, openIDs)
	}
	messages = g.cache.ApplyCrossModelPolicy(sessionID, messages, sigFamily)

	if family == modelid.FamilyGemini && req.Thinking != nil && req.Thinking.IncludeThoughts {
		messages, _ = ir.EnsureLeadingThinking(messages)
	}

	work := *req
	work.Model = model // normalized, possibly fallback-substituted
	work.Messages = messages
	work.System = withSystemInstruction(g.store.SystemInstruction(), req.System)

	body := from_ir.RenderGoogleRequest(&work)
	delete(body, "candidateCount")
	if gen, ok := body["generationConfig"].(map[string]interface{}); ok {
		delete(gen, "candidateCount")
	}
	ir.StripUndefined(body)

	requestType := upstream.RequestTypeAgent
	if modelid.IsImageGeneration(model) {
		requestType = upstream.RequestTypeImageGen
	}

	schemas := make(map[string]map[string]interface{}, len(req.Tools))
	for _, tool := range req.Tools {
		schemas[tool.Name] = tool.InputSchema
	}

	return &Prepared{
		model:       model,
		sessionID:   sessionID,
		body:        body,
		requestType: requestType,
		thinking:    family == modelid.FamilyClaude && modelid.IsThinking(model),
		toolSchemas: schemas,
	}
}

// withSystemInstruction prepends the configured instruction unless the
// client's own system prompt already contains it textually.
func withSystemInstruction(instruction, clientSystem string) string {
	if instruction == "" || strings.Contains(clientSystem, instruction) {
		return clientSystem
	}
	if clientSystem == "" {
		return instruction
	}
	return instruction + "\n\n" + clientSystem
}

// Complete serves a non-streaming caller, returning the canonical events
// of the assembled response.
func (g *Gateway) Complete(ctx context.Context, req *ir.UnifiedChatRequest) ([]ir.UnifiedEvent, error) {
	raw, p, err := g.dispatchUnary(ctx, req, modelid.Normalize(req.Model), false)
	if err != nil {
		return nil, err
	}
	events := to_ir.ParseGoogleChunk(raw)
	g.postProcess(p, events)
	return events, nil
}

// CompleteRaw serves a non-streaming caller in the Google dialect: the
// merged upstream response body, verbatim. Signature remembering still
// runs, so a Google-native turn keeps later cross-model turns valid.
func (g *Gateway) CompleteRaw(ctx context.Context, req *ir.UnifiedChatRequest) ([]byte, error) {
	raw, p, err := g.dispatchUnary(ctx, req, modelid.Normalize(req.Model), false)
	if err != nil {
		return nil, err
	}
	g.postProcess(p, to_ir.ParseGoogleChunk(raw))
	return raw, nil
}

func (g *Gateway) dispatchUnary(ctx context.Context, req *ir.UnifiedChatRequest, model string, recursed bool) ([]byte, *Prepared, error) {
	p := g.prepare(req, model)
	raw, err := g.client.Do(ctx, p.sessionID, p.model, p.body, p.requestType, p.thinking)
	if err != nil {
		if alt, ok := g.fallbackModel(model, recursed, err); ok {
			log.WithFields(log.Fields{"model": model, "fallback": alt}).Info("pool exhausted, retrying with fallback model")
			return g.dispatchUnary(ctx, req, alt, true)
		}
		return nil, nil, err
	}
	return raw, p, nil
}

// Stream serves a streaming caller, returning translated canonical events.
func (g *Gateway) Stream(ctx context.Context, req *ir.UnifiedChatRequest) (<-chan ir.UnifiedEvent, error) {
	chunks, p, err := g.dispatchStream(ctx, req, modelid.Normalize(req.Model), false)
	if err != nil {
		return nil, err
	}
	out := make(chan ir.UnifiedEvent)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Err != nil {
				out <- ir.UnifiedEvent{Type: ir.EventTypeError, Err: chunk.Err}
				return
			}
			events := to_ir.ParseGoogleChunk(chunk.Payload)
			g.postProcess(p, events)
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamRaw serves the Google-native streaming surface: unwrapped upstream
// payloads, forwarded in arrival order. Each payload is still parsed for
// signature remembering on the way through. The returned Prepared context
// carries the session id and final model for callers that need them.
func (g *Gateway) StreamRaw(ctx context.Context, req *ir.UnifiedChatRequest) (<-chan upstream.StreamChunk, *Prepared, error) {
	chunks, p, err := g.dispatchStream(ctx, req, modelid.Normalize(req.Model), false)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan upstream.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Err == nil {
				g.postProcess(p, to_ir.ParseGoogleChunk(chunk.Payload))
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, p, nil
}

func (g *Gateway) dispatchStream(ctx context.Context, req *ir.UnifiedChatRequest, model string, recursed bool) (<-chan upstream.StreamChunk, *Prepared, error) {
	p := g.prepare(req, model)
	chunks, err := g.client.Stream(ctx, p.sessionID, p.model, p.body, p.requestType, p.thinking)
	if err != nil {
		if alt, ok := g.fallbackModel(model, recursed, err); ok {
			log.WithFields(log.Fields{"model": model, "fallback": alt}).Info("pool exhausted, retrying with fallback model")
			return g.dispatchStream(ctx, req, alt, true)
		}
		return nil, nil, err
	}
	return chunks, p, nil
}

// fallbackModel decides whether a failed dispatch should be retried on the
// alternate model: only on rate-limit exhaustion, only when enabled, and
// never more than one hop.
func (g *Gateway) fallbackModel(model string, recursed bool, err error) (string, bool) {
	if !g.fallbackOn || recursed {
		return "", false
	}
	var ge *gwerror.Error
	if !errors.As(err, &ge) || ge.Kind != gwerror.KindRateLimit {
		return "", false
	}
	alt, ok := g.policy.Alternate(model, recursed)
	if ok {
		g.metrics.CountRetry("fallback_model")
	}
	return alt, ok
}

// postProcess applies the response-side policies to freshly parsed events:
// tool argument coercion against the declared schemas, and signature
// remembering so later turns can be validated for cross-model use.
func (g *Gateway) postProcess(p *Prepared, events []ir.UnifiedEvent) {
	if p == nil {
		return
	}
	family := sigcache.FamilyGemini
	if modelid.FamilyOf(p.model) == modelid.FamilyClaude {
		family = sigcache.FamilyClaude
	}
	for i := range events {
		tc := events[i].ToolCall
		if tc == nil {
			continue
		}
		if schema, ok := p.toolSchemas[tc.Name]; ok && len(tc.Args) > 0 {
			var args map[string]interface{}
			if err := json.Unmarshal(tc.Args, &args); err == nil {
				ir.CoerceToolArgs(args, schema)
				if fixed, err := json.Marshal(args); err == nil {
					tc.Args = fixed
				}
			}
		}
		// Only plausibly-genuine signatures are cached; remembering a
		// truncated one would let it pass the cross-model policy later.
		if sig := tc.ThoughtSignature; sig != ir.SkipThoughtSignatureValidator && sigcache.IsValidSignature(sig) {
			g.cache.Remember(p.sessionID, sig, family)
		}
	}
}

// SessionID exposes the derived session id of a Prepared request.
func (p *Prepared) SessionID() string { return p.sessionID }

// Model exposes the (possibly fallback-substituted) target model.
func (p *Prepared) Model() string { return p.model }
