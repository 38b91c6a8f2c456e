// Package upstream implements the HTTP client that fulfills translated
// requests against the Google-format "Cloud Code"/Antigravity upstream:
// envelope wrapping, header construction, endpoint fallback, and the
// streaming peek-and-retry policy.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-labs/antigravity-gateway/internal/account"
	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
	"github.com/kestrel-labs/antigravity-gateway/internal/ratelimit"
)

const (
	pathStream = "/v1internal:streamGenerateContent?alt=sse"

	defaultUserAgent = "antigravity/1.104.0 darwin/arm64"

	peekTimeout = 30 * time.Second
	maxAttempts = 3
)

// RequestType values for the upstream envelope.
const (
	RequestTypeAgent    = "agent"
	RequestTypeImageGen = "image_gen"
)

// Client sends translated requests to the Antigravity upstream, rotating
// accounts and base URLs on rate limits and validating the first streamed
// chunk before committing to a stream.
//
// The upstream's non-streaming endpoint has tighter quotas than its
// streaming one, so the client always dispatches streamGenerateContent and
// assembles a single response out of the chunks when the caller wanted a
// non-streaming reply.
type Client struct {
	http     *http.Client
	pool     *account.Pool
	pacer    *ratelimit.Pacer
	metrics  *metrics.Metrics
	baseURLs []string

	cooldownBase time.Duration
	cooldownCap  time.Duration
	userAgent    string
}

// New constructs a Client. baseURLs are tried in order when an endpoint
// (rather than an account) is the failing party.
func New(pool *account.Pool, pacer *ratelimit.Pacer, m *metrics.Metrics, baseURLs []string, cooldownBase, cooldownCap time.Duration) *Client {
	if len(baseURLs) == 0 {
		baseURLs = []string{"https://cloudcode-pa.googleapis.com"}
	}
	return &Client{
		http:         &http.Client{Transport: newDecompressingTransport(nil)},
		pool:         pool,
		pacer:        pacer,
		metrics:      m,
		baseURLs:     baseURLs,
		cooldownBase: cooldownBase,
		cooldownCap:  cooldownCap,
		userAgent:    defaultUserAgent,
	}
}

// StreamChunk is one upstream SSE datum, already stripped of its "data:"
// prefix and unwrapped from the {"response": ...} envelope, or a terminal
// error.
type StreamChunk struct {
	Payload []byte
	Err     error
}

func (c *Client) envelope(acct *account.Account, model string, body map[string]interface{}, requestType string) map[string]interface{} {
	return map[string]interface{}{
		"project":     acct.ProjectID,
		"model":       model,
		"request":     body,
		"userAgent":   c.userAgent,
		"requestId":   "agent-" + uuid.NewString(),
		"requestType": requestType,
	}
}

func (c *Client) headers(req *http.Request, token string, thinking bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/event-stream")
	if thinking {
		req.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")
	}
}

// Do fulfills a non-streaming caller: it opens an upstream stream anyway
// and assembles the chunks into a single Google-format response.
func (c *Client) Do(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) ([]byte, error) {
	chunks, err := c.Stream(ctx, sessionID, model, body, requestType, thinking)
	if err != nil {
		return nil, err
	}
	return MergeChunks(chunks)
}

// Stream dispatches the request and validates the first SSE chunk before
// committing to the stream, retrying with a different account (up to
// maxAttempts total) when the upstream goes silent: a stream that closes
// immediately, produces an empty first read, or produces nothing within
// peekTimeout. After the first chunk is validated, the remaining chunks
// are forwarded as they arrive with no further peeking.
func (c *Client) Stream(ctx context.Context, sessionID, model string, body map[string]interface{}, requestType string, thinking bool) (<-chan StreamChunk, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, gwerror.Transport("caller cancelled", ctx.Err())
		}
		// A retry must land on a different account, so the sticky key is
		// perturbed after the first attempt.
		stickyKey := sessionID
		if attempt > 0 {
			stickyKey = fmt.Sprintf("%s#retry%d", sessionID, attempt)
		}
		acct := c.pool.PickNext(model, stickyKey)
		if acct == nil {
			return nil, gwerror.RateLimit("no account available for model " + model)
		}
		token, err := c.pool.GetToken(ctx, acct)
		if err != nil {
			lastErr = gwerror.Wrap(gwerror.KindAuth, "token refresh failed for "+acct.Email, err)
			continue
		}
		if err := c.pacer.Wait(ctx, acct.Email); err != nil {
			return nil, gwerror.Transport("rate pacer wait failed", err)
		}

		payload, err := json.Marshal(c.envelope(acct, model, body, requestType))
		if err != nil {
			return nil, gwerror.Translation("failed to marshal upstream envelope", err)
		}

		resp, err := c.dispatch(ctx, acct, model, token, payload, thinking)
		if err != nil {
			lastErr = err
			c.metrics.CountRetry(retryReason(err))
			continue
		}

		br := bufio.NewReaderSize(resp.Body, 64*1024)
		first, err := peekFirstDatum(ctx, br)
		if err != nil {
			_ = resp.Body.Close()
			if ctx.Err() != nil {
				return nil, gwerror.Transport("caller cancelled", ctx.Err())
			}
			lastErr = err
			c.metrics.CountRetry("empty_stream")
			log.WithFields(log.Fields{"account": acct.Email, "attempt": attempt + 1}).
				Debug("silent upstream stream, retrying with another account")
			continue
		}

		c.pool.ReportSuccess(acct, model)
		out := make(chan StreamChunk)
		go forwardStream(ctx, resp.Body, br, first, out)
		return out, nil
	}
	return nil, gwerror.Upstream("stream failed after retries", lastErr)
}

// dispatch tries each base URL in order, moving on when the failure is
// attributable to the endpoint: a network error, a 404 (model unknown
// there), or a 429 whose body indicates a per-endpoint quota.
func (c *Client) dispatch(ctx context.Context, acct *account.Account, model, token string, payload []byte, thinking bool) (*http.Response, error) {
	var lastErr error
	for _, base := range c.baseURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+pathStream, bytes.NewReader(payload))
		if err != nil {
			return nil, gwerror.Transport("failed to build upstream request", err)
		}
		c.headers(req, token, thinking)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = gwerror.Transport("upstream request failed", err)
			continue
		}
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound:
			lastErr = gwerror.Upstream(fmt.Sprintf("model %s unknown at %s", model, base), fmt.Errorf("%s", body))
			continue
		case http.StatusTooManyRequests:
			// An endpoint-level quota is the endpoint's problem, not the
			// account's: move on without cooling the account down.
			if ratelimit.IsPerEndpointQuota(body) {
				c.metrics.CountRetry("rate_limit")
				lastErr = gwerror.RateLimit("endpoint quota exhausted at " + base)
				continue
			}
			c.reportRateLimit(acct, model, body, resp.Header.Get("Retry-After"))
			return nil, gwerror.RateLimit("upstream rate limit exceeded")
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, gwerror.Wrap(gwerror.KindAuth, "upstream rejected credentials", fmt.Errorf("%s", body))
		default:
			return nil, gwerror.Upstream(fmt.Sprintf("upstream returned status %d", resp.StatusCode), fmt.Errorf("%s", body))
		}
	}
	if lastErr == nil {
		lastErr = gwerror.Upstream("no base url available", nil)
	}
	return nil, lastErr
}

// peekFirstDatum reads until the first non-empty "data:" line, bounded by
// peekTimeout. Empty or absent data is the silent-failure signature the
// retry loop exists for.
func peekFirstDatum(ctx context.Context, br *bufio.Reader) ([]byte, error) {
	type readResult struct {
		payload []byte
		err     error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		for {
			line, err := br.ReadBytes('\n')
			if err != nil {
				resultCh <- readResult{nil, err}
				return
			}
			if payload := dataPayload(line); payload != nil {
				resultCh <- readResult{payload, nil}
				return
			}
		}
	}()

	timer := time.NewTimer(peekTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, gwerror.Empty("timeout waiting for first stream chunk")
	case r := <-resultCh:
		if r.err != nil {
			if r.err == io.EOF {
				return nil, gwerror.Empty("upstream closed stream before first chunk")
			}
			return nil, gwerror.Transport("reading first stream chunk", r.err)
		}
		if len(bytes.TrimSpace(r.payload)) == 0 {
			return nil, gwerror.Empty("empty first stream chunk")
		}
		return r.payload, nil
	}
}

// dataPayload extracts and unwraps the payload of one SSE line, or nil if
// the line carries no data.
func dataPayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return nil
	}
	payload := bytes.TrimSpace(trimmed[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return nil
	}
	return unwrapEnvelope(payload)
}

func forwardStream(ctx context.Context, body io.ReadCloser, br *bufio.Reader, first []byte, out chan<- StreamChunk) {
	defer close(out)
	defer func() { _ = body.Close() }()

	select {
	case out <- StreamChunk{Payload: first}:
	case <-ctx.Done():
		return
	}

	for {
		line, err := br.ReadBytes('\n')
		if payload := dataPayload(line); payload != nil {
			select {
			case out <- StreamChunk{Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				out <- StreamChunk{Err: gwerror.Transport("stream broken after first chunk", err)}
			}
			return
		}
	}
}

func (c *Client) reportRateLimit(acct *account.Account, model string, body []byte, retryAfterHeader string) {
	parsed, hasParsed := ratelimit.ParseRetryAfter(retryAfterHeader)
	if !hasParsed {
		parsed, hasParsed = ratelimit.ParseResetAt(body)
	}
	c.pool.ReportRateLimited(acct, model, parsed, hasParsed, c.cooldownBase, c.cooldownCap)
	c.metrics.CountRetry("rate_limit")
	c.metrics.CountCooldown(acct.Email, model)
}

func retryReason(err error) string {
	if ge, ok := err.(*gwerror.Error); ok {
		switch ge.Kind {
		case gwerror.KindRateLimit:
			return "rate_limit"
		case gwerror.KindEmpty:
			return "empty_stream"
		}
	}
	return "transport"
}

// unwrapEnvelope strips the upstream's {"response": {...}} wrapper if
// present, returning the inner Google-format body either way.
func unwrapEnvelope(data []byte) []byte {
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		return wrapper.Response
	}
	return data
}
