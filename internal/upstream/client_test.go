package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/kestrel-labs/antigravity-gateway/internal/account"
	"github.com/kestrel-labs/antigravity-gateway/internal/gwerror"
	"github.com/kestrel-labs/antigravity-gateway/internal/ratelimit"
)

type staticRefresher struct{}

func (staticRefresher) Refresh(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func testAccount(email string) *account.Account {
	return &account.Account{
		Email:        email,
		RefreshToken: "rt-" + email,
		AccessToken:  "tok-" + email,
		TokenExpiry:  time.Now().Add(time.Hour),
		ProjectID:    "proj-" + email,
	}
}

func testClient(t *testing.T, url string, accounts ...*account.Account) (*Client, *account.Pool) {
	t.Helper()
	pool := account.NewPool(accounts, staticRefresher{}, time.Minute)
	c := New(pool, ratelimit.NewPacer(0, 0), nil, []string{url}, time.Minute, time.Hour)
	return c, pool
}

func sseBody(payloads ...string) string {
	out := ""
	for _, p := range payloads {
		out += "data: " + p + "\n\n"
	}
	return out
}

func collect(t *testing.T, ch <-chan StreamChunk) []string {
	t.Helper()
	var out []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		out = append(out, string(chunk.Payload))
	}
	return out
}

func TestStreamUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-a@x", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"response":{"candidates":[{"content":{"parts":[{"text":"po"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"ng"}]}}]}}`,
		))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, testAccount("a@x"))
	chunks, err := c.Stream(context.Background(), "sess", "gemini-2.5-pro", map[string]interface{}{}, RequestTypeAgent, false)
	require.NoError(t, err)

	got := collect(t, chunks)
	require.Len(t, got, 2)
	assert.Equal(t, "po", gjson.Get(got[0], "candidates.0.content.parts.0.text").String())
	assert.Equal(t, "ng", gjson.Get(got[1], "candidates.0.content.parts.0.text").String())
}

func TestStreamEnvelopeShape(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, sseBody(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, testAccount("a@x"))
	body := map[string]interface{}{"contents": []interface{}{}}
	chunks, err := c.Stream(context.Background(), "sess", "gemini-2.5-pro", body, RequestTypeAgent, false)
	require.NoError(t, err)
	collect(t, chunks)

	envelope := gjson.ParseBytes(captured)
	for _, field := range []string{"project", "model", "request", "userAgent", "requestId", "requestType"} {
		assert.True(t, envelope.Get(field).Exists(), "envelope missing %s", field)
	}
	assert.Equal(t, "proj-a@x", envelope.Get("project").String())
	assert.Equal(t, "agent", envelope.Get("requestType").String())
	var fieldCount int
	envelope.ForEach(func(_, _ gjson.Result) bool { fieldCount++; return true })
	assert.Equal(t, 6, fieldCount, "envelope must contain exactly the six documented fields")
}

// S5: the first account rate-limits, the second serves the request, and
// the first's cooldown advances.
func TestStreamRotatesAccountsOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-a@x" {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"status":"RESOURCE_EXHAUSTED","message":"per account quota"}}`)
			return
		}
		fmt.Fprint(w, sseBody(`{"response":{"candidates":[{"content":{"parts":[{"text":"served by b"}]}}]}}`))
	}))
	defer srv.Close()

	a, b := testAccount("a@x"), testAccount("b@x")
	a.LastUsedSessionID = "sess" // sticky, so the first attempt lands on a
	c, _ := testClient(t, srv.URL, a, b)

	chunks, err := c.Stream(context.Background(), "sess", "gemini-2.5-pro", map[string]interface{}{}, RequestTypeAgent, false)
	require.NoError(t, err)
	got := collect(t, chunks)
	require.Len(t, got, 1, "the caller sees exactly one successful response")
	assert.Contains(t, got[0], "served by b")
	assert.True(t, a.CooldownUntil("gemini-2.5-pro").After(time.Now()), "the limited account's cooldown must advance")
}

// S6: a silent first chunk discards the stream and reissues on another
// account; the caller sees no data from the failed attempt.
func TestStreamRetriesSilentFirstChunk(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Content-Type", "text/event-stream")
			return // 200 with an immediately-closed empty body
		}
		fmt.Fprint(w, sseBody(`{"response":{"candidates":[{"content":{"parts":[{"text":"second try"}]}}]}}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, testAccount("a@x"), testAccount("b@x"))
	chunks, err := c.Stream(context.Background(), "sess", "gemini-2.5-pro", map[string]interface{}{}, RequestTypeAgent, false)
	require.NoError(t, err)
	got := collect(t, chunks)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "second try")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestStreamGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream") // always silent
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, testAccount("a@x"), testAccount("b@x"), testAccount("c@x"), testAccount("d@x"))
	_, err := c.Stream(context.Background(), "sess", "gemini-2.5-pro", map[string]interface{}{}, RequestTypeAgent, false)
	require.Error(t, err)
	ge, ok := err.(*gwerror.Error)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindUpstream, ge.Kind)
}

func TestStreamExhaustedPool(t *testing.T) {
	c, pool := testClient(t, "http://127.0.0.1:0", testAccount("a@x"))
	acct := pool.Accounts()[0]
	pool.ReportRateLimited(acct, "m", 0, false, time.Minute, time.Hour)

	// With the single account cooled down and no sticky affinity for this
	// session, the pool reports exhaustion as a rate-limit error.
	_, err := c.Stream(context.Background(), "sess", "m", map[string]interface{}{}, RequestTypeAgent, false)
	require.Error(t, err)
	ge, ok := err.(*gwerror.Error)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindRateLimit, ge.Kind)
}

func TestDoMergesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"response":{"responseId":"r1","candidates":[{"content":{"parts":[{"text":"Hello"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1,"totalTokenCount":4}}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":", world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":5,"totalTokenCount":8}}}`,
		))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, testAccount("a@x"))
	raw, err := c.Do(context.Background(), "sess", "gemini-2.5-pro", map[string]interface{}{}, RequestTypeAgent, false)
	require.NoError(t, err)

	parts := gjson.GetBytes(raw, "candidates.0.content.parts").Array()
	require.Len(t, parts, 2, "later chunks' parts must be appended")
	assert.Equal(t, "Hello", parts[0].Get("text").String())
	assert.Equal(t, ", world", parts[1].Get("text").String())
	assert.EqualValues(t, 5, gjson.GetBytes(raw, "usageMetadata.candidatesTokenCount").Int(), "final usage replaces earlier ones")
	assert.Equal(t, "STOP", gjson.GetBytes(raw, "candidates.0.finishReason").String())
	assert.Equal(t, "r1", gjson.GetBytes(raw, "responseId").String(), "base frame fields survive the merge")
}

func TestEndpointFallbackOn404(t *testing.T) {
	var primaryHits, secondaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&secondaryHits, 1)
		fmt.Fprint(w, sseBody(`{"response":{"candidates":[{"content":{"parts":[{"text":"from secondary"}]}}]}}`))
	}))
	defer secondary.Close()

	pool := account.NewPool([]*account.Account{testAccount("a@x")}, staticRefresher{}, time.Minute)
	c := New(pool, ratelimit.NewPacer(0, 0), nil, []string{primary.URL, secondary.URL}, time.Minute, time.Hour)

	chunks, err := c.Stream(context.Background(), "sess", "odd-model", map[string]interface{}{}, RequestTypeAgent, false)
	require.NoError(t, err)
	got := collect(t, chunks)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "from secondary")
	assert.EqualValues(t, 1, atomic.LoadInt32(&primaryHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&secondaryHits))
}
