package gwerror

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindRateLimit, http.StatusTooManyRequests},
		{KindAuth, http.StatusUnauthorized},
		{KindTranslation, http.StatusBadRequest},
		{KindUpstream, http.StatusBadGateway},
		{KindTransport, http.StatusBadGateway},
		{KindEmpty, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := New(tc.kind, "x").HTTPStatus(); got != tc.want {
			t.Errorf("%s -> %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransport, "request failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	var ge *Error
	if !errors.As(error(err), &ge) || ge.Kind != KindTransport {
		t.Fatal("errors.As must recover the typed error")
	}
}

func TestRenderEnvelopes(t *testing.T) {
	err := RateLimit("slow down")

	openai := err.RenderOpenAI()["error"].(map[string]interface{})
	if openai["message"] != "slow down" {
		t.Error("openai envelope must carry the message")
	}

	anthropic := err.RenderAnthropic()
	if anthropic["type"] != "error" {
		t.Error("anthropic envelope must be typed")
	}
	inner := anthropic["error"].(map[string]interface{})
	if inner["type"] != "rate_limit_error" {
		t.Errorf("anthropic error type = %v", inner["type"])
	}

	google := err.RenderGoogle()["error"].(map[string]interface{})
	if google["status"] != "RESOURCE_EXHAUSTED" {
		t.Errorf("google status = %v", google["status"])
	}
}
