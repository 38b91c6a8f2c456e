package modelid

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"gemini-2.5-pro", "gemini-2.5-pro"},
		{"[Antigravity] gemini-2.5-pro", "gemini-2.5-pro"},
		{"[Claude] claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"  [Antigravity]   claude-opus-4-5  ", "claude-opus-4-5"},
		{"[]", "[]"},
		{"[Antigravity]", "[Antigravity]"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	display := Display("Antigravity", "gemini-3-pro-preview")
	if display != "[Antigravity] gemini-3-pro-preview" {
		t.Fatalf("Display = %q", display)
	}
	if got := Normalize(display); got != "gemini-3-pro-preview" {
		t.Fatalf("Normalize(Display(...)) = %q", got)
	}
}

func TestFamilyOf(t *testing.T) {
	if FamilyOf("claude-sonnet-4-5") != FamilyClaude {
		t.Error("claude-sonnet-4-5 should be Claude family")
	}
	if FamilyOf("gemini-2.5-pro") != FamilyGemini {
		t.Error("gemini-2.5-pro should be Gemini family")
	}
	if FamilyOf("some-unknown-model") != FamilyGemini {
		t.Error("unknown models default to Gemini family")
	}
	if FamilyOf(" Claude-Opus-4-5 ") != FamilyClaude {
		t.Error("family detection should be case- and space-insensitive")
	}
}

func TestVariantDetection(t *testing.T) {
	if !IsThinking("claude-opus-4-5-thinking") || IsThinking("claude-opus-4-5") {
		t.Error("IsThinking misclassified")
	}
	if !IsImageGeneration("gemini-2.5-flash-image") || IsImageGeneration("gemini-2.5-flash") {
		t.Error("IsImageGeneration misclassified")
	}
}
