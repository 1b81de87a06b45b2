package agent

import (
	"encoding/json"
	"testing"

	"github.com/flemzord/reddichat/internal/provider"
)

func TestRepeatGuard_TripsAtLimit(t *testing.T) {
	t.Parallel()
	g := newRepeatGuard(3)
	args := json.RawMessage(`{"query":"golang tips"}`)

	if g.observe("search_reddit", args) || g.observe("search_reddit", args) {
		t.Fatal("tripped before the limit")
	}
	if !g.observe("search_reddit", args) {
		t.Error("expected repeat detected at limit")
	}
}

func TestRepeatGuard_KeysOnToolAndArgs(t *testing.T) {
	t.Parallel()
	g := newRepeatGuard(2)

	g.observe("search_reddit", json.RawMessage(`{"query":"golang"}`))
	if g.observe("web_search", json.RawMessage(`{"query":"golang"}`)) {
		t.Error("same args on another tool should not count")
	}
	if g.observe("search_reddit", json.RawMessage(`{"query":"rust"}`)) {
		t.Error("different query should not count")
	}
}

func TestCanonicalArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"key order", `{"query":"go","limit":5}`, `{"limit":5,"query":"go"}`, true},
		{"case and spacing", `{"query":"Golang  Tips "}`, `{"query":"golang tips"}`, true},
		{"null field", `{"query":"go","time_filter":null}`, `{"query":"go"}`, true},
		{"nested subreddits", `{"query":"go","subreddits":["GoLang"]}`, `{"query":"go","subreddits":["golang"]}`, true},
		{"different limit", `{"query":"go","limit":5}`, `{"query":"go","limit":6}`, false},
		{"invalid json", `{"query":`, ` {"query":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, b := canonicalArgs(json.RawMessage(tt.a)), canonicalArgs(json.RawMessage(tt.b))
			if (a == b) != tt.same {
				t.Errorf("canonicalArgs: %q vs %q, same = %v, want %v", a, b, a == b, tt.same)
			}
		})
	}
}

func TestTokenBudget_Charge(t *testing.T) {
	t.Parallel()
	b := newTokenBudget(1000)

	if b.charge(provider.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}) {
		t.Error("exhausted after 150 of 1000")
	}
	b.charge(provider.TokenUsage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300})

	want := provider.TokenUsage{PromptTokens: 300, CompletionTokens: 150, TotalTokens: 450}
	if got := b.used(); got != want {
		t.Errorf("used() = %+v, want %+v", got, want)
	}
}

func TestTokenBudget_DerivesMissingTotal(t *testing.T) {
	t.Parallel()
	b := newTokenBudget(500)

	if !b.charge(provider.TokenUsage{PromptTokens: 400, CompletionTokens: 100}) {
		t.Error("expected budget exhausted from prompt plus completion")
	}
	if got := b.used().TotalTokens; got != 500 {
		t.Errorf("TotalTokens = %d, want 500", got)
	}
}

func TestTokenBudget_Unlimited(t *testing.T) {
	t.Parallel()
	b := newTokenBudget(0)

	if b.charge(provider.TokenUsage{TotalTokens: 999999}) || b.exhausted() {
		t.Error("zero budget should never run out")
	}
}
