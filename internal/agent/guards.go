package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/flemzord/reddichat/internal/provider"
)

// repeatGuard stops a turn that keeps issuing the same search.
type repeatGuard struct {
	limit int
	seen  map[callKey]int
}

type callKey struct {
	tool string
	args string
}

func newRepeatGuard(limit int) *repeatGuard {
	return &repeatGuard{limit: limit, seen: make(map[callKey]int)}
}

// observe counts a call and reports whether it has now been made limit
// times.
func (g *repeatGuard) observe(name string, args json.RawMessage) bool {
	k := callKey{tool: name, args: canonicalArgs(args)}
	g.seen[k]++
	return g.seen[k] >= g.limit
}

// canonicalArgs renders tool arguments with sorted keys, null fields
// removed and strings case-folded with collapsed whitespace. A model that
// retries "Golang  tips" as "golang tips" is repeating itself.
func canonicalArgs(args json.RawMessage) string {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return string(bytes.TrimSpace(args))
	}
	out, err := json.Marshal(fold(v))
	if err != nil {
		return string(args)
	}
	return string(out)
}

func fold(v any) any {
	switch x := v.(type) {
	case string:
		return strings.ToLower(strings.Join(strings.Fields(x), " "))
	case []any:
		for i := range x {
			x[i] = fold(x[i])
		}
		return x
	case map[string]any:
		for k, e := range x {
			if e == nil {
				delete(x, k)
				continue
			}
			x[k] = fold(e)
		}
		return x
	default:
		return v
	}
}

// tokenBudget sums usage over every step of one turn. It belongs to a
// single Run or RunStream goroutine.
type tokenBudget struct {
	limit int // 0 is unlimited
	spent provider.TokenUsage
}

func newTokenBudget(limit int) *tokenBudget {
	return &tokenBudget{limit: limit}
}

// charge adds one step's usage and reports whether the budget is gone.
// Some backends leave the total unset, so it is derived when missing.
func (b *tokenBudget) charge(u provider.TokenUsage) bool {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	b.spent.PromptTokens += u.PromptTokens
	b.spent.CompletionTokens += u.CompletionTokens
	b.spent.TotalTokens += u.TotalTokens
	return b.exhausted()
}

func (b *tokenBudget) exhausted() bool {
	return b.limit > 0 && b.spent.TotalTokens >= b.limit
}

func (b *tokenBudget) used() provider.TokenUsage { return b.spent }
