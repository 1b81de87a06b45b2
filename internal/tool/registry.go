package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/telemetry"
)

// Registry holds registered tools and wraps their execution with rate
// limiting, audit logging and metrics. It is instance-based, not global.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	auditLogger *security.AuditLogger
	rateLimiter *security.RateLimiter
	metrics     *telemetry.Metrics
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetAuditLogger configures audit logging for tool executions.
func (r *Registry) SetAuditLogger(logger *security.AuditLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLogger = logger
}

// SetRateLimiter configures per-user rate limiting of tool calls.
func (r *Registry) SetRateLimiter(limiter *security.RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = limiter
}

// SetMetrics configures tool call counters.
func (r *Registry) SetMetrics(m *telemetry.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrEmptyToolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool with the given name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns all registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns the model-facing definitions of every tool, sorted
// by name so prompts are stable across requests.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	slices.SortFunc(defs, func(a, b provider.ToolDefinition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return defs
}

// Execute looks the tool up, applies the caller's rate limit, runs it and
// records audit events and metrics. The caller is taken from ctx.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Output, error) {
	t, err := r.Get(name)
	if err != nil {
		return Output{}, err
	}

	r.mu.RLock()
	rl, al, m := r.rateLimiter, r.auditLogger, r.metrics
	r.mu.RUnlock()

	userID, _ := auth.UserIDFrom(ctx)

	if rl != nil {
		if err := rl.Allow(security.KindToolCall, userID); err != nil {
			al.Log(security.AuditEvent{
				Type:     security.EventRateLimit,
				UserID:   userID,
				ToolName: name,
				Detail:   "tool_call rate limit exceeded",
			})
			m.ToolCall(name, "rate_limited")
			return Output{}, fmt.Errorf("tool %s: %w", name, err)
		}
	}

	al.Log(security.AuditEvent{
		Type:     security.EventToolCall,
		UserID:   userID,
		ToolName: name,
		Detail:   truncateForAudit(string(args)),
	})

	out, err := t.Execute(ctx, args)

	detail := truncateForAudit(out.Content)
	outcome := "ok"
	switch {
	case err != nil:
		detail = "error: " + err.Error()
		outcome = "error"
	case out.IsError:
		outcome = "tool_error"
	}
	al.Log(security.AuditEvent{
		Type:     security.EventToolResult,
		UserID:   userID,
		ToolName: name,
		Detail:   detail,
		Metadata: map[string]string{"is_error": strconv.FormatBool(out.IsError || err != nil)},
	})
	m.ToolCall(name, outcome)

	return out, err
}

// maxAuditDetailLen bounds audit detail strings.
const maxAuditDetailLen = 4096

// truncateForAudit cuts s to maxAuditDetailLen on a rune boundary.
func truncateForAudit(s string) string {
	if len(s) <= maxAuditDetailLen {
		return s
	}
	i := maxAuditDetailLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "...(truncated)"
}
