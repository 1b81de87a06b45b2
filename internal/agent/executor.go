package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/telemetry"
	"github.com/flemzord/reddichat/internal/tool"
)

// ToolExecutor handles parallel tool execution with panic recovery.
type ToolExecutor struct {
	registry *tool.Registry
}

// NewToolExecutor creates a ToolExecutor dispatching through registry.
func NewToolExecutor(registry *tool.Registry) *ToolExecutor {
	return &ToolExecutor{registry: registry}
}

// ToolResult pairs a finished record with the position of its call in the
// batch passed to Start.
type ToolResult struct {
	Index  int
	Record ToolCallRecord
}

// Start runs all tool calls in parallel and delivers each result as soon as
// its call resolves. The channel is closed once every call has finished. It
// is buffered for the whole batch, so an abandoned reader never blocks a tool.
func (e *ToolExecutor) Start(ctx context.Context, calls []provider.ToolCall) <-chan ToolResult {
	out := make(chan ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc provider.ToolCall) {
			defer wg.Done()
			out <- ToolResult{Index: idx, Record: e.executeSingle(ctx, tc)}
		}(i, call)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Execute runs all tool calls in parallel and returns results in input order.
// Panics in individual tools are recovered and reported as error outputs.
func (e *ToolExecutor) Execute(ctx context.Context, calls []provider.ToolCall) []ToolCallRecord {
	results := make([]ToolCallRecord, len(calls))
	for res := range e.Start(ctx, calls) {
		results[res.Index] = res.Record
	}
	return results
}

func (e *ToolExecutor) executeSingle(ctx context.Context, tc provider.ToolCall) (record ToolCallRecord) {
	record.ID = tc.ID
	record.Name = tc.Name
	record.Arguments = tc.Arguments

	ctx, span := telemetry.Tracer("agent").Start(ctx, "agent.tool")
	span.SetAttributes(attribute.String("tool.name", tc.Name))
	start := time.Now()

	defer func() {
		record.Duration = time.Since(start)
		if r := recover(); r != nil {
			record.Panicked = true
			record.Output = tool.Output{
				Content: fmt.Sprintf("panic: %v", r),
				IsError: true,
			}
			telemetry.RecordError(span, fmt.Errorf("tool %s panicked: %v", tc.Name, r))
		}
		span.End()
	}()

	out, err := e.registry.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		telemetry.RecordError(span, err)
		record.Output = tool.Output{
			Content: err.Error(),
			IsError: true,
		}
		return record
	}

	record.Output = out
	return record
}
