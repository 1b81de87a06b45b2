package agent

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/telemetry"
)

// Sentinel errors for agent loop termination.
var (
	ErrTokenBudgetExceeded  = errors.New("agent: token budget exceeded")
	ErrStepLimitReached = errors.New("agent: step limit reached")
	ErrLoopDetected         = errors.New("agent: loop detected")
)

// Loop implements the bounded reason-act loop.
type Loop struct {
	provider provider.Provider
	executor *ToolExecutor
	config   LoopConfig
}

// NewLoop creates a Loop with the given provider, executor, and config.
func NewLoop(p provider.Provider, executor *ToolExecutor, cfg LoopConfig) *Loop {
	return &Loop{
		provider: p,
		executor: executor,
		config:   cfg.withDefaults(),
	}
}

// Config returns the effective loop configuration.
func (l *Loop) Config() LoopConfig { return l.config }

// buildInitialMessages assembles the initial message history from the request.
func buildInitialMessages(req Request) []provider.LLMMessage {
	var messages []provider.LLMMessage
	if req.SystemPrompt != "" {
		messages = append(messages, provider.LLMMessage{
			Role:    provider.MessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	return append(messages, req.Messages...)
}

// completionRequest builds the provider request for step i. The last
// permitted step keeps the tool declarations but forbids calling them, so
// the model has to answer from what it already gathered.
func (l *Loop) completionRequest(i int, messages []provider.LLMMessage, tools []provider.ToolDefinition) provider.CompletionRequest {
	req := provider.CompletionRequest{
		Messages:  messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	}
	if l.config.Temperature > 0 {
		temp := l.config.Temperature
		req.Temperature = &temp
	}
	if len(tools) > 0 && l.isFinalStep(i) {
		req.ToolChoice = provider.ToolChoiceNone
	}
	return req
}

func (l *Loop) isFinalStep(i int) bool {
	return i >= l.config.MaxSteps-1
}

// appendAssistant records the model turn that requested calls.
func appendAssistant(messages []provider.LLMMessage, content string, calls []provider.ToolCall) []provider.LLMMessage {
	return append(messages, provider.LLMMessage{
		Role:      provider.MessageRoleAssistant,
		Content:   content,
		ToolCalls: calls,
	})
}

// appendToolResults adds tool execution results to the conversation history.
func appendToolResults(messages []provider.LLMMessage, records []ToolCallRecord) []provider.LLMMessage {
	for _, rec := range records {
		messages = append(messages, provider.LLMMessage{
			Role:    provider.MessageRoleTool,
			Content: rec.Output.Content,
			Name:    rec.Name,
			ToolID:  rec.ID,
			IsError: rec.Output.IsError,
		})
	}
	return messages
}

func (l *Loop) startStep(ctx context.Context, i int) (context.Context, trace.Span) {
	ctx, span := telemetry.Tracer("agent").Start(ctx, "agent.step")
	span.SetAttributes(
		attribute.Int("agent.step", i+1),
		attribute.Bool("agent.final_step", l.isFinalStep(i)),
		attribute.String("agent.model", l.provider.ModelName()),
	)
	return ctx, span
}

// Run executes the loop synchronously and returns the final response.
//
// A context.WithTimeout is applied using l.config.Timeout. If the caller's
// context already carries a shorter deadline, the shorter one takes effect.
func (l *Loop) Run(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	repeats := newRepeatGuard(l.config.LoopThreshold)
	budget := newTokenBudget(l.config.TokenBudget)
	messages := buildInitialMessages(req)

	var (
		allToolCalls []ToolCallRecord
		content      strings.Builder
	)
	partial := func(steps int, reason StopReason) Response {
		return Response{
			Content:    content.String(),
			ToolCalls:  allToolCalls,
			TotalUsage: budget.used(),
			Steps:      steps,
			StopReason: reason,
		}
	}

	for i := 0; i < l.config.MaxSteps; i++ {
		if err := ctx.Err(); err != nil {
			stopReason := StopReasonError
			if errors.Is(err, context.DeadlineExceeded) {
				stopReason = StopReasonTimeout
			}
			return partial(i, stopReason), err
		}

		if budget.exhausted() {
			return partial(i, StopReasonTokenBudget), ErrTokenBudgetExceeded
		}

		stepCtx, span := l.startStep(ctx, i)
		resp, err := l.provider.Complete(stepCtx, l.completionRequest(i, messages, req.Tools))
		if err != nil {
			telemetry.RecordError(span, err)
			span.End()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return partial(i, StopReasonError), err
		}
		content.WriteString(resp.Content)

		if budget.charge(resp.Usage) {
			span.End()
			return partial(i+1, StopReasonTokenBudget), ErrTokenBudgetExceeded
		}

		if len(resp.ToolCalls) == 0 {
			span.End()
			return partial(i+1, StopReasonComplete), nil
		}

		if l.isFinalStep(i) {
			span.End()
			if content.Len() == 0 {
				return partial(i+1, StopReasonStepLimit), ErrStepLimitReached
			}
			return partial(i+1, StopReasonStepLimit), nil
		}

		// Check for loops before appending the assistant message so the
		// history never holds calls without results.
		for _, tc := range resp.ToolCalls {
			if repeats.observe(tc.Name, tc.Arguments) {
				span.End()
				return partial(i+1, StopReasonLoopDetected), ErrLoopDetected
			}
		}

		messages = appendAssistant(messages, resp.Content, resp.ToolCalls)
		records := l.executor.Execute(stepCtx, resp.ToolCalls)
		allToolCalls = append(allToolCalls, records...)
		messages = appendToolResults(messages, records)
		span.End()
	}

	// Not reached: the final step always returns.
	return partial(l.config.MaxSteps, StopReasonStepLimit), ErrStepLimitReached
}

// streamRun is the state of one RunStream invocation.
type streamRun struct {
	parent context.Context
	ch     chan<- StreamEvent
}

// emit delivers ev unless the caller has gone away. The channel is
// unbuffered, so a slow reader holds the loop back.
func (s *streamRun) emit(ev StreamEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.parent.Done():
		return false
	}
}

func (s *streamRun) fail(err error) {
	s.emit(StreamEvent{Type: StreamEventError, Err: err})
}

// RunStream executes the loop and streams events over a channel. The
// channel carries exactly one terminal done or error event and is then
// closed. If ctx is cancelled the goroutine stops without a terminal event.
//
// A context.WithTimeout is applied using l.config.Timeout. If the caller's
// context already carries a shorter deadline, the shorter one takes effect.
func (l *Loop) RunStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)

		run := &streamRun{parent: ctx, ch: ch}
		ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()

		repeats := newRepeatGuard(l.config.LoopThreshold)
		budget := newTokenBudget(l.config.TokenBudget)
		messages := buildInitialMessages(req)

		var (
			allToolCalls []ToolCallRecord
			total        strings.Builder
		)

		for i := 0; i < l.config.MaxSteps; i++ {
			if err := ctx.Err(); err != nil {
				run.fail(err)
				return
			}

			if budget.exhausted() {
				run.fail(ErrTokenBudgetExceeded)
				return
			}

			stepCtx, span := l.startStep(ctx, i)
			outcome, err := l.streamStep(stepCtx, run, l.completionRequest(i, messages, req.Tools))
			if err == nil {
				// A provider may close its stream quietly on cancellation.
				err = ctx.Err()
			}
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				if run.parent.Err() == nil {
					run.fail(err)
				}
				return
			}
			total.WriteString(outcome.content)

			if outcome.usage != nil {
				over := budget.charge(*outcome.usage)
				if !run.emit(StreamEvent{Type: StreamEventUsage, Usage: outcome.usage}) {
					span.End()
					return
				}
				if over {
					span.End()
					run.fail(ErrTokenBudgetExceeded)
					return
				}
			}

			final := len(outcome.calls) == 0 || l.isFinalStep(i)
			if final {
				span.End()
				if len(outcome.calls) > 0 && total.Len() == 0 {
					run.fail(ErrStepLimitReached)
					return
				}
				reason := StopReasonComplete
				if len(outcome.calls) > 0 {
					reason = StopReasonStepLimit
				}
				run.emit(StreamEvent{Type: StreamEventDone, Final: &Response{
					Content:    total.String(),
					ToolCalls:  allToolCalls,
					TotalUsage: budget.used(),
					Steps:      i + 1,
					StopReason: reason,
				}})
				return
			}

			for _, tc := range outcome.calls {
				if repeats.observe(tc.Name, tc.Arguments) {
					span.End()
					run.fail(ErrLoopDetected)
					return
				}
			}

			messages = appendAssistant(messages, outcome.content, outcome.calls)
			records, ok := l.streamTools(stepCtx, run, outcome.calls)
			span.End()
			if !ok {
				return
			}
			allToolCalls = append(allToolCalls, records...)
			messages = appendToolResults(messages, records)
		}

		run.fail(ErrStepLimitReached)
	}()

	return ch, nil
}

type stepOutcome struct {
	content string
	calls   []provider.ToolCall
	usage   *provider.TokenUsage
}

// streamStep performs one provider call, forwarding text as it arrives.
func (l *Loop) streamStep(ctx context.Context, run *streamRun, req provider.CompletionRequest) (stepOutcome, error) {
	var out stepOutcome

	streamCh, err := l.provider.Stream(ctx, req)
	if err != nil {
		return out, err
	}

	var content strings.Builder
	for chunk := range streamCh {
		if chunk.Err != nil {
			drain(streamCh)
			return out, chunk.Err
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			if !run.emit(StreamEvent{Type: StreamEventText, Content: chunk.Content}) {
				drain(streamCh)
				return out, run.parent.Err()
			}
		}
		if len(chunk.ToolCalls) > 0 {
			out.calls = append(out.calls, chunk.ToolCalls...)
		}
		if chunk.Usage != nil {
			out.usage = chunk.Usage
		}
	}

	out.content = content.String()
	return out, nil
}

// streamTools announces every call, then reports each one as it resolves.
// Records are returned in call order for the conversation history.
func (l *Loop) streamTools(ctx context.Context, run *streamRun, calls []provider.ToolCall) ([]ToolCallRecord, bool) {
	for _, tc := range calls {
		if !run.emit(StreamEvent{
			Type:     StreamEventToolStart,
			ToolCall: &ToolCallRecord{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments},
		}) {
			return nil, false
		}
	}

	records := make([]ToolCallRecord, len(calls))
	for res := range l.executor.Start(ctx, calls) {
		records[res.Index] = res.Record
		rec := res.Record
		if !run.emit(StreamEvent{Type: StreamEventToolEnd, ToolCall: &rec}) {
			return nil, false
		}
	}
	return records, true
}

// drain consumes the rest of a provider stream so its goroutine can exit.
func drain(ch <-chan provider.StreamChunk) {
	for range ch { //nolint:revive // intentional empty drain loop
	}
}
