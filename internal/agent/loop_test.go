package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/provider/providertest"
	"github.com/flemzord/reddichat/internal/tool"
)

// mockProvider returns pre-configured responses in sequence and records
// every request it receives.
type mockProvider struct {
	mu        sync.Mutex
	responses []provider.CompletionResponse
	streams   [][]provider.StreamChunk
	callIdx   int
	streamIdx int
	requests  []provider.CompletionRequest
}

func (m *mockProvider) Complete(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.callIdx >= len(m.responses) {
		return provider.CompletionResponse{}, fmt.Errorf("no more mock responses")
	}
	resp := m.responses[m.callIdx]
	m.callIdx++
	return resp, nil
}

func (m *mockProvider) Stream(_ context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.streamIdx >= len(m.streams) {
		return nil, fmt.Errorf("no more mock streams")
	}
	chunks := m.streams[m.streamIdx]
	m.streamIdx++
	return providertest.Chunks(chunks...), nil
}

func (m *mockProvider) ModelName() string { return "mock-model" }

func (m *mockProvider) recorded() []provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.CompletionRequest(nil), m.requests...)
}

func newLoopTestExecutor(tools ...*mockTool) *ToolExecutor {
	reg := tool.NewRegistry()
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			panic(err)
		}
	}
	return newTestExecutor(reg)
}

func userMsg(content string) provider.LLMMessage {
	return provider.LLMMessage{Role: provider.MessageRoleUser, Content: content}
}

var echoDefs = []provider.ToolDefinition{{Name: "echo", Parameters: json.RawMessage(`{}`)}}

func toolCallResp(calls ...provider.ToolCall) provider.CompletionResponse {
	return provider.CompletionResponse{ToolCalls: calls, FinishReason: provider.FinishReasonToolUse}
}

// collect reads every event until the channel closes.
func collect(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			if n := len(events); n > 0 && events[n-1].Type.Terminal() {
				t.Errorf("%s event after terminal %s", ev.Type, events[n-1].Type)
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
			return nil
		}
	}
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRun_TextResponse(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			{Content: "hello world", FinishReason: provider.FinishReasonStop},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{})

	resp, err := loop.Run(context.Background(), Request{
		Messages:     []provider.LLMMessage{userMsg("hi")},
		SystemPrompt: "be nice",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("Content = %q, want hello world", resp.Content)
	}
	if resp.StopReason != StopReasonComplete {
		t.Errorf("StopReason = %q, want complete", resp.StopReason)
	}
	if resp.Steps != 1 {
		t.Errorf("Steps = %d, want 1", resp.Steps)
	}

	reqs := p.recorded()
	if len(reqs) != 1 || len(reqs[0].Messages) != 2 {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	if reqs[0].Messages[0].Role != provider.MessageRoleSystem || reqs[0].Messages[0].Content != "be nice" {
		t.Errorf("first message = %+v, want system prompt", reqs[0].Messages[0])
	}
}

func TestRun_ToolExecution(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			toolCallResp(tc("c1", "echo")),
			{Content: "done", FinishReason: provider.FinishReasonStop},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo", output: tool.Output{Content: "echoed"}}), LoopConfig{})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}, Tools: echoDefs})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "done" || resp.Steps != 2 {
		t.Errorf("resp = %+v, want content done after 2 steps", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Output.Content != "echoed" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}

	second := p.recorded()[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(second))
	}
	assistant, result := second[1], second[2]
	if assistant.Role != provider.MessageRoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("assistant message = %+v, want one tool call", assistant)
	}
	if result.Role != provider.MessageRoleTool || result.ToolID != "c1" || result.Content != "echoed" || result.Name != "echo" {
		t.Errorf("tool message = %+v", result)
	}
}

func TestRun_ToolErrorFedBack(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			toolCallResp(tc("c1", "failer")),
			{Content: "sorry", FinishReason: provider.FinishReasonStop},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "failer", err: errors.New("backend down")}), LoopConfig{})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "sorry" {
		t.Errorf("Content = %q, want sorry", resp.Content)
	}
	result := p.recorded()[1].Messages[2]
	if !result.IsError || result.Content != "backend down" {
		t.Errorf("tool message = %+v, want error payload", result)
	}
}

func TestRun_FinalStepForbidsTools(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			toolCallResp(tc("c1", "echo")),
			{Content: "answer", FinishReason: provider.FinishReasonStop},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{MaxSteps: 2})

	if _, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}, Tools: echoDefs}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	reqs := p.recorded()
	if reqs[0].ToolChoice != "" {
		t.Errorf("first ToolChoice = %q, want empty", reqs[0].ToolChoice)
	}
	if reqs[1].ToolChoice != provider.ToolChoiceNone {
		t.Errorf("final ToolChoice = %q, want none", reqs[1].ToolChoice)
	}
}

func TestRun_FinalStepIgnoresCalls(t *testing.T) {
	t.Parallel()

	call := tc("c1", "echo")
	p := &mockProvider{
		responses: []provider.CompletionResponse{
			{Content: "partial answer", ToolCalls: []provider.ToolCall{call}},
		},
	}
	mt := &mockTool{name: "echo"}
	loop := NewLoop(p, newLoopTestExecutor(mt), LoopConfig{MaxSteps: 1})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}, Tools: echoDefs})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "partial answer" || resp.StopReason != StopReasonStepLimit {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("expected no tool execution on the final step, got %d", len(resp.ToolCalls))
	}
}

func TestRun_StepLimitWithoutText(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{toolCallResp(tc("c1", "echo"))},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{MaxSteps: 1})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if !errors.Is(err, ErrStepLimitReached) {
		t.Fatalf("err = %v, want ErrStepLimitReached", err)
	}
	if resp.StopReason != StopReasonStepLimit {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestRun_LoopDetection(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			toolCallResp(tc("c1", "echo")),
			toolCallResp(tc("c2", "echo")),
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{LoopThreshold: 2})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("err = %v, want ErrLoopDetected", err)
	}
	if resp.StopReason != StopReasonLoopDetected {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestRun_TokenBudget(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		responses: []provider.CompletionResponse{
			{Content: "x", ToolCalls: []provider.ToolCall{tc("c1", "echo")}, Usage: provider.TokenUsage{TotalTokens: 500}},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{TokenBudget: 100})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if !errors.Is(err, ErrTokenBudgetExceeded) {
		t.Fatalf("err = %v, want ErrTokenBudgetExceeded", err)
	}
	if resp.TotalUsage.TotalTokens != 500 {
		t.Errorf("TotalTokens = %d, want 500", resp.TotalUsage.TotalTokens)
	}
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	p := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			<-ctx.Done()
			return provider.CompletionResponse{}, fmt.Errorf("%w: request aborted", provider.ErrProviderDown)
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{Timeout: 30 * time.Millisecond})

	_, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRun_ProviderError(t *testing.T) {
	t.Parallel()

	p := &providertest.MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrRateLimit
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{})

	resp, err := loop.Run(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if !errors.Is(err, provider.ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
	if resp.StopReason != StopReasonError {
		t.Errorf("StopReason = %q, want error", resp.StopReason)
	}
}

func TestRunStream_TextChunks(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{{
			{Content: "Hel"},
			{Content: "lo"},
			{FinishReason: provider.FinishReasonStop, Usage: &provider.TokenUsage{TotalTokens: 7}},
		}},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{})

	ch, err := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	if err != nil {
		t.Fatalf("RunStream() error: %v", err)
	}
	events := collect(t, ch)

	want := []StreamEventType{StreamEventText, StreamEventText, StreamEventUsage, StreamEventDone}
	if got := eventTypes(events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	final := events[len(events)-1].Final
	if final == nil || final.Content != "Hello" {
		t.Fatalf("Final = %+v, want content Hello", final)
	}
	if final.TotalUsage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", final.TotalUsage.TotalTokens)
	}
}

func TestRunStream_ToolExecution(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{
			{{Content: "Let me look. "}, {ToolCalls: []provider.ToolCall{tc("c1", "echo")}, FinishReason: provider.FinishReasonToolUse}},
			{{Content: "Found it."}},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo", output: tool.Output{Content: "result"}}), LoopConfig{})

	ch, err := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}, Tools: echoDefs})
	if err != nil {
		t.Fatalf("RunStream() error: %v", err)
	}
	events := collect(t, ch)

	want := []StreamEventType{StreamEventText, StreamEventToolStart, StreamEventToolEnd, StreamEventText, StreamEventDone}
	if got := eventTypes(events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if end := events[2].ToolCall; end == nil || end.Name != "echo" || end.Output.Content != "result" {
		t.Errorf("tool_end = %+v", end)
	}
	final := events[4].Final
	if final.Content != "Let me look. Found it." {
		t.Errorf("Final.Content = %q", final.Content)
	}
	if len(final.ToolCalls) != 1 {
		t.Errorf("Final.ToolCalls = %d, want 1", len(final.ToolCalls))
	}
}

func TestRunStream_ToolEndInCompletionOrder(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{
			{{ToolCalls: []provider.ToolCall{tc("c1", "slow"), tc("c2", "fast")}}},
			{{Content: "ok"}},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(
		&mockTool{name: "slow", execDelay: 80 * time.Millisecond},
		&mockTool{name: "fast"},
	), LoopConfig{})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	events := collect(t, ch)

	var order []string
	for _, ev := range events {
		if ev.ToolCall != nil {
			order = append(order, string(ev.Type)+":"+ev.ToolCall.Name)
		}
	}
	want := "[tool_start:slow tool_start:fast tool_end:fast tool_end:slow]"
	if fmt.Sprint(order) != want {
		t.Errorf("order = %v, want %s", order, want)
	}
}

func TestRunStream_ProviderErrorChunk(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{{
			{Content: "par"},
			{Err: provider.ErrProviderDown},
			{Content: "never"},
		}},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	events := collect(t, ch)

	want := []StreamEventType{StreamEventText, StreamEventError}
	if got := eventTypes(events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if !errors.Is(events[1].Err, provider.ErrProviderDown) {
		t.Errorf("Err = %v, want ErrProviderDown", events[1].Err)
	}
}

func TestRunStream_FinalStepAnswers(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{
			{{ToolCalls: []provider.ToolCall{tc("c1", "echo")}}},
			{{ToolCalls: []provider.ToolCall{tc("c2", "echo")}}},
			{{Content: "final"}},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{MaxSteps: 3, LoopThreshold: 5})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}, Tools: echoDefs})
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != StreamEventDone || last.Final.Content != "final" {
		t.Fatalf("last event = %+v, want done with final", last)
	}
	reqs := p.recorded()
	if len(reqs) != 3 || reqs[2].ToolChoice != provider.ToolChoiceNone {
		t.Errorf("expected third request to forbid tools, got %+v", reqs)
	}
}

func TestRunStream_LoopDetection(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{
			{{ToolCalls: []provider.ToolCall{tc("c1", "echo")}}},
			{{ToolCalls: []provider.ToolCall{tc("c2", "echo")}}},
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(&mockTool{name: "echo"}), LoopConfig{LoopThreshold: 2})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != StreamEventError || !errors.Is(last.Err, ErrLoopDetected) {
		t.Fatalf("last event = %+v, want ErrLoopDetected", last)
	}
}

func TestRunStream_TokenBudget(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		streams: [][]provider.StreamChunk{{
			{Content: "a"},
			{Usage: &provider.TokenUsage{TotalTokens: 200}},
		}},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{TokenBudget: 100})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != StreamEventError || !errors.Is(last.Err, ErrTokenBudgetExceeded) {
		t.Fatalf("last event = %+v, want ErrTokenBudgetExceeded", last)
	}
}

func TestRunStream_Timeout(t *testing.T) {
	t.Parallel()

	p := &providertest.MockProvider{
		StreamFunc: func(ctx context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			ch := make(chan provider.StreamChunk, 1)
			go func() {
				defer close(ch)
				<-ctx.Done()
				ch <- provider.StreamChunk{Err: provider.ErrProviderDown}
			}()
			return ch, nil
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{Timeout: 30 * time.Millisecond})

	ch, _ := loop.RunStream(context.Background(), Request{Messages: []provider.LLMMessage{userMsg("hi")}})
	events := collect(t, ch)

	if len(events) != 1 || events[0].Type != StreamEventError {
		t.Fatalf("events = %+v, want a single error", events)
	}
	if !errors.Is(events[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", events[0].Err)
	}
}

func TestRunStream_CallerCancelStops(t *testing.T) {
	t.Parallel()

	p := &providertest.MockProvider{
		StreamFunc: func(ctx context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			ch := make(chan provider.StreamChunk)
			go func() {
				defer close(ch)
				for {
					select {
					case ch <- provider.StreamChunk{Content: "tok "}:
					case <-ctx.Done():
						return
					}
				}
			}()
			return ch, nil
		},
	}
	loop := NewLoop(p, newLoopTestExecutor(), LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := loop.RunStream(ctx, Request{Messages: []provider.LLMMessage{userMsg("hi")}})

	first := <-ch
	if first.Type != StreamEventText {
		t.Fatalf("first event = %+v, want text", first)
	}
	cancel()

	for ev := range ch {
		if ev.Type == StreamEventDone {
			t.Fatal("unexpected done after cancellation")
		}
	}
}
