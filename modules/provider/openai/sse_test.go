package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/flemzord/reddichat/internal/provider"
)

func collect(t *testing.T, ctx context.Context, data string) []provider.StreamChunk {
	t.Helper()
	ch := make(chan provider.StreamChunk, 64)
	go readStream(ctx, io.NopCloser(strings.NewReader(data)), ch)
	var out []provider.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestReadStream_BasicContent(t *testing.T) {
	t.Parallel()

	data := `data: {"choices":[{"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"choices":[{"delta":{"content":" world"},"finish_reason":null}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	var content strings.Builder
	var gotStop bool
	for _, chunk := range collect(t, context.Background(), data) {
		if chunk.Err != nil {
			t.Fatalf("unexpected error: %v", chunk.Err)
		}
		content.WriteString(chunk.Content)
		if chunk.FinishReason == provider.FinishReasonStop {
			gotStop = true
		}
	}
	if content.String() != "Hello world" {
		t.Errorf("content = %q, want 'Hello world'", content.String())
	}
	if !gotStop {
		t.Error("expected stop finish_reason")
	}
}

func TestReadStream_CommentsAndEventLinesIgnored(t *testing.T) {
	t.Parallel()

	data := `: keep-alive
event: message
data: {"choices":[{"delta":{"content":"ok"},"finish_reason":null}]}

data: [DONE]
`
	chunks := collect(t, context.Background(), data)
	if len(chunks) != 1 || chunks[0].Content != "ok" {
		t.Fatalf("chunks = %+v, want single 'ok'", chunks)
	}
}

func TestReadStream_ToolCallsAccumulated(t *testing.T) {
	t.Parallel()

	data := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search_reddit","arguments":""}}]},"finish_reason":null}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]},"finish_reason":null}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"golang\"}"}}]},"finish_reason":null}]}

data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]
`
	chunks := collect(t, context.Background(), data)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %+v", len(chunks), chunks)
	}
	c := chunks[0]
	if c.FinishReason != provider.FinishReasonToolUse {
		t.Errorf("FinishReason = %q, want tool_use", c.FinishReason)
	}
	if len(c.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(c.ToolCalls))
	}
	if c.ToolCalls[0].Name != "search_reddit" || string(c.ToolCalls[0].Arguments) != `{"query":"golang"}` {
		t.Errorf("tool call = %+v", c.ToolCalls[0])
	}
}

func TestReadStream_ParallelCallsWithoutIndexes(t *testing.T) {
	t.Parallel()

	data := `data: {"choices":[{"delta":{"tool_calls":[{"id":"a","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"x\"}"}},{"id":"b","type":"function","function":{"name":"search_reddit","arguments":"{\"query\":\"y\"}"}}]},"finish_reason":"tool_calls"}]}

data: [DONE]
`
	chunks := collect(t, context.Background(), data)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	calls := chunks[0].ToolCalls
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].ID != "a" || calls[1].ID != "b" {
		t.Errorf("call order = %s,%s, want a,b", calls[0].ID, calls[1].ID)
	}
}

func TestReadStream_FlushesOnEOFWithoutDone(t *testing.T) {
	t.Parallel()

	data := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"web_search","arguments":"{}"}}]},"finish_reason":null}]}
`
	chunks := collect(t, context.Background(), data)
	if len(chunks) != 1 || len(chunks[0].ToolCalls) != 1 {
		t.Fatalf("chunks = %+v, want one tool call chunk", chunks)
	}
}

func TestReadStream_UsageOnlyChunk(t *testing.T) {
	t.Parallel()

	data := `data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}

data: [DONE]
`
	chunks := collect(t, context.Background(), data)
	if len(chunks) != 1 || chunks[0].Usage == nil || chunks[0].Usage.TotalTokens != 15 {
		t.Fatalf("chunks = %+v, want usage 15", chunks)
	}
}

func TestReadStream_MalformedJSON(t *testing.T) {
	t.Parallel()

	chunks := collect(t, context.Background(), "data: {not json}\n\n")
	if len(chunks) != 1 || chunks[0].Err == nil {
		t.Fatalf("chunks = %+v, want a single error", chunks)
	}
}

func TestReadStream_ToolArgsCap(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("a", maxToolCallArgs-200)
	data := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"x","arguments":"` + big + `"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"` + strings.Repeat("b", 300) + `"}}]}}]}
`
	ch := make(chan provider.StreamChunk, 4)
	body := io.NopCloser(strings.NewReader(data))
	go readStream(context.Background(), body, ch)

	var gotErr error
	for c := range ch {
		if c.Err != nil {
			gotErr = c.Err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "exceeded") {
		t.Errorf("err = %v, want size cap error", gotErr)
	}
}

func TestReadStream_ContextCancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan provider.StreamChunk, 4)
	go readStream(ctx, pr, ch)

	_, _ = pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n"))
	first := <-ch
	if first.Content != "a" {
		t.Fatalf("first chunk = %+v", first)
	}
	cancel()

	for c := range ch {
		if c.Err != nil && !errors.Is(c.Err, context.Canceled) {
			t.Errorf("unexpected error: %v", c.Err)
		}
	}
	_ = pw.Close()
}
