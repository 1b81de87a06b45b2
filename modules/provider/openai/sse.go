package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/flemzord/reddichat/internal/provider"
)

// maxToolCallArgs caps the accumulated arguments of a single streamed
// tool call.
const maxToolCallArgs = 1 * 1024 * 1024

// scannerBufferSize is the max SSE line size. The bufio default (64 KiB)
// is too small for long tool call arguments.
const scannerBufferSize = 1 * 1024 * 1024

// pendingCall accumulates streamed tool call fragments.
type pendingCall struct {
	order int
	id    string
	name  string
	args  strings.Builder
}

// streamDecoder turns Chat Completions SSE payloads into provider chunks.
type streamDecoder struct {
	ctx     context.Context
	out     chan<- provider.StreamChunk
	pending map[int]*pendingCall
}

// emit sends a chunk, reporting false if ctx was cancelled first.
func (d *streamDecoder) emit(chunk provider.StreamChunk) bool {
	select {
	case d.out <- chunk:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// readStream decodes an SSE body onto ch until [DONE], EOF, an error, or
// ctx cancellation. ch and body are always closed.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.StreamChunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	// Closing the body unblocks the scanner on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	d := &streamDecoder{ctx: ctx, out: ch, pending: make(map[int]*pendingCall)}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			d.emit(provider.StreamChunk{Err: ctx.Err()})
			return
		}

		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			// Comments (":"), event names and blank separators.
			continue
		}
		data = strings.TrimSpace(data)
		switch data {
		case "":
			continue
		case "[DONE]":
			if calls := d.flushCalls(); len(calls) > 0 {
				d.emit(provider.StreamChunk{ToolCalls: calls})
			}
			return
		}

		if !d.handle(data) {
			return
		}
	}

	if ctx.Err() != nil {
		d.emit(provider.StreamChunk{Err: ctx.Err()})
		return
	}
	if err := scanner.Err(); err != nil {
		d.emit(provider.StreamChunk{Err: mapConnectionError(err)})
		return
	}
	// EOF without [DONE]: some compatible servers just close the body.
	if calls := d.flushCalls(); len(calls) > 0 {
		d.emit(provider.StreamChunk{ToolCalls: calls})
	}
}

// handle decodes one data payload. It returns false when reading must stop.
func (d *streamDecoder) handle(data string) bool {
	var chunk chatStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		d.emit(provider.StreamChunk{Err: fmt.Errorf("openai: decode stream chunk: %w", err)})
		return false
	}

	var usage *provider.TokenUsage
	if chunk.Usage != nil {
		u := fromUsage(*chunk.Usage)
		usage = &u
	}

	if len(chunk.Choices) == 0 {
		if usage != nil {
			return d.emit(provider.StreamChunk{Usage: usage})
		}
		return true
	}

	choice := chunk.Choices[0]
	if err := d.accumulate(choice.Delta.ToolCalls); err != nil {
		d.emit(provider.StreamChunk{Err: err})
		return false
	}

	out := provider.StreamChunk{
		Content: choice.Delta.Content,
		Usage:   usage,
	}
	if choice.FinishReason != nil {
		out.FinishReason = mapFinishReason(choice.FinishReason)
		out.ToolCalls = d.flushCalls()
	}
	if out.Content == "" && out.FinishReason == "" && out.Usage == nil {
		return true
	}
	return d.emit(out)
}

// accumulate merges tool call fragments into pending calls, keyed by
// stream index. A fresh id on an occupied index opens a new slot, since
// some endpoints send several complete calls without distinct indexes.
func (d *streamDecoder) accumulate(deltas []chatToolCallDelta) error {
	for _, tc := range deltas {
		key := tc.Index
		if p, ok := d.pending[key]; ok && tc.ID != "" && p.id != "" && p.id != tc.ID {
			key = -1 - len(d.pending)
		}
		call, ok := d.pending[key]
		if !ok {
			call = &pendingCall{order: len(d.pending)}
			d.pending[key] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		if tc.Function.Arguments == "" {
			continue
		}
		if call.args.Len()+len(tc.Function.Arguments) > maxToolCallArgs {
			return fmt.Errorf("openai: tool call arguments exceeded %d bytes", maxToolCallArgs)
		}
		call.args.WriteString(tc.Function.Arguments)
	}
	return nil
}

// flushCalls returns the accumulated calls in arrival order and resets
// the accumulator.
func (d *streamDecoder) flushCalls() []provider.ToolCall {
	if len(d.pending) == 0 {
		return nil
	}
	calls := make([]*pendingCall, 0, len(d.pending))
	for _, c := range d.pending {
		calls = append(calls, c)
	}
	slices.SortFunc(calls, func(a, b *pendingCall) int { return a.order - b.order })

	out := make([]provider.ToolCall, len(calls))
	for i, c := range calls {
		id := c.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out[i] = provider.ToolCall{
			ID:        id,
			Name:      c.name,
			Arguments: normalizeArgs(c.args.String()),
		}
	}
	d.pending = make(map[int]*pendingCall)
	return out
}
