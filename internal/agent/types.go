// Package agent implements the bounded reason-act loop that turns a
// conversation into an answer through provider calls and tool executions.
package agent

import (
	"encoding/json"
	"time"

	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/tool"
)

// Request is one turn handed to the loop: the conversation so far, the
// system prompt and the tools the model may call.
type Request struct {
	Messages     []provider.LLMMessage
	SystemPrompt string
	Tools        []provider.ToolDefinition
}

// StopReason records why a turn ended.
type StopReason string

const (
	StopReasonComplete     StopReason = "complete"
	StopReasonStepLimit    StopReason = "step_limit"
	StopReasonLoopDetected StopReason = "loop_detected"
	StopReasonTokenBudget  StopReason = "token_budget"
	StopReasonTimeout      StopReason = "timeout"
	StopReasonError        StopReason = "error"
)

// Response is the outcome of a turn. Content joins the text of every step
// in order, including text written before a tool call.
type Response struct {
	Content    string
	ToolCalls  []ToolCallRecord
	TotalUsage provider.TokenUsage
	Steps      int
	StopReason StopReason
}

// LastTool names the most recent tool the model called, or "".
func (r Response) LastTool() string {
	if len(r.ToolCalls) == 0 {
		return ""
	}
	return r.ToolCalls[len(r.ToolCalls)-1].Name
}

// ToolCallRecord is one executed tool call.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Output    tool.Output
	Duration  time.Duration
	Panicked  bool
}

// Failed reports whether the call produced no usable result.
func (r ToolCallRecord) Failed() bool {
	return r.Panicked || r.Output.IsError
}

// StreamEventType is the kind of a StreamEvent.
type StreamEventType string

const (
	StreamEventText      StreamEventType = "text"
	StreamEventToolStart StreamEventType = "tool_start"
	StreamEventToolEnd   StreamEventType = "tool_end"
	StreamEventUsage     StreamEventType = "usage"
	StreamEventDone      StreamEventType = "done"
	StreamEventError     StreamEventType = "error"
)

// Terminal reports whether the event ends the stream.
func (t StreamEventType) Terminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// StreamEvent is emitted by RunStream. Which fields are set depends on Type:
// Content for text, ToolCall for tool_start and tool_end, Usage for usage,
// Final for done and Err for error.
type StreamEvent struct {
	Type     StreamEventType
	Content  string
	ToolCall *ToolCallRecord
	Usage    *provider.TokenUsage
	Final    *Response
	Err      error
}
