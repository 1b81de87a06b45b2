// Package tool defines the tool interface and the registry through which the
// agent loop invokes external capabilities. Every tool call goes through a
// Registry so rate limits, audit and metrics apply uniformly.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the unique identifier the model uses to call the tool.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Schema returns a JSON Schema describing the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Backend failures should be reported through
	// Output.IsError with a structured payload rather than a Go error;
	// a returned error means the call itself could not be carried out.
	Execute(ctx context.Context, args json.RawMessage) (Output, error)
}

// Output is the result of a tool execution.
type Output struct {
	// Content is the text fed back to the model, usually JSON.
	Content string

	// IsError indicates whether the output represents an error condition.
	IsError bool

	// Data is the typed result behind Content, used for citation
	// extraction. It is never sent to the model.
	Data any
}
