// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/reddichat/internal/tool"
)

// MockTool is a configurable mock implementation of tool.Tool.
type MockTool struct {
	NameValue   string
	SchemaValue json.RawMessage
	ExecuteFunc func(ctx context.Context, args json.RawMessage) (tool.Output, error)

	mu   sync.Mutex
	Args []json.RawMessage
}

// Name implements tool.Tool.
func (m *MockTool) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock_tool"
}

// Description implements tool.Tool.
func (m *MockTool) Description() string { return "a mock tool" }

// Schema implements tool.Tool.
func (m *MockTool) Schema() json.RawMessage {
	if m.SchemaValue != nil {
		return m.SchemaValue
	}
	return json.RawMessage(`{"type":"object"}`)
}

// Execute implements tool.Tool and records the arguments it was called with.
func (m *MockTool) Execute(ctx context.Context, args json.RawMessage) (tool.Output, error) {
	m.mu.Lock()
	m.Args = append(m.Args, args)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, args)
	}
	return tool.Output{Content: "ok"}, nil
}

// Calls returns how many times Execute ran.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Args)
}

// Returning builds a mock that always answers with out.
func Returning(name string, out tool.Output) *MockTool {
	return &MockTool{
		NameValue: name,
		ExecuteFunc: func(context.Context, json.RawMessage) (tool.Output, error) {
			return out, nil
		},
	}
}

var _ tool.Tool = (*MockTool)(nil)
