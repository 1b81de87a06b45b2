package chat

import _ "embed"

// DefaultSystemPrompt instructs the model to format in markdown and to
// ground Reddit and news questions in tool results.
//
//go:embed prompt.md
var DefaultSystemPrompt string
