package agent

import "time"

// Default values for LoopConfig.
const (
	DefaultMaxSteps      = 5
	DefaultTokenBudget   = 0 // 0 means unlimited.
	DefaultTimeout       = 2 * time.Minute
	DefaultLoopThreshold = 3
)

// LoopConfig controls the behavior of the agent reasoning loop.
type LoopConfig struct {
	// MaxSteps is the number of provider calls allowed per turn.
	// The last one is made with tools disabled.
	MaxSteps int `yaml:"max_steps"`

	// TokenBudget is the cumulative token limit (input + output).
	// Zero means unlimited.
	TokenBudget int `yaml:"token_budget"`

	// Timeout is the maximum wall-clock duration for the loop.
	Timeout time.Duration `yaml:"timeout"`

	// LoopThreshold is how many times the same tool call (name + args)
	// can repeat before the loop is considered stuck.
	LoopThreshold int `yaml:"loop_threshold"`

	// Temperature and MaxTokens are forwarded to every provider call.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LoopThreshold <= 0 {
		c.LoopThreshold = DefaultLoopThreshold
	}
	return c
}
