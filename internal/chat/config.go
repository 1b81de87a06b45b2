package chat

// Default values for Config.
const (
	DefaultMaxFileSize   = 10 << 20
	DefaultHistoryWindow = 20
	DefaultTitleLength   = 50
)

// Config tunes a chat turn.
type Config struct {
	// MaxFileSize is the largest attachment accepted, in bytes. Larger
	// files are skipped, not rejected.
	MaxFileSize int64 `yaml:"max_file_size"`

	// HistoryWindow is how many earlier messages the model sees.
	HistoryWindow int `yaml:"history_window"`

	// TitleLength is the number of characters of the first message kept
	// as the title of a new conversation.
	TitleLength int `yaml:"title_length"`

	// SystemPrompt replaces the built-in assistant instructions.
	SystemPrompt string `yaml:"system_prompt"`

	// MessagesPerMinute limits chat turns per user. Enforced by the
	// gateway; zero disables the limit.
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

func (c Config) withDefaults() Config {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.TitleLength <= 0 {
		c.TitleLength = DefaultTitleLength
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}
