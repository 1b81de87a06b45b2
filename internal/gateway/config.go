package gateway

import (
	"errors"
	"net"
	"time"

	"github.com/flemzord/reddichat/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins enables CORS and WebSocket upgrades from these
	// origins. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxRequestSize bounds multipart bodies (all files of a request).
	MaxRequestSize int64 `yaml:"max_request_size"`

	// MaxMessageSize bounds the text of one chat message in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// CheckProvider makes /health call the model provider.
	CheckProvider bool `yaml:"check_provider"`
}

// defaults fills zero values with sensible defaults. WriteTimeout does not
// apply to streaming responses, which clear their own deadline.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 64 << 20
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = security.DefaultMaxMessageSize
	}
}

// Validate checks the bind address.
func (c Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + c.Bind)
	}
	return nil
}
