// Package app wires the reddichat runtime and provides the entry points
// shared by the CLI commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/reddichat/internal/config"
	"github.com/flemzord/reddichat/internal/security"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// Verbose forces debug logging.
	Verbose bool
}

// LoadConfig resolves, loads and validates the configuration file.
func LoadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Run loads configuration, starts the store, the gateway and the
// maintenance scheduler, and blocks until a shutdown signal is received.
func Run(params RunParams) error {
	cfg, cfgPath, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return err
	}

	rt, err := Build(context.Background(), cfg, BuildOptions{
		DataDir: params.DataDir,
		Version: params.Version,
		Verbose: params.Verbose,
		Serve:   true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			rt.Logger.Error("shutdown error", "error", err)
		}
	}()

	rt.Logger.Info("starting reddichat",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"bind", cfg.Server.Bind,
		"model", cfg.Provider.Model,
	)
	return rt.App.Run()
}

// NewLogger builds the process logger: a text or JSON handler wrapped so
// secrets known to redactor never reach the output.
func NewLogger(w io.Writer, format string, level slog.Level, redactor *security.Redactor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/reddichat/reddichat.yaml → ~/.config/reddichat/reddichat.yaml → ./reddichat.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "reddichat", "reddichat.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "reddichat", "reddichat.yaml"))
	}

	candidates = append(candidates, "reddichat.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultConfigPath is where init writes a new configuration.
func DefaultConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "reddichat", "reddichat.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "reddichat", "reddichat.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/reddichat if set, otherwise ~/.local/share/reddichat.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "reddichat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "reddichat")
}
