package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/core"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, checks that all referenced module IDs
// exist in the registry, requires exactly one store module and at most
// one storage module, and validates the typed sections.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateModules(cfg.Modules)...)

	if _, err := auth.NewJWT(cfg.Auth); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if cfg.Provider.APIKey == "" {
		errs = append(errs, errors.New("config: provider.api_key is required"))
	}
	if cfg.Server.Bind != "" {
		if err := cfg.Server.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}
	if cfg.RedditEnabled() {
		if err := cfg.Reddit.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateCron(cfg.Cron)...)

	return errors.Join(errs...)
}

func validateModules(modules map[string]yaml.Node) []error {
	var errs []error
	if len(modules) == 0 {
		return []error{errors.New("config: at least one module must be configured")}
	}

	var stores, storages []string
	for id := range modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		switch core.ModuleID(id).Namespace() {
		case core.NamespaceStore:
			stores = append(stores, id)
		case core.NamespaceStorage:
			storages = append(storages, id)
		}
	}

	if len(stores) != 1 {
		errs = append(errs, fmt.Errorf("config: exactly one store module is required, got %d", len(stores)))
	}
	if len(storages) > 1 {
		errs = append(errs, fmt.Errorf("config: at most one storage module may be configured, got %v", storages))
	}
	return errs
}

func validateLog(l LogConfig) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", l.Level))
	}
	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not text or json", l.Format))
	}
	return errs
}

func validateCron(c CronConfig) []error {
	if c.OrphanTTL == "" {
		return nil
	}
	d, err := time.ParseDuration(c.OrphanTTL)
	if err != nil || d <= 0 {
		return []error{fmt.Errorf("config: cron.orphan_ttl %q is not a positive duration", c.OrphanTTL)}
	}
	return nil
}
