package config

import (
	"maps"
	"slices"

	"github.com/flemzord/reddichat/internal/core"
)

// Resolve returns the configured module IDs in load order: the store
// backend, then file storage, then the rest, by ID within each group.
func Resolve(cfg *Config) []string {
	return slices.SortedFunc(maps.Keys(cfg.Modules), func(a, b string) int {
		return core.CompareLoadOrder(core.ModuleID(a), core.ModuleID(b))
	})
}
