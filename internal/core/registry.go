package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Backend namespaces known to the loader.
const (
	NamespaceStore   = "store"
	NamespaceStorage = "storage"
)

// loadRank orders namespaces at load time. The store backend comes first
// so storage modules and the services wired after them can rely on it.
// Unlisted namespaces load last.
var loadRank = map[string]int{
	NamespaceStore:   0,
	NamespaceStorage: 1,
}

// CompareLoadOrder orders module IDs by namespace rank, then by ID.
func CompareLoadOrder(a, b ModuleID) int {
	return cmp.Or(cmp.Compare(rank(a), rank(b)), cmp.Compare(a, b))
}

func rank(id ModuleID) int {
	if r, ok := loadRank[id.Namespace()]; ok {
		return r
	}
	return len(loadRank)
}

type registry struct {
	mu      sync.RWMutex
	modules map[ModuleID]ModuleInfo
}

var compiled = &registry{modules: make(map[ModuleID]ModuleInfo)}

// RegisterModule adds a compiled-in backend module. Module packages call
// it from init. It panics when the ID is not of the form
// "<namespace>.<name>", when New is nil, or when the ID is taken.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if ns, name := info.ID.Namespace(), info.ID.Name(); ns == "" || name == "" || ns == string(info.ID) {
		panic(fmt.Sprintf("module ID %q must be <namespace>.<name>", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	compiled.mu.Lock()
	defer compiled.mu.Unlock()
	if _, exists := compiled.modules[info.ID]; exists {
		panic(fmt.Sprintf("module already registered: %s", info.ID))
	}
	compiled.modules[info.ID] = info
}

// GetModule returns the ModuleInfo for id.
func GetModule(id string) (ModuleInfo, bool) {
	compiled.mu.RLock()
	defer compiled.mu.RUnlock()
	info, ok := compiled.modules[ModuleID(id)]
	return info, ok
}

// GetModules returns every compiled-in module in load order.
func GetModules() []ModuleInfo {
	compiled.mu.RLock()
	defer compiled.mu.RUnlock()

	out := make([]ModuleInfo, 0, len(compiled.modules))
	for _, info := range compiled.modules {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ModuleInfo) int { return CompareLoadOrder(a.ID, b.ID) })
	return out
}

func resetRegistry() {
	compiled.mu.Lock()
	defer compiled.mu.Unlock()
	clear(compiled.modules)
}
