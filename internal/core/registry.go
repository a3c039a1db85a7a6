package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// registry holds every compiled-in module, keyed by ID. Modules add
// themselves from init, so it is filled before main runs.
var registry = struct {
	sync.RWMutex
	byID map[string]ModuleInfo
}{byID: make(map[string]ModuleInfo)}

// RegisterModule records instance's ModuleInfo. It panics on an empty ID, a
// missing constructor or a duplicate ID, all of which are programming errors.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("core: module ID must not be empty")
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byID[string(info.ID)]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry.byID[string(info.ID)] = info
}

// GetModule looks up a compiled-in module.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[id]
	return info, ok
}

// GetModules returns every compiled-in module ordered by ID.
func GetModules() []ModuleInfo {
	return sortedModules(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace returns the modules in a role namespace, so "store"
// yields store.postgres and store.sqlite.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."
	return sortedModules(func(info ModuleInfo) bool {
		return strings.HasPrefix(string(info.ID), prefix)
	})
}

func sortedModules(keep func(ModuleInfo) bool) []ModuleInfo {
	registry.RLock()
	all := slices.Collect(maps.Values(registry.byID))
	registry.RUnlock()

	out := slices.DeleteFunc(all, func(info ModuleInfo) bool { return !keep(info) })
	slices.SortFunc(out, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// resetRegistry is for tests.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.byID = make(map[string]ModuleInfo)
}
