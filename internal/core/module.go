package core

import "strings"

// ModuleID is a dotted identifier such as "store.sqlite". The part before
// the last dot is the namespace.
type ModuleID string

// Namespace returns everything before the last dot, or "" for a bare ID.
func (id ModuleID) Namespace() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Name returns the last dotted segment.
func (id ModuleID) Name() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is the minimal contract every module satisfies. Lifecycle hooks
// are optional interfaces, see lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
