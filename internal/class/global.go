package class

import "sync"

// Process-wide registry and its initialization guard.
var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, creating one with default
// settings on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// SetDefault installs r as the process-wide registry. It only has an effect
// before the first call to Default and reports whether r was installed.
func SetDefault(r *Registry) bool {
	installed := false
	defaultOnce.Do(func() {
		defaultRegistry = r
		installed = true
	})
	return installed
}

// EnsureInitialized initializes c with the process-wide registry.
func EnsureInitialized(c *Class) {
	Default().EnsureInitialized(c)
}

// FinalizeAll finalizes the process-wide registry.
func FinalizeAll() error {
	return Default().FinalizeAll()
}
