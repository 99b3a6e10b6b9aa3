//go:build !linux

package allocator

// systemMemoryLimit returns 0 (no limit) where no rlimit is consulted.
func systemMemoryLimit() uintptr { return 0 }
