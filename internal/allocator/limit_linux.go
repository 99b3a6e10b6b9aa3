//go:build linux

package allocator

import "golang.org/x/sys/unix"

// systemMemoryLimit derives the default limit from the address-space rlimit.
// An unlimited or unreadable rlimit yields 0 (no limit).
func systemMemoryLimit() uintptr {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &rl); err != nil {
		return 0
	}
	if rl.Cur == unix.RLIM_INFINITY || rl.Cur > uint64(^uintptr(0)) {
		return 0
	}
	return uintptr(rl.Cur)
}
