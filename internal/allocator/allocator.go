// Package allocator accounts for the memory backing class runtime metadata.
// Call-chain blocks and registry storage are reserved here before they are
// built, so a memory limit can be enforced and outstanding reservations can
// be reported as leaks after shutdown.
package allocator

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	rterrors "github.com/orizon-lang/classrt/internal/errors"
)

// Handle identifies one live reservation. The zero Handle is never issued.
type Handle uint64

// Allocator defines the interface for metadata allocators.
type Allocator interface {
	// Reserve accounts size bytes for what. It fails with an out-of-memory
	// error when the reservation would exceed the configured limit.
	Reserve(what string, size uintptr) (Handle, error)
	// Release returns a reservation. Unknown handles are ignored.
	Release(h Handle)
	Stats() AllocatorStats
	CheckLeaks() []LeakInfo
}

// AllocatorStats provides allocation statistics.
type AllocatorStats struct {
	TotalAllocated    uintptr
	TotalFreed        uintptr
	ActiveAllocations int
	PeakAllocations   int
	AllocationCount   uint64
	FreeCount         uint64
	FailedCount       uint64
	BytesInUse        uintptr
	MemoryLimit       uintptr
}

// Configuration for allocators.
type Config struct {
	MemoryLimit   uintptr // 0 means unlimited
	AlignmentSize uintptr
	EnableDebug   bool // capture stack traces for leak reports
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MemoryLimit:   systemMemoryLimit(),
		AlignmentSize: 8, // 8-byte alignment
	}
}

// Option functions.
func WithMemoryLimit(limit uintptr) Option {
	return func(c *Config) { c.MemoryLimit = limit }
}

func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.AlignmentSize = alignment }
}

func WithDebug(enabled bool) Option {
	return func(c *Config) { c.EnableDebug = enabled }
}

// Allocation metadata for tracking.
type AllocationInfo struct {
	What       string
	StackTrace []uintptr
	Size       uintptr
	Timestamp  int64
}

// SystemAllocator tracks reservations in a map guarded by a mutex and keeps
// the hot counters in atomics so Stats never blocks reservers for long.
type SystemAllocator struct {
	config            *Config
	activeAllocations map[Handle]*AllocationInfo
	nextHandle        uint64
	totalAllocated    uintptr
	totalFreed        uintptr
	allocationCount   uint64
	freeCount         uint64
	failedCount       uint64
	peakAllocations   int
	mu                sync.RWMutex
}

// NewSystemAllocator creates a new system allocator.
func NewSystemAllocator(options ...Option) *SystemAllocator {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	if config.AlignmentSize == 0 {
		config.AlignmentSize = 1
	}

	return &SystemAllocator{
		config:            config,
		activeAllocations: make(map[Handle]*AllocationInfo),
	}
}

// Reserve implements Allocator.
func (sa *SystemAllocator) Reserve(what string, size uintptr) (Handle, error) {
	alignedSize := alignUp(size, sa.config.AlignmentSize)
	if alignedSize < size {
		atomic.AddUint64(&sa.failedCount, 1)
		return 0, rterrors.OutOfMemory(what, size, sa.inUse(), sa.config.MemoryLimit)
	}

	info := &AllocationInfo{
		What:      what,
		Size:      alignedSize,
		Timestamp: time.Now().UnixNano(),
	}
	if sa.config.EnableDebug {
		info.StackTrace = captureStackTrace()
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	// Limit check and accounting happen under the same lock so concurrent
	// reservers cannot overshoot together.
	inUse := sa.inUse()
	if limit := sa.config.MemoryLimit; limit > 0 && (alignedSize > limit || inUse > limit-alignedSize) {
		atomic.AddUint64(&sa.failedCount, 1)
		return 0, rterrors.OutOfMemory(what, alignedSize, inUse, limit)
	}

	sa.nextHandle++
	h := Handle(sa.nextHandle)
	sa.activeAllocations[h] = info
	if len(sa.activeAllocations) > sa.peakAllocations {
		sa.peakAllocations = len(sa.activeAllocations)
	}

	atomic.AddUintptr(&sa.totalAllocated, alignedSize)
	atomic.AddUint64(&sa.allocationCount, 1)

	return h, nil
}

// Release implements Allocator.
func (sa *SystemAllocator) Release(h Handle) {
	if h == 0 {
		return
	}

	sa.mu.Lock()
	info, exists := sa.activeAllocations[h]
	if exists {
		delete(sa.activeAllocations, h)
	}
	sa.mu.Unlock()

	if !exists {
		return
	}

	atomic.AddUintptr(&sa.totalFreed, info.Size)
	atomic.AddUint64(&sa.freeCount, 1)
}

// Stats returns allocation statistics.
func (sa *SystemAllocator) Stats() AllocatorStats {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	return AllocatorStats{
		TotalAllocated:    atomic.LoadUintptr(&sa.totalAllocated),
		TotalFreed:        atomic.LoadUintptr(&sa.totalFreed),
		ActiveAllocations: len(sa.activeAllocations),
		PeakAllocations:   sa.peakAllocations,
		AllocationCount:   atomic.LoadUint64(&sa.allocationCount),
		FreeCount:         atomic.LoadUint64(&sa.freeCount),
		FailedCount:       atomic.LoadUint64(&sa.failedCount),
		BytesInUse:        sa.inUse(),
		MemoryLimit:       sa.config.MemoryLimit,
	}
}

func (sa *SystemAllocator) inUse() uintptr {
	return atomic.LoadUintptr(&sa.totalAllocated) - atomic.LoadUintptr(&sa.totalFreed)
}

// Memory leak detection.

// CheckLeaks returns every reservation that has not been released.
func (sa *SystemAllocator) CheckLeaks() []LeakInfo {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	var leaks []LeakInfo
	for h, info := range sa.activeAllocations {
		leaks = append(leaks, LeakInfo{
			Handle:     h,
			What:       info.What,
			Size:       info.Size,
			Timestamp:  info.Timestamp,
			StackTrace: info.StackTrace,
		})
	}

	return leaks
}

// LeakInfo represents information about a memory leak.
type LeakInfo struct {
	What       string
	StackTrace []uintptr
	Handle     Handle
	Size       uintptr
	Timestamp  int64
}

// FormatLeaks formats leak information for display.
func FormatLeaks(leaks []LeakInfo) string {
	if len(leaks) == 0 {
		return "No memory leaks detected"
	}

	result := fmt.Sprintf("Detected %d memory leaks:\n", len(leaks))
	for i, leak := range leaks {
		result += fmt.Sprintf("  Leak %d: %d bytes for %s (handle %d)\n", i+1, leak.Size, leak.What, leak.Handle)
		if len(leak.StackTrace) > 0 {
			result += "    Stack trace:\n"
			frames := runtime.CallersFrames(leak.StackTrace)

			for {
				frame, more := frames.Next()
				result += fmt.Sprintf("      %s:%d %s\n", frame.File, frame.Line, frame.Function)

				if !more {
					break
				}
			}
		}
	}

	return result
}

// Utility functions.

// alignUp aligns a size up to the nearest multiple of alignment.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}

// captureStackTrace captures the current stack trace.
func captureStackTrace() []uintptr {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	return pcs[:n]
}
