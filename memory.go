package compute

import (
	"errors"
	"fmt"
)

// ErrMemoryBudgetExceeded is wrapped, together with ErrAllocationFailed,
// when a buffer would push usage past the engine's memory budget.
var ErrMemoryBudgetExceeded = errors.New("compute: memory budget exceeded")

// MemoryStats describes buffer memory owned by an engine.
type MemoryStats struct {
	// BudgetBytes is the configured cap; zero means unbounded.
	BudgetBytes uint64

	UsedBytes uint64
	PeakBytes uint64

	// AvailableBytes is BudgetBytes - UsedBytes, or zero when unbounded.
	AvailableBytes uint64

	BufferCount int

	// Utilization is UsedBytes / BudgetBytes in [0, 1], zero when unbounded.
	Utilization float64
}

// String returns a human-readable summary.
func (s MemoryStats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Memory[%d KB used, peak %d KB, %d buffers]",
			s.UsedBytes/1024,
			s.PeakBytes/1024,
			s.BufferCount)
	}
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, peak %d KB, %d buffers]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.BudgetBytes/1024,
		s.PeakBytes/1024,
		s.BufferCount)
}

// memoryTracker accounts for live buffer allocations.
type memoryTracker struct {
	budget uint64
	used   uint64
	peak   uint64
	count  int
}

// reserve accounts for size bytes, failing if the budget would be exceeded.
func (m *memoryTracker) reserve(size uint64) error {
	if m.budget > 0 && (size > m.budget || m.used > m.budget-size) {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrMemoryBudgetExceeded, size, m.used, m.budget)
	}
	m.used += size
	m.count++
	m.peak = max(m.peak, m.used)
	return nil
}

func (m *memoryTracker) release(size uint64) {
	m.used -= min(size, m.used)
	if m.count > 0 {
		m.count--
	}
}

func (m *memoryTracker) stats() MemoryStats {
	s := MemoryStats{
		BudgetBytes: m.budget,
		UsedBytes:   m.used,
		PeakBytes:   m.peak,
		BufferCount: m.count,
	}
	if m.budget > 0 {
		s.AvailableBytes = m.budget - min(m.used, m.budget)
		s.Utilization = float64(m.used) / float64(m.budget)
	}
	return s
}
