package compute

import (
	"log/slog"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/cache"
)

// DefaultConstantAlignment is the size granularity of constant buffers.
const DefaultConstantAlignment = 16

// EngineOption configures an Engine during creation.
//
// Example:
//
//	e, err := compute.NewEngine(
//	    compute.WithBackend("software"),
//	    compute.WithMemoryBudget(64<<20),
//	)
type EngineOption func(*engineOptions)

type engineOptions struct {
	backendName string
	device      backend.Device
	logger      *slog.Logger
	alignment   uint64
	budget      uint64
	cacheSize   int
}

func defaultOptions() engineOptions {
	return engineOptions{
		alignment: DefaultConstantAlignment,
		cacheSize: cache.DefaultCapacity,
	}
}

// WithBackend opens the named registered backend instead of the best
// available one. The backend package must be imported for its side effect.
func WithBackend(name string) EngineOption {
	return func(o *engineOptions) {
		o.backendName = name
	}
}

// WithDevice runs the engine on an already open device. The engine does
// not close it.
func WithDevice(d backend.Device) EngineOption {
	return func(o *engineOptions) {
		o.device = d
	}
}

// WithLogger gives the engine its own logger. It is also passed to the
// device when the device accepts one.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithConstantAlignment sets the size granularity of constant buffers.
// Values that are not a power of two are ignored.
func WithConstantAlignment(n uint64) EngineOption {
	return func(o *engineOptions) {
		if n != 0 && n&(n-1) == 0 {
			o.alignment = n
		}
	}
}

// WithMemoryBudget caps the total size of live buffers. Zero means no cap.
func WithMemoryBudget(bytes uint64) EngineOption {
	return func(o *engineOptions) {
		o.budget = bytes
	}
}

// WithKernelCache sets how many compiled WGSL kernels are kept.
// A negative capacity disables the cache.
func WithKernelCache(capacity int) EngineOption {
	return func(o *engineOptions) {
		o.cacheSize = capacity
	}
}
