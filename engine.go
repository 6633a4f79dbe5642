package compute

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/cache"
	"github.com/gogpu/compute/internal/wgsl"
)

// Engine runs compute kernels on one backend device.
//
// An Engine owns the buffers and kernels created through it, a binding
// table for the active kernel and, on deferred devices, the open command
// batch. Engine methods are not safe for concurrent use.
type Engine struct {
	dev        backend.Device
	discipline backend.Discipline
	ownsDevice bool
	log        *slog.Logger
	alignment  uint64

	mem      memoryTracker
	buffers  map[*Buffer]struct{}
	kernels  map[*Kernel]struct{}
	compiled *cache.Cache[*wgsl.Output]

	kernel   *Kernel
	bindings [backend.MaxSlots]binding
	batch    batchState

	stats  Stats
	seq    uint64
	closed bool
}

// Stats counts engine activity.
type Stats struct {
	Dispatches  uint64
	Submissions uint64

	// ReadFlushes counts submissions forced by Read of a dirty buffer.
	ReadFlushes uint64

	KernelCacheHits   uint64
	KernelCacheMisses uint64
}

// NewEngine opens an engine. Without WithDevice or WithBackend it uses the
// best registered backend (see backend.Default).
func NewEngine(opts ...EngineOption) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		log = Logger()
	}

	dev, owns := o.device, false
	if dev == nil {
		var err error
		if o.backendName != "" {
			dev, err = backend.Open(o.backendName)
		} else {
			dev, err = backend.Default()
		}
		if err != nil {
			return nil, fmt.Errorf("compute: open device: %w", err)
		}
		owns = true
	}
	if o.logger != nil {
		propagateLogger(dev, o.logger)
	} else if loggerSet.Load() {
		propagateLogger(dev, Logger())
	}

	e := &Engine{
		dev:        dev,
		discipline: dev.Discipline(),
		ownsDevice: owns,
		log:        log,
		alignment:  o.alignment,
		mem:        memoryTracker{budget: o.budget},
		buffers:    make(map[*Buffer]struct{}),
		kernels:    make(map[*Kernel]struct{}),
	}
	if o.cacheSize >= 0 {
		e.compiled = cache.New[*wgsl.Output](o.cacheSize)
	}

	log.Info("compute: engine ready",
		"backend", dev.Name(),
		"discipline", e.discipline.String())
	return e, nil
}

// Backend returns the name of the device's backend.
func (e *Engine) Backend() string { return e.dev.Name() }

// Discipline reports whether the device executes work on issue or on Finish.
func (e *Engine) Discipline() backend.Discipline { return e.discipline }

// Device returns the underlying device.
func (e *Engine) Device() backend.Device { return e.dev }

// Stats returns activity counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	if e.compiled != nil {
		cs := e.compiled.Stats()
		s.KernelCacheHits, s.KernelCacheMisses = cs.Hits, cs.Misses
	}
	return s
}

// MemoryStats returns buffer memory accounting.
func (e *Engine) MemoryStats() MemoryStats { return e.mem.stats() }

// Close finishes outstanding work, destroys every buffer and kernel still
// owned by the engine and closes the device unless it was supplied with
// WithDevice. Close is idempotent.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	finishErr := e.Finish()
	if finishErr != nil {
		e.log.Warn("compute: outstanding work discarded on close", "err", finishErr)
	}

	e.clearBindings()
	e.kernel = nil
	for k := range e.kernels {
		e.DestroyKernel(k)
	}
	for b := range e.buffers {
		e.DestroyBuffer(b)
	}
	if e.compiled != nil {
		e.compiled.Clear()
	}
	e.closed = true

	var closeErr error
	if e.ownsDevice {
		closeErr = e.dev.Close()
	}
	return errors.Join(finishErr, closeErr)
}

func (e *Engine) usable() error {
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) nextLabel(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s_%d", prefix, e.seq)
}
