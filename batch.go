package compute

import (
	"github.com/gogpu/compute/backend"
)

// batchState tracks the open batch of a deferred device: which buffers
// have dispatches or uploads recorded in it and which kernels it runs.
type batchState struct {
	open       bool
	buffers    map[*Buffer]struct{}
	kernels    map[*Kernel]struct{}
	dispatches int
}

func (s *batchState) begin() {
	s.open = true
	s.buffers = make(map[*Buffer]struct{})
	s.kernels = make(map[*Kernel]struct{})
	s.dispatches = 0
}

func (s *batchState) reset() {
	s.open = false
	s.buffers = nil
	s.kernels = nil
	s.dispatches = 0
}

func (s *batchState) track(b *Buffer) {
	if s.open {
		s.buffers[b] = struct{}{}
	}
}

func (s *batchState) uses(b *Buffer) bool {
	_, ok := s.buffers[b]
	return s.open && ok
}

func (s *batchState) usesKernel(k *Kernel) bool {
	_, ok := s.kernels[k]
	return s.open && ok
}

// record issues one dispatch. Deferred devices get the batch opened on
// demand and a barrier over every bound buffer ahead of the dispatch.
func (e *Engine) record(k *Kernel, bound []*Buffer, views []backend.BoundView, counts [3]uint32) error {
	deferred := e.discipline == backend.Deferred
	if deferred {
		if !e.batch.open {
			if err := e.dev.BeginBatch(); err != nil {
				return wrapAs(ErrSubmissionFailed, err, "begin batch")
			}
			e.batch.begin()
		}
		raw := make([]backend.Buffer, len(bound))
		for i, b := range bound {
			raw[i] = b.raw
		}
		e.dev.RecordBarrier(raw)
	}

	if err := e.dev.RecordDispatch(k.raw, views, counts[0], counts[1], counts[2]); err != nil {
		return wrapAs(ErrSubmissionFailed, err, "dispatch %s", k.entry)
	}

	for i, b := range bound {
		if views[i].Access == backend.AccessReadWrite {
			b.dirty = true
		}
		if deferred {
			e.batch.track(b)
		}
	}
	if deferred {
		e.batch.kernels[k] = struct{}{}
		e.batch.dispatches++
	}
	e.stats.Dispatches++
	e.log.Debug("compute: dispatch",
		"kernel", k.label,
		"groups", counts,
		"bindings", len(views),
		"deferred", deferred)
	return nil
}

// Finish submits the open batch and blocks until it completes, then clears
// the dirty flags of the buffers it touched. Every dirty buffer in the batch
// is synchronized first so kernel writes are visible to the host afterwards.
// With no open batch, including on immediate devices, it does nothing.
//
// If submission fails the batch is discarded and dirty flags stay set.
func (e *Engine) Finish() error {
	if !e.batch.open {
		return nil
	}
	settled, n := e.batch.buffers, e.batch.dispatches
	for b := range settled {
		if b.dirty {
			e.dev.Synchronize(b.raw)
		}
	}
	e.batch.reset()

	if err := e.dev.SubmitAndWait(); err != nil {
		e.log.Warn("compute: batch discarded", "dispatches", n, "err", err)
		return wrapAs(ErrSubmissionFailed, err, "finish")
	}
	for b := range settled {
		b.dirty = false
		b.pendingUpload = false
	}
	e.stats.Submissions++
	e.log.Debug("compute: batch complete", "dispatches", n, "buffers", len(settled))
	return nil
}

// settle makes b's contents current before a read. Only a batch that
// touches b is submitted; otherwise there is nothing outstanding and the
// flags are simply cleared.
func (e *Engine) settle(b *Buffer) error {
	if !e.batch.uses(b) {
		b.dirty = false
		b.pendingUpload = false
		return nil
	}
	if err := e.Finish(); err != nil {
		return err
	}
	e.stats.ReadFlushes++
	return nil
}
