package compute

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/compute/backend"
)

// fakeDevice records every call. Deferred mode queues dispatches and
// in-batch uploads until SubmitAndWait; each dispatch increments every byte
// of the buffers bound read-write.
type fakeDevice struct {
	discipline backend.Discipline
	ops        []string

	open    bool
	pending []func()
	mapping *fakeMapping
	live    map[*fakeBuffer]bool

	reflected *backend.Layout
	allocErr  error
	buildErr  error
	submitErr error

	submissions int
	closed      bool
}

type fakeBuffer struct {
	label    string
	data     []byte
	constant bool
}

func (b *fakeBuffer) Size() uint64 { return uint64(len(b.data)) }

type fakeMapping struct {
	buf    *fakeBuffer
	offset uint64
	data   []byte
	write  bool
}

func newFake(d backend.Discipline) *fakeDevice {
	return &fakeDevice{discipline: d, live: make(map[*fakeBuffer]bool)}
}

func (f *fakeDevice) record(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeDevice) index(op string) int { return slices.Index(f.ops, op) }

func (f *fakeDevice) count(prefix string) int {
	n := 0
	for _, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeDevice) Name() string                   { return "fake" }
func (f *fakeDevice) Discipline() backend.Discipline { return f.discipline }

func (f *fakeDevice) AllocateBuffer(desc *backend.BufferDesc) (backend.Buffer, error) {
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	b := &fakeBuffer{label: desc.Label, data: make([]byte, desc.Size), constant: desc.Constant}
	f.live[b] = true
	return b, nil
}

func (f *fakeDevice) DestroyBuffer(buf backend.Buffer) {
	delete(f.live, buf.(*fakeBuffer))
}

func (f *fakeDevice) CompileKernel(desc *backend.KernelDesc) (backend.Kernel, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.record("compile %s", desc.EntryPoint)
	return desc.Label, nil
}

func (f *fakeDevice) DestroyKernel(k backend.Kernel) {
	f.record("destroy %v", k)
}

func (f *fakeDevice) CreateBindingView(buf backend.Buffer, access backend.Access) (backend.View, error) {
	f.record("view %s %s", buf.(*fakeBuffer).label, access)
	return access, nil
}

func (f *fakeDevice) DestroyView(backend.View) {}

func (f *fakeDevice) MapForWrite(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	f.mapping = &fakeMapping{buf: buf.(*fakeBuffer), offset: offset, data: make([]byte, size), write: true}
	return f.mapping.data, nil
}

func (f *fakeDevice) MapForRead(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	b := buf.(*fakeBuffer)
	f.record("read %s", b.label)
	f.mapping = &fakeMapping{buf: b}
	return slices.Clone(b.data[offset : offset+size]), nil
}

func (f *fakeDevice) Unmap(backend.Buffer) error {
	m := f.mapping
	f.mapping = nil
	if m == nil || !m.write {
		return nil
	}
	f.record("write %s", m.buf.label)
	apply := func() { copy(m.buf.data[m.offset:], m.data) }
	if f.open {
		f.pending = append(f.pending, apply)
	} else {
		apply()
	}
	return nil
}

func (f *fakeDevice) BeginBatch() error {
	f.record("begin")
	f.open = f.discipline == backend.Deferred
	return nil
}

func (f *fakeDevice) RecordBarrier(bufs []backend.Buffer) {
	f.record("barrier %d", len(bufs))
}

func (f *fakeDevice) RecordDispatch(_ backend.Kernel, bindings []backend.BoundView, x, y, z uint32) error {
	if f.discipline == backend.Deferred && !f.open {
		return fmt.Errorf("%w: no open batch", backend.ErrSubmissionFailed)
	}
	f.record("dispatch %d %d %d", x, y, z)
	run := func() {
		for _, bv := range bindings {
			if bv.Access != backend.AccessReadWrite {
				continue
			}
			b := bv.Buffer.(*fakeBuffer)
			for i := range b.data {
				b.data[i]++
			}
		}
	}
	if f.open {
		f.pending = append(f.pending, run)
	} else {
		run()
	}
	return nil
}

func (f *fakeDevice) Synchronize(buf backend.Buffer) {
	f.record("sync %s", buf.(*fakeBuffer).label)
}

func (f *fakeDevice) SubmitAndWait() error {
	if !f.open {
		return nil
	}
	f.open = false
	pending := f.pending
	f.pending = nil
	if f.submitErr != nil {
		f.record("discard")
		return f.submitErr
	}
	for _, run := range pending {
		run()
	}
	f.submissions++
	f.record("submit")
	return nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDevice) Reflect([]byte, string) (*backend.Layout, bool) {
	return f.reflected, f.reflected != nil
}

var (
	_ backend.Device    = (*fakeDevice)(nil)
	_ backend.Reflector = (*fakeDevice)(nil)
)

// newTestEngine opens an engine on a fresh fake device.
func newTestEngine(t *testing.T, d backend.Discipline, opts ...EngineOption) (*Engine, *fakeDevice) {
	t.Helper()
	f := newFake(d)
	e, err := NewEngine(append([]EngineOption{WithDevice(f)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, f
}
