package compute

import (
	"fmt"

	"github.com/gogpu/compute/backend"
)

// BufferKind selects how a buffer may be bound.
type BufferKind uint8

const (
	// BufferConstant backs uniform blocks. Its size is rounded up to the
	// engine's constant alignment and it is always written whole.
	BufferConstant BufferKind = iota

	// BufferStructured backs read-only and read-write storage slots.
	BufferStructured
)

// String returns the kind name.
func (k BufferKind) String() string {
	switch k {
	case BufferConstant:
		return "Constant"
	case BufferStructured:
		return "Structured"
	default:
		return fmt.Sprintf("BufferKind(%d)", k)
	}
}

// Buffer is a block of device memory created by an Engine.
type Buffer struct {
	engine *Engine
	raw    backend.Buffer
	label  string
	size   uint64
	kind   BufferKind
	stride uint32

	// Views are created on first bind and live as long as the buffer.
	readView  backend.View
	writeView backend.View

	// dirty means the device may hold writes the CPU has not observed.
	dirty bool
	// pendingUpload means a Write is recorded in the open batch.
	pendingUpload bool

	destroyed bool
}

// Size returns the buffer size in bytes, after constant rounding.
func (b *Buffer) Size() uint64 { return b.size }

// Kind returns the buffer kind.
func (b *Buffer) Kind() BufferKind { return b.kind }

// Stride returns the element stride of a structured buffer.
func (b *Buffer) Stride() uint32 { return b.stride }

// Dirty reports whether a kernel may have written the buffer since it was
// last read.
func (b *Buffer) Dirty() bool { return b.dirty }

// CreateBuffer allocates a buffer of size bytes.
//
// Structured buffers need a stride that is a positive multiple of 4.
// Constant buffers take stride 0 and are rounded up to the constant
// alignment.
func (e *Engine) CreateBuffer(size uint64, kind BufferKind, stride uint32) (*Buffer, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: zero size", ErrInvalidBuffer)
	}
	switch kind {
	case BufferConstant:
		if stride != 0 {
			return nil, fmt.Errorf("%w: constant buffer with stride %d", ErrInvalidBuffer, stride)
		}
		size = (size + e.alignment - 1) &^ (e.alignment - 1)
	case BufferStructured:
		if stride == 0 || stride%4 != 0 {
			return nil, fmt.Errorf("%w: structured stride %d is not a positive multiple of 4", ErrInvalidBuffer, stride)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidBuffer, kind)
	}

	if err := e.mem.reserve(size); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	label := e.nextLabel("buffer")
	raw, err := e.dev.AllocateBuffer(&backend.BufferDesc{
		Label:      label,
		Size:       size,
		Constant:   kind == BufferConstant,
		CPUVisible: kind == BufferConstant,
	})
	if err != nil {
		e.mem.release(size)
		return nil, wrapAs(ErrAllocationFailed, err, "create %s buffer", kind)
	}

	b := &Buffer{
		engine: e,
		raw:    raw,
		label:  label,
		size:   size,
		kind:   kind,
		stride: stride,
	}
	e.buffers[b] = struct{}{}
	e.log.Debug("compute: buffer created", "label", label, "size", size, "kind", kind.String())
	return b, nil
}

// DestroyBuffer releases the buffer's views and memory. Unbinds it first
// and, when the open batch uses it, settles the batch. Nil and already
// destroyed buffers are ignored.
func (e *Engine) DestroyBuffer(b *Buffer) {
	if b == nil || b.destroyed || b.engine != e {
		return
	}
	if e.batch.uses(b) {
		if err := e.Finish(); err != nil {
			e.log.Warn("compute: batch discarded before buffer release", "label", b.label, "err", err)
		}
	}
	for slot := range e.bindings {
		if e.bindings[slot].buf == b {
			e.bindings[slot] = binding{}
		}
	}

	if b.readView != nil {
		e.dev.DestroyView(b.readView)
	}
	if b.writeView != nil {
		e.dev.DestroyView(b.writeView)
	}
	e.dev.DestroyBuffer(b.raw)
	e.mem.release(b.size)
	delete(e.buffers, b)

	b.readView, b.writeView, b.raw = nil, nil, nil
	b.destroyed = true
	b.dirty, b.pendingUpload = false, false
}

// Write copies src into the buffer at offset.
//
// Constant buffers must be written whole. On deferred devices with an open
// batch the upload is ordered after the work already recorded; an upload
// that is not 4-byte aligned settles the batch first.
func (e *Engine) Write(b *Buffer, src []byte, offset uint64) error {
	if err := e.checkRange(b, offset, uint64(len(src))); err != nil {
		return err
	}
	if b.kind == BufferConstant && (offset != 0 || uint64(len(src)) != b.size) {
		return fmt.Errorf("%w: wrote [%d,%d) of %d bytes",
			ErrInvalidPartialConstantUpdate, offset, offset+uint64(len(src)), b.size)
	}
	if len(src) == 0 {
		return nil
	}

	if e.batch.open && (offset%4 != 0 || len(src)%4 != 0) {
		if err := e.Finish(); err != nil {
			return err
		}
	}

	dst, err := e.dev.MapForWrite(b.raw, offset, uint64(len(src)))
	if err != nil {
		return fmt.Errorf("compute: write %s: %w", b.label, err)
	}
	copy(dst, src)
	if err := e.dev.Unmap(b.raw); err != nil {
		return fmt.Errorf("compute: write %s: %w", b.label, err)
	}

	if e.batch.open {
		b.pendingUpload = true
		e.batch.track(b)
	}
	return nil
}

// Read copies len(dst) bytes at offset into dst. A dirty buffer settles the
// open batch first so the kernel's writes are visible.
func (e *Engine) Read(b *Buffer, dst []byte, offset uint64) error {
	if err := e.checkRange(b, offset, uint64(len(dst))); err != nil {
		return err
	}
	if b.dirty || b.pendingUpload {
		if err := e.settle(b); err != nil {
			return err
		}
	}
	if len(dst) == 0 {
		return nil
	}

	src, err := e.dev.MapForRead(b.raw, offset, uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("compute: read %s: %w", b.label, err)
	}
	copy(dst, src)
	if err := e.dev.Unmap(b.raw); err != nil {
		return fmt.Errorf("compute: read %s: %w", b.label, err)
	}
	return nil
}

func (e *Engine) checkRange(b *Buffer, offset, size uint64) error {
	if err := e.usable(); err != nil {
		return err
	}
	if err := e.own(b); err != nil {
		return err
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: [%d,%d) of %d bytes", ErrOutOfRange, offset, offset+size, b.size)
	}
	return nil
}

func (e *Engine) own(b *Buffer) error {
	switch {
	case b == nil:
		return fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	case b.engine != e:
		return fmt.Errorf("%w: %s belongs to another engine", ErrInvalidBuffer, b.label)
	case b.destroyed:
		return fmt.Errorf("%w: %s was destroyed", ErrInvalidBuffer, b.label)
	}
	return nil
}

// view returns the cached binding view for usage, creating it on first use.
func (e *Engine) view(b *Buffer, usage Usage) (backend.View, error) {
	slot, access := &b.readView, backend.AccessRead
	switch usage {
	case UsageOutput:
		slot, access = &b.writeView, backend.AccessReadWrite
	case UsageConstant:
		access = backend.AccessConstant
	}
	if *slot != nil {
		return *slot, nil
	}
	v, err := e.dev.CreateBindingView(b.raw, access)
	if err != nil {
		return nil, wrapAs(ErrViewCreationFailed, err, "view of %s", b.label)
	}
	*slot = v
	return v, nil
}
