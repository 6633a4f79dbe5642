package software

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/wgpu/hal/software/shader"
)

// ErrForeignResource is returned when a resource from another device is passed in.
var ErrForeignResource = errors.New("software: resource does not belong to this device")

// wordSize is the interpreter's load/store granularity.
const wordSize = 4

type buffer struct {
	data     []byte // length rounded up to wordSize
	size     uint64
	constant bool
	label    string
	mapped   bool
	dev      *Device
}

func (b *buffer) Size() uint64 { return b.size }

type kernel struct {
	module *shader.Module
	entry  string
	label  string
	dev    *Device
}

type view struct {
	buf    *buffer
	access backend.Access
}

// Device is an immediate compute device backed by host memory.
type Device struct {
	closed     bool
	dispatches uint64
	live       int // allocated buffers

	log *slog.Logger
}

var _ backend.Device = (*Device)(nil)

// New returns a ready device. It never fails.
func New() *Device {
	return &Device{}
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.NameSoftware }

// Discipline reports Immediate.
func (d *Device) Discipline() backend.Discipline { return backend.Immediate }

// Dispatches returns how many kernels have run on the device.
func (d *Device) Dispatches() uint64 { return d.dispatches }

// LiveBuffers returns how many buffers are allocated and not yet destroyed.
func (d *Device) LiveBuffers() int { return d.live }

// AllocateBuffer allocates zeroed host memory.
func (d *Device) AllocateBuffer(desc *backend.BufferDesc) (backend.Buffer, error) {
	if d.closed {
		return nil, backend.ErrClosed
	}
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("%w: empty buffer", backend.ErrAllocationFailed)
	}
	n := (desc.Size + wordSize - 1) &^ (wordSize - 1)
	d.live++
	return &buffer{
		data:     make([]byte, n),
		size:     desc.Size,
		constant: desc.Constant,
		label:    desc.Label,
		dev:      d,
	}, nil
}

// DestroyBuffer drops the buffer's memory.
func (d *Device) DestroyBuffer(buf backend.Buffer) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.dev != d || b.data == nil {
		return
	}
	b.data = nil
	d.live--
}

// CompileKernel parses the SPIR-V for the interpreter.
func (d *Device) CompileKernel(desc *backend.KernelDesc) (backend.Kernel, error) {
	if d.closed {
		return nil, backend.ErrClosed
	}
	if desc == nil || len(desc.SPIRV) == 0 {
		return nil, fmt.Errorf("%w: empty module", backend.ErrCompilationFailed)
	}
	if desc.Flags != 0 {
		d.logger().Debug("software: compile flags ignored", "label", desc.Label, "flags", uint8(desc.Flags))
	}
	m, err := shader.ParseModule(desc.SPIRV)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrCompilationFailed, err)
	}
	if _, ok := m.EntryPoints[desc.EntryPoint]; !ok {
		return nil, fmt.Errorf("%w: entry point %q not found", backend.ErrCompilationFailed, desc.EntryPoint)
	}
	return &kernel{module: m, entry: desc.EntryPoint, label: desc.Label, dev: d}, nil
}

// DestroyKernel is a no-op.
func (d *Device) DestroyKernel(backend.Kernel) {}

// CreateBindingView checks that access matches the buffer's kind.
func (d *Device) CreateBindingView(buf backend.Buffer, access backend.Access) (backend.View, error) {
	b, err := d.own(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrViewCreationFailed, err)
	}
	if (access == backend.AccessConstant) != b.constant {
		return nil, fmt.Errorf("%w: %s view on a %s buffer", backend.ErrViewCreationFailed, access, kindName(b.constant))
	}
	return &view{buf: b, access: access}, nil
}

// DestroyView is a no-op.
func (d *Device) DestroyView(backend.View) {}

// MapForWrite returns the buffer's own memory; writes land immediately.
func (d *Device) MapForWrite(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	return d.mapRange(buf, offset, size)
}

// MapForRead returns the buffer's own memory.
func (d *Device) MapForRead(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	return d.mapRange(buf, offset, size)
}

func (d *Device) mapRange(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	if d.closed {
		return nil, backend.ErrClosed
	}
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, fmt.Errorf("%w: %q is already mapped", backend.ErrMapFailed, b.label)
	}
	if size == 0 || offset+size > b.size {
		return nil, fmt.Errorf("%w: range [%d,%d) of %d-byte buffer",
			backend.ErrMapFailed, offset, offset+size, b.size)
	}
	b.mapped = true
	return b.data[offset : offset+size : offset+size], nil
}

// Unmap ends the mapping.
func (d *Device) Unmap(buf backend.Buffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	b.mapped = false
	return nil
}

// BeginBatch is a no-op.
func (d *Device) BeginBatch() error {
	if d.closed {
		return backend.ErrClosed
	}
	return nil
}

// RecordBarrier is a no-op: dispatches run in issue order.
func (d *Device) RecordBarrier([]backend.Buffer) {}

// RecordDispatch runs the kernel to completion over x*y*z groups.
func (d *Device) RecordDispatch(kk backend.Kernel, bindings []backend.BoundView, x, y, z uint32) error {
	if d.closed {
		return backend.ErrClosed
	}
	k, ok := kk.(*kernel)
	if !ok || k == nil || k.dev != d {
		return ErrForeignResource
	}

	ctx := &shader.ExecutionContext{Buffers: make(map[shader.BindingKey][]byte, len(bindings))}
	for _, bv := range bindings {
		v, ok := bv.View.(*view)
		if !ok || v == nil || v.buf.dev != d || v.buf.data == nil {
			return fmt.Errorf("slot %d: %w", bv.Slot, ErrForeignResource)
		}
		ctx.Buffers[shader.BindingKey{Group: 0, Binding: bv.Slot}] = v.buf.data
	}

	if err := k.module.DispatchCompute(k.entry, ctx, x, y, z); err != nil {
		return fmt.Errorf("%w: %s: %w", backend.ErrSubmissionFailed, k.label, err)
	}
	d.dispatches++
	d.logger().Debug("software: dispatch",
		"kernel", k.label,
		"groups", fmt.Sprintf("(%d,%d,%d)", x, y, z))
	return nil
}

// Synchronize is a no-op.
func (d *Device) Synchronize(backend.Buffer) {}

// SubmitAndWait is a no-op: all work has already completed.
func (d *Device) SubmitAndWait() error { return nil }

// Close marks the device closed. Buffers stay readable by their holders
// but the device accepts no more work.
func (d *Device) Close() error {
	d.closed = true
	return nil
}

func (d *Device) own(buf backend.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.dev != d || b.data == nil {
		return nil, ErrForeignResource
	}
	return b, nil
}

func kindName(constant bool) string {
	if constant {
		return "constant"
	}
	return "storage"
}
