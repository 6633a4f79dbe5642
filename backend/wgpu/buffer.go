package wgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// copyAlign is the offset and size alignment of buffer-to-buffer copies.
const copyAlign = 4

// buffer is a HAL buffer plus its pending CPU mapping, if any.
type buffer struct {
	raw       hal.Buffer
	size      uint64 // requested size
	allocSize uint64 // size rounded to copyAlign
	constant  bool
	label     string

	mapping *mapping
}

// Size returns the requested size in bytes.
func (b *buffer) Size() uint64 { return b.size }

// mapping is an in-flight MapForWrite or MapForRead window.
type mapping struct {
	write   bool
	offset  uint64
	data    []byte
	staging hal.Buffer // nil for host-side write windows
}

// view is a binding view: the resource entry a bind group needs.
type view struct {
	buf     *buffer
	access  backend.Access
	binding gputypes.BufferBinding
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

func (d *Device) usable() error {
	if d.closed || d.device == nil {
		return backend.ErrClosed
	}
	return nil
}

// AllocateBuffer creates a storage or uniform buffer. Every buffer can be a
// copy source and destination so uploads and readbacks go through staging.
func (d *Device) AllocateBuffer(desc *backend.BufferDesc) (backend.Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("%w: empty buffer", backend.ErrAllocationFailed)
	}

	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if desc.Constant {
		usage |= gputypes.BufferUsageUniform
	} else {
		usage |= gputypes.BufferUsageStorage
	}

	allocSize := alignUp(desc.Size, copyAlign)
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.label(desc.Label),
		Size:  allocSize,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrAllocationFailed, err)
	}
	return &buffer{
		raw:       raw,
		size:      desc.Size,
		allocSize: allocSize,
		constant:  desc.Constant,
		label:     desc.Label,
	}, nil
}

// DestroyBuffer releases the HAL buffer and any staging buffer of an
// abandoned mapping.
func (d *Device) DestroyBuffer(buf backend.Buffer) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || d.device == nil {
		return
	}
	if b.mapping != nil && b.mapping.staging != nil {
		d.device.DestroyBuffer(b.mapping.staging)
	}
	b.mapping = nil
	if b.raw != nil {
		d.device.DestroyBuffer(b.raw)
		b.raw = nil
	}
}

// CreateBindingView builds the bind group resource for buf.
func (d *Device) CreateBindingView(buf backend.Buffer, access backend.Access) (backend.View, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.raw == nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrViewCreationFailed, ErrForeignResource)
	}
	if (access == backend.AccessConstant) != b.constant {
		return nil, fmt.Errorf("%w: %s view on %s buffer",
			backend.ErrViewCreationFailed, access, kindName(b.constant))
	}
	return &view{
		buf:    b,
		access: access,
		binding: gputypes.BufferBinding{
			Buffer: b.raw.NativeHandle(),
			Offset: 0,
			Size:   b.allocSize,
		},
	}, nil
}

// DestroyView is a no-op: views own no HAL objects.
func (d *Device) DestroyView(backend.View) {}

// MapForWrite returns a window whose bytes reach the buffer on Unmap.
//
// With an open batch the window is a MapWrite staging buffer and Unmap
// records the copy into the batch, keeping the upload ordered relative to
// recorded dispatches. The range must then be copyAlign-aligned. Without an
// open batch the window is host memory written through the queue on Unmap.
func (d *Device) MapForWrite(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	b, err := d.mappable(buf, offset, size)
	if err != nil {
		return nil, err
	}

	if d.enc == nil {
		b.mapping = &mapping{write: true, offset: offset, data: make([]byte, size)}
		return b.mapping.data, nil
	}

	if offset%copyAlign != 0 || size%copyAlign != 0 {
		return nil, fmt.Errorf("%w: unaligned upload [%d,%d) inside an open batch",
			backend.ErrMapFailed, offset, offset+size)
	}
	staging, data, err := d.createStaging(b.label+"_upload", size,
		gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, err
	}
	b.mapping = &mapping{write: true, offset: offset, data: data, staging: staging}
	return data, nil
}

// MapForRead copies [offset, offset+size) into a MapRead staging buffer
// with a one-shot submission and returns the mapped bytes. It does not
// touch the open batch: callers settle a batch that writes buf first.
func (d *Device) MapForRead(buf backend.Buffer, offset, size uint64) ([]byte, error) {
	b, err := d.mappable(buf, offset, size)
	if err != nil {
		return nil, err
	}

	start := offset &^ (copyAlign - 1)
	end := alignUp(offset+size, copyAlign)
	if end > b.allocSize {
		end = b.allocSize
	}
	staging, err := d.newStaging(b.label+"_readback", end-start,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	if err := d.submitOneShot(b.label+"_readback", func(enc hal.CommandEncoder) {
		enc.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: b.raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: bindUsage(b.constant),
				NewUsage: gputypes.BufferUsageCopySrc,
			},
		}})
		enc.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{{
			SrcOffset: start,
			DstOffset: 0,
			Size:      end - start,
		}})
	}); err != nil {
		d.device.DestroyBuffer(staging)
		return nil, err
	}

	m, err := d.device.MapBuffer(staging, 0, end-start)
	if err != nil {
		d.device.DestroyBuffer(staging)
		return nil, fmt.Errorf("%w: %w", backend.ErrMapFailed, err)
	}
	mapped := unsafe.Slice((*byte)(m.Ptr), end-start)
	lo := offset - start
	b.mapping = &mapping{offset: offset, data: mapped[lo : lo+size], staging: staging}
	return b.mapping.data, nil
}

// Unmap completes the pending mapping of buf.
func (d *Device) Unmap(buf backend.Buffer) error {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		return ErrForeignResource
	}
	m := b.mapping
	if m == nil {
		return nil
	}
	b.mapping = nil

	switch {
	case !m.write:
		err := d.device.UnmapBuffer(m.staging)
		d.device.DestroyBuffer(m.staging)
		if err != nil {
			return fmt.Errorf("%w: %w", backend.ErrMapFailed, err)
		}
		return nil

	case m.staging == nil:
		if err := d.queue.WriteBuffer(b.raw, m.offset, m.data); err != nil {
			return fmt.Errorf("%w: %w", backend.ErrMapFailed, err)
		}
		return nil

	default:
		if err := d.device.UnmapBuffer(m.staging); err != nil {
			d.device.DestroyBuffer(m.staging)
			return fmt.Errorf("%w: %w", backend.ErrMapFailed, err)
		}
		if d.enc == nil {
			d.device.DestroyBuffer(m.staging)
			return fmt.Errorf("%w: batch closed while %q was mapped", backend.ErrMapFailed, b.label)
		}
		d.enc.CopyBufferToBuffer(m.staging, b.raw, []hal.BufferCopy{{
			SrcOffset: 0,
			DstOffset: m.offset,
			Size:      uint64(len(m.data)),
		}})
		staging := m.staging
		d.transient = append(d.transient, func() { d.device.DestroyBuffer(staging) })
		return nil
	}
}

func (d *Device) mappable(buf backend.Buffer, offset, size uint64) (*buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.raw == nil {
		return nil, ErrForeignResource
	}
	if b.mapping != nil {
		return nil, fmt.Errorf("%w: %q is already mapped", backend.ErrMapFailed, b.label)
	}
	if offset+size > b.size || size == 0 {
		return nil, fmt.Errorf("%w: range [%d,%d) of %d-byte buffer",
			backend.ErrMapFailed, offset, offset+size, b.size)
	}
	return b, nil
}

func (d *Device) newStaging(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.label(label),
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: staging: %w", backend.ErrMapFailed, err)
	}
	return staging, nil
}

// createStaging allocates a host-visible buffer and maps it.
func (d *Device) createStaging(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, []byte, error) {
	staging, err := d.newStaging(label, size, usage)
	if err != nil {
		return nil, nil, err
	}
	m, err := d.device.MapBuffer(staging, 0, size)
	if err != nil {
		d.device.DestroyBuffer(staging)
		return nil, nil, fmt.Errorf("%w: %w", backend.ErrMapFailed, err)
	}
	return staging, unsafe.Slice((*byte)(m.Ptr), size), nil
}

func (d *Device) label(name string) string {
	if name == "" {
		return d.opts.label
	}
	return d.opts.label + "_" + name
}

// bindUsage is the usage a buffer is in while bound to a kernel.
func bindUsage(constant bool) gputypes.BufferUsage {
	if constant {
		return gputypes.BufferUsageUniform
	}
	return gputypes.BufferUsageStorage
}

func kindName(constant bool) string {
	if constant {
		return "constant"
	}
	return "storage"
}
