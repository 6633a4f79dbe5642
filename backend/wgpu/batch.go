package wgpu

import (
	"fmt"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BeginBatch opens a command encoder that collects uploads, barriers and
// dispatches until SubmitAndWait. Calling it with a batch open is a no-op.
func (d *Device) BeginBatch() error {
	if err := d.usable(); err != nil {
		return err
	}
	if d.enc != nil {
		return nil
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: d.label("batch"),
	})
	if err != nil {
		return fmt.Errorf("%w: create encoder: %w", backend.ErrSubmissionFailed, err)
	}
	if err := enc.BeginEncoding(d.label("batch")); err != nil {
		enc.Destroy()
		return fmt.Errorf("%w: begin encoding: %w", backend.ErrSubmissionFailed, err)
	}
	d.enc = enc
	return nil
}

// RecordBarrier makes earlier writes to bufs visible to the next dispatch.
func (d *Device) RecordBarrier(bufs []backend.Buffer) {
	if d.enc == nil || len(bufs) == 0 {
		return
	}
	barriers := make([]hal.BufferBarrier, 0, len(bufs))
	for _, bb := range bufs {
		b, ok := bb.(*buffer)
		if !ok || b == nil || b.raw == nil {
			continue
		}
		usage := bindUsage(b.constant)
		barriers = append(barriers, hal.BufferBarrier{
			Buffer: b.raw,
			Usage:  hal.BufferUsageTransition{OldUsage: usage | gputypes.BufferUsageCopyDst, NewUsage: usage},
		})
	}
	if len(barriers) > 0 {
		d.enc.TransitionBuffers(barriers)
	}
}

// RecordDispatch records one compute pass: pipeline, a bind group built from
// bindings, and the group counts. The bind group lives until the batch is
// submitted.
func (d *Device) RecordDispatch(kk backend.Kernel, bindings []backend.BoundView, x, y, z uint32) error {
	if err := d.usable(); err != nil {
		return err
	}
	if d.enc == nil {
		return fmt.Errorf("%w: dispatch outside a batch", backend.ErrSubmissionFailed)
	}
	k, ok := kk.(*kernel)
	if !ok || k == nil || k.pipeline == nil {
		return ErrForeignResource
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(bindings))
	for _, bv := range bindings {
		v, ok := bv.View.(*view)
		if !ok || v == nil {
			return fmt.Errorf("slot %d: %w", bv.Slot, ErrForeignResource)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  bv.Slot,
			Resource: v.binding,
		})
	}

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.label + "_bind_group",
		Layout:  k.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%w: bind group: %w", backend.ErrViewCreationFailed, err)
	}
	d.transient = append(d.transient, func() { d.device.DestroyBindGroup(group) })

	pass := d.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.label})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(x, y, z)
	pass.End()
	return nil
}

// Synchronize records a transition that makes kernel writes to buf visible
// to the copy that reads it back.
func (d *Device) Synchronize(bb backend.Buffer) {
	b, ok := bb.(*buffer)
	if d.enc == nil || !ok || b == nil || b.raw == nil {
		return
	}
	d.enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: b.raw,
		Usage: hal.BufferUsageTransition{
			OldUsage: bindUsage(b.constant),
			NewUsage: gputypes.BufferUsageCopySrc,
		},
	}})
}

// SubmitAndWait closes the open batch, submits it and blocks until the
// queue has completed it. Without an open batch it returns nil. On failure
// the batch is discarded.
func (d *Device) SubmitAndWait() error {
	if d.enc == nil {
		return nil
	}
	enc := d.enc
	d.enc = nil
	defer d.releaseTransient()

	if err := d.submit(enc); err != nil {
		return err
	}
	d.batches++
	return nil
}

// submitOneShot records and submits a standalone command buffer, bypassing
// the open batch.
func (d *Device) submitOneShot(label string, record func(enc hal.CommandEncoder)) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: d.label(label)})
	if err != nil {
		return fmt.Errorf("%w: create encoder: %w", backend.ErrSubmissionFailed, err)
	}
	if err := enc.BeginEncoding(d.label(label)); err != nil {
		enc.Destroy()
		return fmt.Errorf("%w: begin encoding: %w", backend.ErrSubmissionFailed, err)
	}
	record(enc)
	return d.submit(enc)
}

// submit ends enc, submits it and waits for completion. enc is destroyed.
func (d *Device) submit(enc hal.CommandEncoder) error {
	defer enc.Destroy()

	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		return fmt.Errorf("%w: end encoding: %w", backend.ErrSubmissionFailed, err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	idx, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrSubmissionFailed, err)
	}
	return d.waitFor(idx)
}

// waitFor blocks until submission idx is complete.
func (d *Device) waitFor(idx uint64) error {
	if d.queue.PollCompleted() >= idx {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("%w: wait: %w", backend.ErrSubmissionFailed, err)
	}
	if done := d.queue.PollCompleted(); done < idx {
		d.logger().Warn("wgpu: queue idle but submission not reported complete",
			"submission", idx, "completed", done)
	}
	return nil
}

// releaseTransient destroys objects that had to outlive the batch that
// used them.
func (d *Device) releaseTransient() {
	for _, release := range d.transient {
		release()
	}
	d.transient = d.transient[:0]
}
