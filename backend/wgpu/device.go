package wgpu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Package errors.
var (
	// ErrNoAdapter is returned when no HAL backend exposes a usable adapter.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter available")

	// ErrInvalidProvider is returned when a device provider does not expose HAL types.
	ErrInvalidProvider = errors.New("wgpu: provider does not expose HAL device and queue")

	// ErrForeignResource is returned when a resource from another device is passed in.
	ErrForeignResource = errors.New("wgpu: resource does not belong to this device")
)

// Device is a deferred compute device over a gogpu/wgpu HAL device.
//
// Recorded uploads, barriers and dispatches go into one command encoder per
// batch, one compute pass per dispatch. SubmitAndWait submits the encoder
// and blocks until the queue reports the submission complete.
type Device struct {
	opts options

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	info     gputypes.AdapterInfo
	variant  gputypes.Backend

	// Open batch, nil when no batch is recording.
	enc       hal.CommandEncoder
	transient []func()
	batches   uint64

	externalDevice bool // true when using a shared device (don't destroy on Close)
	closed         bool

	log *slog.Logger // nil means the package logger
}

var (
	_ backend.Device = (*Device)(nil)
)

// Open opens a HAL device. Without options it tries Vulkan, Metal, DX12,
// GLES and finally the software adapter, preferring discrete and integrated
// GPUs.
func Open(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{opts: o}
	if o.provider != nil {
		if err := d.useProvider(o.provider); err != nil {
			return nil, err
		}
		return d, nil
	}

	var lastErr error
	for _, variant := range o.variants {
		err := d.openVariant(variant)
		if err == nil {
			d.logger().Info("wgpu: compute device opened",
				"backend", variant.String(),
				"adapter", d.info.Name,
				"type", d.info.DeviceType.String())
			return d, nil
		}
		d.logger().Debug("wgpu: backend unavailable", "backend", variant.String(), "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoAdapter
	}
	return nil, fmt.Errorf("%w: %w", backend.ErrBackendNotAvailable, lastErr)
}

func (d *Device) openVariant(variant gputypes.Backend) error {
	hb, ok := hal.GetBackend(variant)
	if !ok {
		return fmt.Errorf("%s backend not registered", variant)
	}
	instance, err := hb.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return ErrNoAdapter
	}
	selected := selectAdapter(adapters, d.opts.prefer)
	openDev, err := selected.Adapter.Open(gputypes.Features(0), d.opts.limits)
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("open device: %w", err)
	}
	d.instance = instance
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.info = selected.Info
	d.variant = variant
	return nil
}

// selectAdapter returns the first adapter whose type appears earliest in
// prefer, or the first adapter when none match.
func selectAdapter(adapters []hal.ExposedAdapter, prefer []gputypes.DeviceType) *hal.ExposedAdapter {
	for _, want := range prefer {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// useProvider adopts a host-owned device and queue.
func (d *Device) useProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}

	var devAny, queueAny any
	switch p := provider.(type) {
	case halProvider:
		devAny, queueAny = p.HalDevice(), p.HalQueue()
	case gpucontext.DeviceProvider:
		devAny, queueAny = p.Device(), p.Queue()
		info := p.AdapterInfo()
		d.info = gputypes.AdapterInfo{Name: info.Name, DeviceType: deviceTypeOf(info.Type)}
	default:
		return ErrInvalidProvider
	}

	device, ok := devAny.(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: device is %T", ErrInvalidProvider, devAny)
	}
	queue, ok := queueAny.(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("%w: queue is %T", ErrInvalidProvider, queueAny)
	}

	d.device = device
	d.queue = queue
	d.externalDevice = true
	d.logger().Info("wgpu: switched to shared GPU device")
	return nil
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.NameWGPU }

// Discipline reports Deferred: work completes on SubmitAndWait.
func (d *Device) Discipline() backend.Discipline { return backend.Deferred }

// Variant returns the HAL backend the device was opened on.
// Shared devices report gputypes.BackendEmpty.
func (d *Device) Variant() gputypes.Backend { return d.variant }

// AdapterInfo describes the adapter in gpucontext terms.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{
		Name: d.info.Name,
		Type: adapterTypeOf(d.info.DeviceType),
	}
}

// Batches returns how many batches have been submitted.
func (d *Device) Batches() uint64 { return d.batches }

// Close discards any open batch and releases the device. A shared device is
// left to its owner.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.enc != nil {
		d.logger().Warn("wgpu: closing device with an open batch; recorded work discarded")
		d.enc.DiscardEncoding()
		d.enc.Destroy()
		d.enc = nil
	}
	d.releaseTransient()

	if d.externalDevice {
		d.device = nil
		d.queue = nil
		return nil
	}
	if d.device != nil {
		d.device.Destroy()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
	return nil
}

func adapterTypeOf(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

func deviceTypeOf(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}
