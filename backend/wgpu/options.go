package wgpu

import "github.com/gogpu/gputypes"

// Option configures Open.
type Option func(*options)

type options struct {
	variants []gputypes.Backend
	prefer   []gputypes.DeviceType
	limits   gputypes.Limits
	provider any
	label    string
}

// defaultVariants is the HAL selection order when no variant is requested.
var defaultVariants = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

func defaultOptions() options {
	return options{
		variants: defaultVariants,
		prefer:   []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU},
		limits:   gputypes.DefaultLimits(),
		label:    "compute",
	}
}

// WithVariant restricts device selection to the given HAL backends, tried in
// order. gputypes.BackendEmpty selects the CPU software adapter.
func WithVariant(variants ...gputypes.Backend) Option {
	return func(o *options) {
		if len(variants) > 0 {
			o.variants = variants
		}
	}
}

// WithAdapterPreference sets which adapter types are preferred when an
// instance exposes several. The first adapter is used when none match.
func WithAdapterPreference(types ...gputypes.DeviceType) Option {
	return func(o *options) {
		o.prefer = types
	}
}

// WithLimits overrides the device limits requested from the adapter.
func WithLimits(limits gputypes.Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithDeviceProvider makes the device share a HAL device and queue owned by
// a host application instead of opening its own. The provider must either
// implement HalDevice() any and HalQueue() any, or be a
// gpucontext.DeviceProvider whose Device and Queue are HAL types.
// Shared devices are never destroyed by Close.
func WithDeviceProvider(provider any) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLabel sets the debug label prefix used for GPU objects.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}
