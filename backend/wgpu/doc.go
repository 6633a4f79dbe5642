// Package wgpu provides a deferred compute device on top of the gogpu/wgpu
// hardware abstraction layer.
//
// Importing the package registers the "wgpu" backend:
//
//	import _ "github.com/gogpu/compute/backend/wgpu"
//
// The device is opened on the first HAL backend that exposes an adapter,
// trying Vulkan, Metal, DX12, GLES and finally the CPU software adapter.
// Use WithVariant to pin a backend and WithAdapterPreference to choose
// between several adapters:
//
//	dev, err := wgpu.Open(wgpu.WithVariant(gputypes.BackendVulkan))
//
// # Batches
//
// Uploads issued while a batch is open, resource barriers and dispatches
// are recorded into a single command encoder. Each dispatch gets its own
// compute pass and bind group. SubmitAndWait ends the encoder, submits it
// and blocks on queue completion. Readbacks use a separate one-shot
// submission into a MapRead staging buffer.
//
// # Shared Devices
//
// WithDeviceProvider adopts a device and queue owned by a host application.
// The provider must expose HAL objects, either through HalDevice/HalQueue
// or as a gpucontext.DeviceProvider. Close leaves shared devices alone.
package wgpu
