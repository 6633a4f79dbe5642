// Package backend defines the device capability interface the compute engine
// dispatches through, and a registry of device factories.
//
// # Backend Registration
//
// Backend packages register a factory from init() and are selected at
// runtime:
//
//	import (
//		_ "github.com/gogpu/compute/backend/software"
//		_ "github.com/gogpu/compute/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use Default() to open the best available device, or Open() to request a
// specific backend by name:
//
//	dev, err := backend.Default()
//
//	// Or request a specific backend
//	dev, err := backend.Open("software")
//
// # Disciplines
//
// A device either executes every recorded operation on issue (Immediate)
// or appends operations to an open batch that completes on SubmitAndWait
// (Deferred). The engine drives both through the same calls.
//
// # Available Backends
//
//   - "wgpu": gogpu/wgpu HAL devices (Vulkan, Metal, DX12, GLES, software adapter), deferred
//   - "software": SPIR-V interpreter over Go byte slices, immediate
package backend
