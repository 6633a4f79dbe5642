// Package software provides an immediate compute device that runs kernels
// on the CPU through the gogpu/wgpu SPIR-V interpreter.
//
// Importing the package registers the "software" backend:
//
//	import _ "github.com/gogpu/compute/backend/software"
//
// Buffers are Go byte slices and every operation completes when it is
// issued: a dispatch has finished writing its outputs by the time
// RecordDispatch returns, and batches, barriers and synchronization are
// no-ops. Kernels run one invocation at a time, so the device is meant for
// tests, CI machines without a GPU, and reference results.
package software
