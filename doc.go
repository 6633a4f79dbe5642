// Package compute runs GPU compute kernels over data buffers on any
// registered backend.
//
// # Overview
//
// An Engine wraps one backend device. Buffers and kernels are created
// through the engine, a kernel is made active with SetKernel, buffers are
// bound to its slots with SetBuffer and Dispatch launches it. The kernel's
// resource layout is read from its SPIR-V (or from the WGSL compiler) when
// the kernel is created, and every Dispatch is checked against it.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/compute"
//	    _ "github.com/gogpu/compute/backend/software"
//	)
//
//	e, err := compute.NewEngine()
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	k, err := e.CreateKernel(compute.KernelSource{WGSL: src}, "main", 0)
//	in, _ := e.CreateBuffer(4096, compute.BufferStructured, 4)
//	out, _ := e.CreateBuffer(256, compute.BufferStructured, 4)
//	_ = e.Write(in, data, 0)
//
//	_ = e.SetKernel(k)
//	_ = e.SetBuffer(in, 0, compute.UsageInput)
//	_ = e.SetBuffer(out, 1, compute.UsageOutput)
//	_ = e.Dispatch(1024, 1, 1, 16, 1, 1)
//
//	result := make([]byte, 256)
//	_ = e.Read(out, result, 0)
//
// # Backends
//
// Backends register themselves when their package is imported:
//
//   - backend/wgpu: a deferred device on the gogpu/wgpu HAL (Vulkan, Metal,
//     DX12, GLES or the HAL software adapter)
//   - backend/software: an immediate device that interprets SPIR-V on the CPU
//
// With no WithBackend or WithDevice option, NewEngine picks the best
// registered backend.
//
// # Execution
//
// Immediate devices run each dispatch as it is issued. Deferred devices
// record dispatches, uploads and barriers into a batch; Finish submits the
// batch and waits. Binding a buffer as UsageOutput marks it dirty, and
// reading a dirty buffer settles the batch that writes it, so results are
// always observed in order.
//
// # Errors
//
// Every failure is a returned error wrapping one of the package's sentinel
// errors; test with errors.Is.
package compute
