package backend

import (
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Backend name constants.
const (
	// NameWGPU is the deferred backend over gogpu/wgpu HAL devices.
	NameWGPU = "wgpu"
	// NameSoftware is the immediate SPIR-V interpreter backend.
	NameSoftware = "software"
)

// Factory opens a new device.
type Factory func() (Device, error)

// Priority order for backend selection (first available wins).
var registry = gpucontext.NewRegistry[Factory](
	gpucontext.WithPriority(NameWGPU, NameSoftware),
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(name, func() Factory { return factory })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns a list of registered backend names.
func Available() []string {
	return registry.Available()
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Open opens a device from the backend registered under name.
func Open(name string) (Device, error) {
	factory := registry.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return factory()
}

// Default opens a device from the best available backend.
// Priority order: wgpu > software. When the preferred backend fails to open
// (no adapter, no driver) the next one is tried.
func Default() (Device, error) {
	if registry.Count() == 0 {
		return nil, ErrBackendNotAvailable
	}

	var firstErr error
	tried := make(map[string]bool)
	for _, name := range []string{NameWGPU, NameSoftware} {
		tried[name] = true
		if !registry.Has(name) {
			continue
		}
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	// Fallback: any other registered backend.
	for _, name := range registry.Available() {
		if tried[name] {
			continue
		}
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	return nil, firstErr
}
