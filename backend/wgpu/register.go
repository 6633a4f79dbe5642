package wgpu

import (
	"github.com/gogpu/compute/backend"

	// Register every HAL backend available on this platform.
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

func init() {
	backend.Register(backend.NameWGPU, func() (backend.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
