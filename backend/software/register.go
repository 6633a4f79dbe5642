package software

import "github.com/gogpu/compute/backend"

func init() {
	backend.Register(backend.NameSoftware, func() (backend.Device, error) {
		return New(), nil
	})
}
