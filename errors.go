package compute

import (
	"errors"
	"fmt"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/bytecode"
)

// Failure categories shared with the backend and bytecode packages.
// Errors returned by the engine wrap one of these; use errors.Is to test.
var (
	ErrAllocationFailed   = backend.ErrAllocationFailed
	ErrCompilationFailed  = backend.ErrCompilationFailed
	ErrViewCreationFailed = backend.ErrViewCreationFailed
	ErrSubmissionFailed   = backend.ErrSubmissionFailed

	ErrMalformedBytecode       = bytecode.ErrMalformed
	ErrUnsupportedResourceKind = bytecode.ErrUnsupportedResourceKind
	ErrUnsupportedResourceSet  = bytecode.ErrUnsupportedResourceSet
	ErrTooManyResources        = bytecode.ErrTooManyResources
)

// Engine errors.
var (
	// ErrInvalidPartialConstantUpdate is returned when a write to a constant
	// buffer does not cover the whole buffer.
	ErrInvalidPartialConstantUpdate = errors.New("compute: constant buffers must be written whole")

	// ErrGroupSizeMismatch is returned when a dispatch requests a group size
	// other than the one fixed by the kernel.
	ErrGroupSizeMismatch = errors.New("compute: group size does not match kernel")

	// ErrUnboundResource is returned when a dispatch finds a declared slot
	// with no buffer bound.
	ErrUnboundResource = errors.New("compute: resource slot not bound")

	// ErrBufferKindMismatch is returned when a buffer kind or usage does not
	// fit the slot it is bound to.
	ErrBufferKindMismatch = errors.New("compute: buffer kind does not match usage")

	ErrOutOfRange       = errors.New("compute: range outside buffer")
	ErrInvalidBuffer    = errors.New("compute: invalid buffer")
	ErrNoKernel         = errors.New("compute: no kernel set")
	ErrNilKernel        = errors.New("compute: nil kernel")
	ErrInvalidGroupSize = errors.New("compute: group size must be non-zero")
	ErrEngineClosed     = errors.New("compute: engine closed")
)

// wrapAs adds context to a device error and makes sure it carries
// category, since third-party devices may not wrap the backend sentinels.
func wrapAs(category error, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, category) {
		return fmt.Errorf("compute: %s: %w", msg, err)
	}
	return fmt.Errorf("compute: %s: %w: %w", msg, category, err)
}
