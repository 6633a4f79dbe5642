package backend

import (
	"errors"
	"fmt"
)

// Common backend errors. Backends wrap these so callers can classify
// failures with errors.Is regardless of which device produced them.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrAllocationFailed is returned when a buffer cannot be allocated.
	ErrAllocationFailed = errors.New("backend: allocation failed")

	// ErrCompilationFailed is returned when a kernel cannot be compiled or loaded.
	ErrCompilationFailed = errors.New("backend: kernel compilation failed")

	// ErrViewCreationFailed is returned when a binding view cannot be created.
	ErrViewCreationFailed = errors.New("backend: binding view creation failed")

	// ErrSubmissionFailed is returned when a recorded batch cannot be
	// submitted or its completion cannot be observed. None of the batch's
	// operations should be assumed to have happened.
	ErrSubmissionFailed = errors.New("backend: submission failed")

	// ErrMapFailed is returned when a buffer range cannot be made CPU visible.
	ErrMapFailed = errors.New("backend: buffer map failed")

	// ErrClosed is returned when a device is used after Close.
	ErrClosed = errors.New("backend: device closed")
)

// MaxSlots is the number of binding slots a kernel may declare.
const MaxSlots = 32

// Discipline describes when recorded work executes.
type Discipline uint8

const (
	// Immediate devices execute every recorded operation on issue.
	// SubmitAndWait is a no-op.
	Immediate Discipline = iota

	// Deferred devices append operations to an open batch that only
	// completes after SubmitAndWait.
	Deferred
)

// String returns the discipline name.
func (d Discipline) String() string {
	switch d {
	case Immediate:
		return "Immediate"
	case Deferred:
		return "Deferred"
	default:
		return fmt.Sprintf("Discipline(%d)", d)
	}
}

// ResourceKind classifies a kernel resource slot.
type ResourceKind uint8

const (
	// UniformBlock is a small read-only constant block.
	UniformBlock ResourceKind = iota
	// ReadOnlyBuffer is a structured buffer the kernel only reads.
	ReadOnlyBuffer
	// ReadWriteBuffer is a structured buffer the kernel may write.
	ReadWriteBuffer
)

// String returns the resource kind name.
func (k ResourceKind) String() string {
	switch k {
	case UniformBlock:
		return "UniformBlock"
	case ReadOnlyBuffer:
		return "ReadOnlyBuffer"
	case ReadWriteBuffer:
		return "ReadWriteBuffer"
	default:
		return fmt.Sprintf("ResourceKind(%d)", k)
	}
}

// ResourceBinding is one declared slot of a kernel.
type ResourceBinding struct {
	Slot uint32
	Kind ResourceKind
}

// Layout is the resource layout of a kernel: its declared slots ordered by
// slot number and, when the kernel fixes one, its thread-group size.
type Layout struct {
	Resources []ResourceBinding

	// GroupSize is valid only when HasGroupSize is true.
	GroupSize    [3]uint32
	HasGroupSize bool
}

// Lookup returns the resource declared at slot.
func (l *Layout) Lookup(slot uint32) (ResourceBinding, bool) {
	for _, r := range l.Resources {
		if r.Slot == slot {
			return r, true
		}
	}
	return ResourceBinding{}, false
}

// Access selects which binding view of a buffer is requested.
type Access uint8

const (
	// AccessConstant is a uniform view over a constant buffer.
	AccessConstant Access = iota
	// AccessRead is a read-only storage view.
	AccessRead
	// AccessReadWrite is a writable storage view.
	AccessReadWrite
)

// String returns the access name.
func (a Access) String() string {
	switch a {
	case AccessConstant:
		return "Constant"
	case AccessRead:
		return "Read"
	case AccessReadWrite:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Access(%d)", a)
	}
}

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	Label string
	Size  uint64

	// Constant buffers back uniform blocks; all others are storage buffers.
	Constant bool

	// CPUVisible requests host-visible memory when the device can provide it.
	CPUVisible bool
}

// KernelFlags are compile options forwarded to the device.
type KernelFlags uint8

const (
	FlagDisableOptimizations KernelFlags = 1 << iota
	FlagGenerateDebugInfo
	FlagEnableFastMath
)

// KernelDesc describes a kernel to build from SPIR-V.
type KernelDesc struct {
	Label      string
	SPIRV      []uint32
	EntryPoint string
	Flags      KernelFlags
	Layout     *Layout
}

// Buffer is a device-owned block of memory.
type Buffer interface {
	Size() uint64
}

// Kernel is a device-native compute pipeline.
type Kernel any

// View is a device binding view of a buffer.
type View any

// BoundView pairs a binding slot with the view bound to it.
type BoundView struct {
	Slot   uint32
	Access Access
	Buffer Buffer
	View   View
}

// Device is the capability set the engine needs from a compute backend.
//
// Devices are not safe for concurrent use; the engine serializes calls.
type Device interface {
	// Name returns the backend identifier.
	Name() string

	// Discipline reports whether recorded work runs on issue or on submit.
	Discipline() Discipline

	AllocateBuffer(desc *BufferDesc) (Buffer, error)
	DestroyBuffer(buf Buffer)

	// CompileKernel builds a native kernel. desc.Layout is always set.
	CompileKernel(desc *KernelDesc) (Kernel, error)
	DestroyKernel(k Kernel)

	CreateBindingView(buf Buffer, access Access) (View, error)
	DestroyView(v View)

	// MapForWrite returns a writable window over [offset, offset+size).
	// The bytes reach the buffer on Unmap; on deferred devices with an
	// open batch the upload is ordered within the batch.
	MapForWrite(buf Buffer, offset, size uint64) ([]byte, error)

	// MapForRead returns the current contents of [offset, offset+size).
	// The slice is valid until Unmap.
	MapForRead(buf Buffer, offset, size uint64) ([]byte, error)

	Unmap(buf Buffer) error

	// BeginBatch opens a batch. Deferred devices require one before any
	// Record call; immediate devices treat it as a no-op.
	BeginBatch() error

	// RecordBarrier orders previously recorded writes to bufs before
	// subsequent reads.
	RecordBarrier(bufs []Buffer)

	RecordDispatch(k Kernel, bindings []BoundView, x, y, z uint32) error

	// Synchronize records whatever the device needs to make GPU writes to
	// buf visible to the CPU after the batch completes.
	Synchronize(buf Buffer)

	// SubmitAndWait closes the open batch, submits it and blocks until it
	// completes. With no open batch it returns nil without waiting.
	SubmitAndWait() error

	// Close releases the device. Outstanding work must be finished first.
	Close() error
}

// Reflector is implemented by devices that can recover a kernel layout
// from SPIR-V natively.
type Reflector interface {
	Reflect(spirv []byte, entryPoint string) (*Layout, bool)
}
