package wgpu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

const doubleWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;
@compute @workgroup_size(4)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    data[i] = data[i] * 2u;
}
`

// openSoftware opens the device on the CPU adapter so tests run anywhere.
func openSoftware(t *testing.T) *Device {
	t.Helper()
	d, err := Open(WithVariant(gputypes.BackendEmpty), WithLabel("test"))
	if err != nil {
		t.Skipf("software adapter unavailable: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func compileWords(t *testing.T, src string) []uint32 {
	t.Helper()
	blob, err := naga.Compile(src)
	if err != nil {
		t.Fatalf("naga.Compile() error = %v", err)
	}
	words := make([]uint32, len(blob)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(blob[i*4:])
	}
	return words
}

func putWords(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func write(t *testing.T, d *Device, buf backend.Buffer, offset uint64, data []byte) {
	t.Helper()
	dst, err := d.MapForWrite(buf, offset, uint64(len(data)))
	if err != nil {
		t.Fatalf("MapForWrite() error = %v", err)
	}
	copy(dst, data)
	if err := d.Unmap(buf); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
}

func read(t *testing.T, d *Device, buf backend.Buffer, offset, size uint64) []byte {
	t.Helper()
	src, err := d.MapForRead(buf, offset, size)
	if err != nil {
		t.Fatalf("MapForRead() error = %v", err)
	}
	out := append([]byte(nil), src...)
	if err := d.Unmap(buf); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	return out
}

func TestOpenSoftwareAdapter(t *testing.T) {
	d := openSoftware(t)

	if d.Name() != backend.NameWGPU {
		t.Errorf("Name() = %q, want %q", d.Name(), backend.NameWGPU)
	}
	if d.Discipline() != backend.Deferred {
		t.Errorf("Discipline() = %v, want %v", d.Discipline(), backend.Deferred)
	}
	if d.Variant() != gputypes.BackendEmpty {
		t.Errorf("Variant() = %v, want %v", d.Variant(), gputypes.BackendEmpty)
	}
	if got := d.AdapterInfo().Type; got != gpucontext.AdapterTypeSoftware {
		t.Errorf("AdapterInfo().Type = %v, want %v", got, gpucontext.AdapterTypeSoftware)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	d := openSoftware(t)

	buf, err := d.AllocateBuffer(&backend.BufferDesc{Label: "rt", Size: 10})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	defer d.DestroyBuffer(buf)

	if buf.Size() != 10 {
		t.Errorf("Size() = %d, want 10", buf.Size())
	}

	write(t, d, buf, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	write(t, d, buf, 3, []byte{0xAA, 0xBB})

	got := read(t, d, buf, 1, 6)
	want := []byte{2, 3, 0xAA, 0xBB, 6, 7}
	if string(got) != string(want) {
		t.Errorf("read = %v, want %v", got, want)
	}
}

func TestMapErrors(t *testing.T) {
	d := openSoftware(t)

	buf, err := d.AllocateBuffer(&backend.BufferDesc{Size: 16})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	defer d.DestroyBuffer(buf)

	if _, err := d.MapForWrite(buf, 12, 8); !errors.Is(err, backend.ErrMapFailed) {
		t.Errorf("MapForWrite(out of range) error = %v, want %v", err, backend.ErrMapFailed)
	}
	if _, err := d.MapForWrite(buf, 0, 4); err != nil {
		t.Fatalf("MapForWrite() error = %v", err)
	}
	if _, err := d.MapForRead(buf, 0, 4); !errors.Is(err, backend.ErrMapFailed) {
		t.Errorf("MapForRead(while mapped) error = %v, want %v", err, backend.ErrMapFailed)
	}
	if err := d.Unmap(buf); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}

	if err := d.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch() error = %v", err)
	}
	if _, err := d.MapForWrite(buf, 1, 4); !errors.Is(err, backend.ErrMapFailed) {
		t.Errorf("MapForWrite(unaligned, batch open) error = %v, want %v", err, backend.ErrMapFailed)
	}
	if err := d.SubmitAndWait(); err != nil {
		t.Fatalf("SubmitAndWait() error = %v", err)
	}
}

func TestAllocateEmptyBuffer(t *testing.T) {
	d := openSoftware(t)

	if _, err := d.AllocateBuffer(&backend.BufferDesc{}); !errors.Is(err, backend.ErrAllocationFailed) {
		t.Errorf("AllocateBuffer(0) error = %v, want %v", err, backend.ErrAllocationFailed)
	}
}

func TestBindingViewKind(t *testing.T) {
	d := openSoftware(t)

	storage, _ := d.AllocateBuffer(&backend.BufferDesc{Size: 16})
	constant, _ := d.AllocateBuffer(&backend.BufferDesc{Size: 16, Constant: true})
	defer d.DestroyBuffer(storage)
	defer d.DestroyBuffer(constant)

	tests := []struct {
		name    string
		buf     backend.Buffer
		access  backend.Access
		wantErr bool
	}{
		{"storage read", storage, backend.AccessRead, false},
		{"storage read-write", storage, backend.AccessReadWrite, false},
		{"storage as constant", storage, backend.AccessConstant, true},
		{"constant", constant, backend.AccessConstant, false},
		{"constant as storage", constant, backend.AccessReadWrite, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateBindingView(tt.buf, tt.access)
			if (err != nil) != tt.wantErr {
				t.Errorf("CreateBindingView() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, backend.ErrViewCreationFailed) {
				t.Errorf("CreateBindingView() error = %v, want %v", err, backend.ErrViewCreationFailed)
			}
		})
	}
}

func TestDispatchInBatch(t *testing.T) {
	d := openSoftware(t)

	k, err := d.CompileKernel(&backend.KernelDesc{
		Label:      "double",
		SPIRV:      compileWords(t, doubleWGSL),
		EntryPoint: "main",
		Layout: &backend.Layout{
			Resources: []backend.ResourceBinding{{Slot: 0, Kind: backend.ReadWriteBuffer}},
			GroupSize: [3]uint32{4, 1, 1},
		},
	})
	if err != nil {
		t.Fatalf("CompileKernel() error = %v", err)
	}
	defer d.DestroyKernel(k)

	buf, err := d.AllocateBuffer(&backend.BufferDesc{Label: "data", Size: 32})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	defer d.DestroyBuffer(buf)
	v, err := d.CreateBindingView(buf, backend.AccessReadWrite)
	if err != nil {
		t.Fatalf("CreateBindingView() error = %v", err)
	}
	defer d.DestroyView(v)

	if err := d.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch() error = %v", err)
	}
	write(t, d, buf, 0, putWords(1, 2, 3, 4, 5, 6, 7, 8))
	d.RecordBarrier([]backend.Buffer{buf})
	bound := []backend.BoundView{{Slot: 0, Access: backend.AccessReadWrite, Buffer: buf, View: v}}
	if err := d.RecordDispatch(k, bound, 2, 1, 1); err != nil {
		t.Fatalf("RecordDispatch() error = %v", err)
	}
	d.RecordBarrier([]backend.Buffer{buf})
	if err := d.RecordDispatch(k, bound, 2, 1, 1); err != nil {
		t.Fatalf("RecordDispatch() error = %v", err)
	}
	d.Synchronize(buf)
	if err := d.SubmitAndWait(); err != nil {
		t.Fatalf("SubmitAndWait() error = %v", err)
	}
	if d.Batches() != 1 {
		t.Errorf("Batches() = %d, want 1", d.Batches())
	}

	got := read(t, d, buf, 0, 32)
	for i := 0; i < 8; i++ {
		want := uint32(i+1) * 4
		if v := binary.LittleEndian.Uint32(got[i*4:]); v != want {
			t.Errorf("data[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestDispatchOutsideBatch(t *testing.T) {
	d := openSoftware(t)

	if err := d.RecordDispatch(nil, nil, 1, 1, 1); !errors.Is(err, backend.ErrSubmissionFailed) {
		t.Errorf("RecordDispatch() error = %v, want %v", err, backend.ErrSubmissionFailed)
	}
	if err := d.SubmitAndWait(); err != nil {
		t.Errorf("SubmitAndWait(no batch) error = %v, want nil", err)
	}
}

func TestCompileKernelIncomplete(t *testing.T) {
	d := openSoftware(t)

	if _, err := d.CompileKernel(&backend.KernelDesc{EntryPoint: "main"}); !errors.Is(err, backend.ErrCompilationFailed) {
		t.Errorf("CompileKernel() error = %v, want %v", err, backend.ErrCompilationFailed)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d, err := Open(WithVariant(gputypes.BackendEmpty))
	if err != nil {
		t.Skipf("software adapter unavailable: %v", err)
	}
	if err := d.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := d.AllocateBuffer(&backend.BufferDesc{Size: 4}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("AllocateBuffer() after Close error = %v, want %v", err, backend.ErrClosed)
	}
}

type fakeProvider struct {
	dev   any
	queue any
}

func (p fakeProvider) HalDevice() any { return p.dev }
func (p fakeProvider) HalQueue() any  { return p.queue }

func TestSharedDevice(t *testing.T) {
	host := openSoftware(t)

	shared, err := Open(WithDeviceProvider(fakeProvider{dev: host.device, queue: host.queue}))
	if err != nil {
		t.Fatalf("Open(shared) error = %v", err)
	}
	buf, err := shared.AllocateBuffer(&backend.BufferDesc{Size: 8})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	shared.DestroyBuffer(buf)
	if err := shared.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The host device must survive the shared device closing.
	if _, err := host.AllocateBuffer(&backend.BufferDesc{Size: 8}); err != nil {
		t.Errorf("host AllocateBuffer() after shared Close error = %v", err)
	}

	if _, err := Open(WithDeviceProvider(fakeProvider{dev: 1, queue: 2})); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("Open(bad provider) error = %v, want %v", err, ErrInvalidProvider)
	}
	if _, err := Open(WithDeviceProvider("nope")); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("Open(non-provider) error = %v, want %v", err, ErrInvalidProvider)
	}
}

func TestSelectAdapter(t *testing.T) {
	adapters := []hal.ExposedAdapter{
		{Info: gputypes.AdapterInfo{Name: "cpu", DeviceType: gputypes.DeviceTypeCPU}},
		{Info: gputypes.AdapterInfo{Name: "igpu", DeviceType: gputypes.DeviceTypeIntegratedGPU}},
		{Info: gputypes.AdapterInfo{Name: "dgpu", DeviceType: gputypes.DeviceTypeDiscreteGPU}},
	}

	tests := []struct {
		name   string
		prefer []gputypes.DeviceType
		want   string
	}{
		{"discrete first", []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU}, "dgpu"},
		{"integrated first", []gputypes.DeviceType{gputypes.DeviceTypeIntegratedGPU}, "igpu"},
		{"no match", []gputypes.DeviceType{gputypes.DeviceTypeVirtualGPU}, "cpu"},
		{"no preference", nil, "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectAdapter(adapters, tt.prefer).Info.Name; got != tt.want {
				t.Errorf("selectAdapter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAdapterTypeMapping(t *testing.T) {
	for _, dt := range []gputypes.DeviceType{
		gputypes.DeviceTypeDiscreteGPU,
		gputypes.DeviceTypeIntegratedGPU,
		gputypes.DeviceTypeCPU,
	} {
		if got := deviceTypeOf(adapterTypeOf(dt)); got != dt {
			t.Errorf("deviceTypeOf(adapterTypeOf(%v)) = %v", dt, got)
		}
	}
	if got := adapterTypeOf(gputypes.DeviceTypeVirtualGPU); got != gpucontext.AdapterTypeUnknown {
		t.Errorf("adapterTypeOf(virtual) = %v, want unknown", got)
	}
}
