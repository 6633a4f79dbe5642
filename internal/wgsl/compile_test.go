package wgsl

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/bytecode"
	"github.com/gogpu/naga/spirv"
)

const sumKernel = `
struct Params {
    count: u32,
}

@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(8, 2, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < params.count) {
        output[id.x] = input[id.x] + 1u;
    }
}
`

func TestCompileReflectsLayout(t *testing.T) {
	out, err := Compile(sumKernel, "main", Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(out.SPIRV) < 5 || out.SPIRV[0] != spirv.MagicNumber {
		t.Fatalf("Compile() produced %d words without SPIR-V magic", len(out.SPIRV))
	}

	want := []backend.ResourceBinding{
		{Slot: 0, Kind: backend.ReadOnlyBuffer},
		{Slot: 1, Kind: backend.ReadWriteBuffer},
		{Slot: 3, Kind: backend.UniformBlock},
	}
	if !slices.Equal(out.Layout.Resources, want) {
		t.Errorf("Resources = %v, want %v", out.Layout.Resources, want)
	}
	if !out.Layout.HasGroupSize || out.Layout.GroupSize != [3]uint32{8, 2, 1} {
		t.Errorf("GroupSize = %v, want [8 2 1]", out.Layout.GroupSize)
	}
}

func TestCompileAgreesWithBytecodeParser(t *testing.T) {
	out, err := Compile(sumKernel, "main", Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	parsed, err := bytecode.ParseWords(out.SPIRV, backend.MaxSlots)
	if err != nil {
		t.Fatalf("ParseWords() error = %v", err)
	}
	if !slices.Equal(parsed.Resources, out.Layout.Resources) {
		t.Errorf("parsed %v, reflected %v", parsed.Resources, out.Layout.Resources)
	}
	if parsed.GroupSize != out.Layout.GroupSize {
		t.Errorf("parsed group size %v, reflected %v", parsed.GroupSize, out.Layout.GroupSize)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		entry string
		opts  Options
		want  error
	}{
		{
			name:  "syntax error",
			src:   `@compute @workgroup_size(1) fn main( {`,
			entry: "main",
			want:  ErrCompile,
		},
		{
			name:  "missing entry point",
			src:   sumKernel,
			entry: "other",
			want:  ErrNoEntryPoint,
		},
		{
			name: "group 1",
			src: `
@group(1) @binding(0) var<storage, read_write> data: array<u32>;
@compute @workgroup_size(1)
fn main() {
    data[0] = 1u;
}
`,
			entry: "main",
			want:  bytecode.ErrUnsupportedResourceSet,
		},
		{
			name: "binding past limit",
			src: `
@group(0) @binding(40) var<storage, read_write> data: array<u32>;
@compute @workgroup_size(1)
fn main() {
    data[0] = 1u;
}
`,
			entry: "main",
			want:  bytecode.ErrTooManyResources,
		},
		{
			name: "custom limit",
			src: `
@group(0) @binding(2) var<storage, read_write> data: array<u32>;
@compute @workgroup_size(1)
fn main() {
    data[0] = 1u;
}
`,
			entry: "main",
			opts:  Options{MaxSlots: 2},
			want:  bytecode.ErrTooManyResources,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compile(tt.src, tt.entry, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("Compile() error = %v, want %v", err, tt.want)
			}
			if out != nil {
				t.Errorf("Compile() output = %v, want nil on error", out)
			}
		})
	}
}
