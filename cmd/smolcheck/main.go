// Command smolcheck runs a 16-wide sum kernel on a compute backend and
// checks the result against the CPU.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
	_ "github.com/gogpu/compute/backend/software"
	_ "github.com/gogpu/compute/backend/wgpu"
)

const sumWGSL = `
@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;

@compute @workgroup_size(16)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let b = id.x * 16u;
    output[id.x] = input[b] + input[b + 1u] + input[b + 2u] + input[b + 3u]
        + input[b + 4u] + input[b + 5u] + input[b + 6u] + input[b + 7u]
        + input[b + 8u] + input[b + 9u] + input[b + 10u] + input[b + 11u]
        + input[b + 12u] + input[b + 13u] + input[b + 14u] + input[b + 15u];
}
`

const (
	inputCount = 1024
	groupWidth = 16
)

func main() {
	var (
		name    = flag.String("backend", "", "backend to use (default: best available)")
		verbose = flag.Bool("v", false, "debug logging")
		list    = flag.Bool("list", false, "print registered backends and exit")
	)
	flag.Parse()

	if *list {
		for _, n := range backend.Available() {
			fmt.Println(n)
		}
		return
	}
	if *verbose {
		compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	var opts []compute.EngineOption
	if *name != "" {
		opts = append(opts, compute.WithBackend(*name))
	}
	e, err := compute.NewEngine(opts...)
	if err != nil {
		log.Fatalf("smolcheck: %v", err)
	}

	mismatches, err := run(e)
	stats, mem := e.Stats(), e.MemoryStats()
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("smolcheck: %s: %v", e.Backend(), err)
	}

	fmt.Printf("backend:  %s (%s)\n", e.Backend(), e.Discipline())
	fmt.Printf("engine:   %+v\n", stats)
	fmt.Printf("memory:   %s\n", mem)
	if mismatches > 0 {
		fmt.Printf("FAIL: %d of %d outputs differ\n", mismatches, inputCount/groupWidth)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

// run sums groupWidth consecutive inputs per output and returns how many
// outputs disagree with the CPU.
func run(e *compute.Engine) (int, error) {
	input := make([]byte, inputCount*4)
	for i := 0; i < inputCount; i++ {
		binary.LittleEndian.PutUint32(input[i*4:], uint32(i*17))
	}
	outputs := inputCount / groupWidth

	in, err := e.CreateBuffer(uint64(len(input)), compute.BufferStructured, 4)
	if err != nil {
		return 0, err
	}
	out, err := e.CreateBuffer(uint64(outputs*4), compute.BufferStructured, 4)
	if err != nil {
		return 0, err
	}

	// Written in two parts to exercise offset uploads.
	half := len(input) / 2
	if err := e.Write(in, input[:half], 0); err != nil {
		return 0, err
	}
	if err := e.Write(in, input[half:], uint64(half)); err != nil {
		return 0, err
	}

	k, err := e.CreateKernel(compute.KernelSource{WGSL: sumWGSL}, "main", 0)
	if err != nil {
		return 0, err
	}
	if err := e.SetKernel(k); err != nil {
		return 0, err
	}
	if err := e.SetBuffer(in, 0, compute.UsageInput); err != nil {
		return 0, err
	}
	if err := e.SetBuffer(out, 1, compute.UsageOutput); err != nil {
		return 0, err
	}
	if err := e.Dispatch(inputCount, 1, 1, groupWidth, 1, 1); err != nil {
		return 0, err
	}

	result := make([]byte, outputs*4)
	if err := e.Read(out, result, 0); err != nil {
		return 0, err
	}

	bad := 0
	for i := 0; i < outputs; i++ {
		var want uint32
		for j := 0; j < groupWidth; j++ {
			want += binary.LittleEndian.Uint32(input[(i*groupWidth+j)*4:])
		}
		if got := binary.LittleEndian.Uint32(result[i*4:]); got != want {
			bad++
			compute.Logger().Debug("smolcheck: mismatch", "index", i, "got", got, "want", want)
		}
	}
	return bad, nil
}
