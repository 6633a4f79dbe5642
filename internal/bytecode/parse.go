// Package bytecode recovers the resource layout of a SPIR-V compute module:
// which binding slots it declares, what kind of buffer each slot holds, and
// the thread-group size of its compute entry point.
package bytecode

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/naga/spirv"
)

// Parse errors.
var (
	// ErrMalformed is returned for blobs that are not well-formed SPIR-V.
	ErrMalformed = errors.New("bytecode: malformed SPIR-V")

	// ErrUnsupportedResourceKind is returned for resources that are not
	// buffers (images, samplers, plain uniforms).
	ErrUnsupportedResourceKind = errors.New("bytecode: unsupported resource kind")

	// ErrUnsupportedResourceSet is returned for resources outside descriptor set 0.
	ErrUnsupportedResourceSet = errors.New("bytecode: unsupported descriptor set")

	// ErrTooManyResources is returned for binding slots at or above the limit.
	ErrTooManyResources = errors.New("bytecode: binding slot out of range")
)

// Opcodes and decorations the naga spirv package does not export.
const (
	opTypeImage           spirv.OpCode     = 25
	opTypeSampler         spirv.OpCode     = 26
	opTypeSampledImage    spirv.OpCode     = 27
	decorationBufferBlock spirv.Decoration = 3
)

// headerWords is the size of the SPIR-V module header.
const headerWords = 5

// id records what the parser learned about one result ID.
type id struct {
	op    spirv.OpCode // defining instruction, 0 if not seen or not tracked
	typ   uint32       // pointee for pointers, pointer type for variables
	class spirv.StorageClass

	binding, set       uint32
	hasBinding, hasSet bool

	block, bufferBlock, nonWritable bool

	members, readOnlyMembers uint32 // structs only
}

// Words reinterprets a little-endian SPIR-V blob as words.
func Words(blob []byte) ([]uint32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformed, len(blob))
	}
	words := make([]uint32, len(blob)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(blob[i*4:])
	}
	return words, nil
}

// Parse scans a SPIR-V blob and returns its resource layout sorted by slot.
// Slots at or above maxSlots fail with ErrTooManyResources. A module without
// a LocalSize execution mode yields a layout with HasGroupSize unset.
func Parse(blob []byte, maxSlots int) (*backend.Layout, error) {
	words, err := Words(blob)
	if err != nil {
		return nil, err
	}
	return ParseWords(words, maxSlots)
}

// ParseWords is Parse over an already decoded word stream.
func ParseWords(words []uint32, maxSlots int) (*backend.Layout, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("%w: %d words, need at least %d", ErrMalformed, len(words), headerWords)
	}
	if words[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrMalformed, words[0])
	}

	bound := words[3]
	if bound == 0 {
		return nil, fmt.Errorf("%w: zero ID bound", ErrMalformed)
	}

	// IDs may be sparse below the bound, so records are created on demand.
	p := &parser{bound: bound, ids: make(map[uint32]*id)}
	if err := p.scan(words[headerWords:]); err != nil {
		return nil, err
	}
	return p.layout(maxSlots)
}

type parser struct {
	bound     uint32
	ids       map[uint32]*id
	variables []uint32
	entries   []uint32            // GLCompute entry points in declaration order
	localSize map[uint32][3]uint32 // by entry point ID
}

func (p *parser) ref(v uint32) (*id, error) {
	if v >= p.bound {
		return nil, fmt.Errorf("%w: id %d out of range, bound %d", ErrMalformed, v, p.bound)
	}
	return p.get(v), nil
}

// get returns the record for v, creating an empty one if needed.
func (p *parser) get(v uint32) *id {
	rec, ok := p.ids[v]
	if !ok {
		rec = &id{}
		p.ids[v] = rec
	}
	return rec
}

func (p *parser) define(v uint32, op spirv.OpCode) (*id, error) {
	rec, err := p.ref(v)
	if err != nil {
		return nil, err
	}
	if rec.op != 0 {
		return nil, fmt.Errorf("%w: id %d defined twice", ErrMalformed, v)
	}
	rec.op = op
	return rec, nil
}

func (p *parser) scan(words []uint32) error {
	for pos := 0; pos < len(words); {
		wc := int(words[pos] >> 16)
		op := spirv.OpCode(words[pos] & 0xFFFF)
		if wc == 0 || pos+wc > len(words) {
			return fmt.Errorf("%w: bad word count %d at word %d", ErrMalformed, wc, pos+headerWords)
		}
		if err := p.instruction(op, words[pos:pos+wc]); err != nil {
			return err
		}
		pos += wc
	}
	return nil
}

func (p *parser) instruction(op spirv.OpCode, inst []uint32) error {
	need := func(n int) error {
		if len(inst) < n {
			return fmt.Errorf("%w: opcode %d with %d words", ErrMalformed, op, len(inst))
		}
		return nil
	}

	switch op {
	case spirv.OpEntryPoint:
		if err := need(4); err != nil {
			return err
		}
		if _, err := p.ref(inst[2]); err != nil {
			return err
		}
		if spirv.ExecutionModel(inst[1]) == spirv.ExecutionModelGLCompute {
			p.entries = append(p.entries, inst[2])
		}

	case spirv.OpExecutionMode:
		if err := need(3); err != nil {
			return err
		}
		if _, err := p.ref(inst[1]); err != nil {
			return err
		}
		if spirv.ExecutionMode(inst[2]) == spirv.ExecutionModeLocalSize {
			if err := need(6); err != nil {
				return err
			}
			if p.localSize == nil {
				p.localSize = make(map[uint32][3]uint32)
			}
			p.localSize[inst[1]] = [3]uint32{inst[3], inst[4], inst[5]}
		}

	case spirv.OpDecorate:
		if err := need(3); err != nil {
			return err
		}
		rec, err := p.ref(inst[1])
		if err != nil {
			return err
		}
		return decorate(rec, spirv.Decoration(inst[2]), inst[3:])

	case spirv.OpMemberDecorate:
		if err := need(4); err != nil {
			return err
		}
		rec, err := p.ref(inst[1])
		if err != nil {
			return err
		}
		if spirv.Decoration(inst[3]) == spirv.DecorationNonWritable {
			rec.readOnlyMembers++
		}

	case spirv.OpTypeStruct:
		if err := need(2); err != nil {
			return err
		}
		rec, err := p.define(inst[1], op)
		if err != nil {
			return err
		}
		rec.members = uint32(len(inst) - 2)

	case opTypeImage, opTypeSampler, opTypeSampledImage:
		if err := need(2); err != nil {
			return err
		}
		_, err := p.define(inst[1], op)
		return err

	case spirv.OpTypePointer:
		if err := need(4); err != nil {
			return err
		}
		if _, err := p.ref(inst[3]); err != nil {
			return err
		}
		rec, err := p.define(inst[1], op)
		if err != nil {
			return err
		}
		rec.class = spirv.StorageClass(inst[2])
		rec.typ = inst[3]

	case spirv.OpVariable:
		if err := need(4); err != nil {
			return err
		}
		if _, err := p.ref(inst[1]); err != nil {
			return err
		}
		rec, err := p.define(inst[2], op)
		if err != nil {
			return err
		}
		rec.typ = inst[1]
		rec.class = spirv.StorageClass(inst[3])
		p.variables = append(p.variables, inst[2])
	}
	return nil
}

func decorate(rec *id, dec spirv.Decoration, args []uint32) error {
	switch dec {
	case spirv.DecorationBinding, spirv.DecorationDescriptorSet:
		if len(args) < 1 {
			return fmt.Errorf("%w: decoration %d without operand", ErrMalformed, dec)
		}
		if dec == spirv.DecorationBinding {
			rec.binding, rec.hasBinding = args[0], true
		} else {
			rec.set, rec.hasSet = args[0], true
		}
	case spirv.DecorationBlock:
		rec.block = true
	case decorationBufferBlock:
		rec.bufferBlock = true
	case spirv.DecorationNonWritable:
		rec.nonWritable = true
	}
	return nil
}

// layout classifies the recorded variables. It runs after the scan because
// decorations precede the types and variables they target.
func (p *parser) layout(maxSlots int) (*backend.Layout, error) {
	out := &backend.Layout{}
	seen := make(map[uint32]uint32) // slot -> variable

	for _, v := range p.variables {
		vr := p.get(v)
		switch vr.class {
		case spirv.StorageClassUniformConstant, spirv.StorageClassUniform, spirv.StorageClassStorageBuffer:
		default:
			continue
		}
		if !vr.hasBinding && !vr.hasSet {
			continue
		}

		if vr.set != 0 {
			return nil, fmt.Errorf("%w: variable %d in set %d", ErrUnsupportedResourceSet, v, vr.set)
		}

		ptr := p.get(vr.typ)
		if ptr.op != spirv.OpTypePointer {
			return nil, fmt.Errorf("%w: variable %d type %d is not a pointer", ErrMalformed, v, vr.typ)
		}
		pointee := p.get(ptr.typ)
		kind, err := classify(vr, pointee)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %d binding %d", err, v, vr.binding)
		}

		if uint64(vr.binding) >= uint64(maxSlots) {
			return nil, fmt.Errorf("%w: binding %d, limit %d", ErrTooManyResources, vr.binding, maxSlots)
		}
		if prev, dup := seen[vr.binding]; dup {
			return nil, fmt.Errorf("%w: binding %d declared by variables %d and %d",
				ErrMalformed, vr.binding, prev, v)
		}
		seen[vr.binding] = v
		out.Resources = append(out.Resources, backend.ResourceBinding{Slot: vr.binding, Kind: kind})
	}

	slices.SortFunc(out.Resources, func(a, b backend.ResourceBinding) int {
		return cmp.Compare(a.Slot, b.Slot)
	})

	for _, e := range p.entries {
		if size, ok := p.localSize[e]; ok {
			out.GroupSize = size
			out.HasGroupSize = true
			break
		}
	}
	return out, nil
}

func classify(v, pointee *id) (backend.ResourceKind, error) {
	if pointee.op != spirv.OpTypeStruct {
		return 0, ErrUnsupportedResourceKind
	}
	readOnly := v.nonWritable || (pointee.members > 0 && pointee.readOnlyMembers >= pointee.members)

	switch {
	case v.class == spirv.StorageClassStorageBuffer,
		v.class == spirv.StorageClassUniform && pointee.bufferBlock:
		if readOnly {
			return backend.ReadOnlyBuffer, nil
		}
		return backend.ReadWriteBuffer, nil
	case v.class == spirv.StorageClassUniform && pointee.block:
		return backend.UniformBlock, nil
	default:
		return 0, ErrUnsupportedResourceKind
	}
}
