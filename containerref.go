// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	// ErrCountMismatch is returned when a section's own entry count
	// disagrees with the header runtime parameters.
	ErrCountMismatch = errors.New("section entry count disagrees with header")

	// ErrOffsetBufTooSmall is returned when the caller-provided offset
	// buffer cannot hold the precomputed indices.
	ErrOffsetBufTooSmall = errors.New("offset buffer too small")
)

// OffsetBufLen returns the number of uint32 slots FromSlice needs for its
// precomputed indices: one per constant, FB type descriptor and function
// signature. Embedded callers size a static array with it; hosts allocate.
func OffsetBufLen(hdr *FileHeader) int {
	return int(hdr.Params.NumConstants) +
		int(hdr.Params.NumFBTypes) +
		int(hdr.Params.NumFunctions)
}

// ContainerRef is the zero-copy view of a container held in flash or a
// memory-mapped buffer. All accessors slice the original bytes; the only
// working memory is the caller-provided offset buffer, which precomputes
// the positions of the variable-width type section and constant pool
// entries for O(1) lookup.
type ContainerRef struct {
	hdr  FileHeader
	data []byte

	constOff []uint32
	fbOff    []uint32
	sigOff   []uint32

	varTabOff     uint32
	arrayOff      uint32
	sharedGlobals uint16
	taskOff       uint32
	instOff       uint32
	codeDirOff    uint32
	codeBlobOff   uint32
	codeBlobLen   uint32
}

// FromSlice validates the container image and builds the zero-copy view.
// It performs the same structural validation as the owning path and builds
// no per-section collections; offsetBuf must hold at least OffsetBufLen
// slots. It is not allocation-free: the header is decoded with
// binary.Read and the returned view is heap-allocated.
func FromSlice(data []byte, offsetBuf []uint32) (*ContainerRef, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidContainerSize
	}
	if binary.LittleEndian.Uint32(data) != Magic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint16(data[4:])
	if version == 0 || version > FormatVersion {
		return nil, ErrUnsupportedVersion
	}

	var hdr FileHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]),
		binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if err := validateSectionLayout(&hdr, uint32(len(data))); err != nil {
		return nil, err
	}
	if len(offsetBuf) < OffsetBufLen(&hdr) {
		return nil, ErrOffsetBufTooSmall
	}

	r := ContainerRef{hdr: hdr, data: data}
	nc := int(hdr.Params.NumConstants)
	nf := int(hdr.Params.NumFBTypes)
	ns := int(hdr.Params.NumFunctions)
	r.constOff = offsetBuf[:nc]
	r.fbOff = offsetBuf[nc : nc+nf]
	r.sigOff = offsetBuf[nc+nf : nc+nf+ns]

	if err := r.indexTypeSection(); err != nil {
		return nil, err
	}
	if err := r.indexTaskTable(); err != nil {
		return nil, err
	}
	if err := r.indexConstantPool(); err != nil {
		return nil, err
	}
	if err := r.indexCodeSection(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *ContainerRef) section(id SectionID) (uint32, uint32) {
	sec := r.hdr.Sections[id]
	return sec.Offset, sec.Size
}

// indexTypeSection walks the type section once, recording the start of
// every variable-width descriptor.
func (r *ContainerRef) indexTypeSection() error {
	off, size := r.section(SectionType)
	end := off + size
	pos := off

	need := func(n uint32) bool { return pos+n <= end }
	if !need(2) {
		return ErrInsufficientBytes
	}
	numVars := uint32(binary.LittleEndian.Uint16(r.data[pos:]))
	if uint16(numVars) != r.hdr.Params.NumVariables {
		return ErrCountMismatch
	}
	pos += 2
	r.varTabOff = pos
	if !need(numVars * 4) {
		return ErrInsufficientBytes
	}
	pos += numVars * 4

	if !need(2) {
		return ErrInsufficientBytes
	}
	numFBs := uint32(binary.LittleEndian.Uint16(r.data[pos:]))
	if uint16(numFBs) != r.hdr.Params.NumFBTypes {
		return ErrCountMismatch
	}
	pos += 2
	for i := uint32(0); i < numFBs; i++ {
		if !need(4) {
			return ErrInsufficientBytes
		}
		r.fbOff[i] = pos
		numFields := uint32(binary.LittleEndian.Uint16(r.data[pos+2:]))
		pos += 4
		if !need(numFields * 4) {
			return ErrInsufficientBytes
		}
		pos += numFields * 4
	}

	if !need(2) {
		return ErrInsufficientBytes
	}
	numArrays := uint32(binary.LittleEndian.Uint16(r.data[pos:]))
	if uint16(numArrays) != r.hdr.Params.NumArrayDescs {
		return ErrCountMismatch
	}
	pos += 2
	r.arrayOff = pos
	if !need(numArrays * 8) {
		return ErrInsufficientBytes
	}
	pos += numArrays * 8

	if !need(2) {
		return ErrInsufficientBytes
	}
	numSigs := uint32(binary.LittleEndian.Uint16(r.data[pos:]))
	if uint16(numSigs) != r.hdr.Params.NumFunctions {
		return ErrCountMismatch
	}
	pos += 2
	for i := uint32(0); i < numSigs; i++ {
		if !need(4) {
			return ErrInsufficientBytes
		}
		r.sigOff[i] = pos
		numParams := uint32(r.data[pos+2])
		pos += 4
		if !need(numParams) {
			return ErrInsufficientBytes
		}
		pos += numParams
	}
	return nil
}

func (r *ContainerRef) indexTaskTable() error {
	off, size := r.section(SectionTaskTable)
	if size < TaskTableHeaderSize {
		return ErrInsufficientBytes
	}
	numTasks := uint32(binary.LittleEndian.Uint16(r.data[off:]))
	numInsts := uint32(binary.LittleEndian.Uint16(r.data[off+2:]))
	if uint16(numTasks) != r.hdr.Params.NumTasks ||
		uint16(numInsts) != r.hdr.Params.NumProgramInstances {
		return ErrCountMismatch
	}
	r.sharedGlobals = binary.LittleEndian.Uint16(r.data[off+4:])
	want := uint32(TaskTableHeaderSize) + numTasks*TaskEntrySize + numInsts*ProgramInstanceSize
	if size < want {
		return ErrInsufficientBytes
	}
	r.taskOff = off + TaskTableHeaderSize
	r.instOff = r.taskOff + numTasks*TaskEntrySize

	for i := uint32(0); i < numTasks; i++ {
		tt := TaskType(r.data[r.taskOff+i*TaskEntrySize+3])
		if !tt.IsValid() {
			return InvalidTaskTypeError{Value: uint8(tt)}
		}
	}
	for i := uint32(0); i < numInsts; i++ {
		inst := r.Instance(uint16(i))
		if _, ok := r.TaskByID(inst.TaskID); !ok {
			return ErrTaskBinding
		}
		end := uint32(inst.VarTableOffset) + uint32(inst.VarTableCount)
		if end > uint32(r.hdr.Params.NumVariables) {
			return ErrVarPartition
		}
	}
	return nil
}

func (r *ContainerRef) indexConstantPool() error {
	off, size := r.section(SectionConstantPool)
	end := off + size
	if size < 2 {
		return ErrInsufficientBytes
	}
	numConsts := uint32(binary.LittleEndian.Uint16(r.data[off:]))
	if uint16(numConsts) != r.hdr.Params.NumConstants {
		return ErrCountMismatch
	}
	pos := off + 2
	for i := uint32(0); i < numConsts; i++ {
		if pos+ConstantEntrySize > end {
			return ErrInsufficientBytes
		}
		typ := ConstantType(r.data[pos])
		if !typ.IsValid() {
			return InvalidConstantTypeError{Value: uint8(typ)}
		}
		psize := uint32(binary.LittleEndian.Uint16(r.data[pos+2:]))
		if want, isFixed := payloadSizes[typ]; isFixed && psize != uint32(want) {
			return ErrInsufficientBytes
		}
		r.constOff[i] = pos
		pos += ConstantEntrySize + psize
		if pos > end {
			return ErrInsufficientBytes
		}
	}
	return nil
}

func (r *ContainerRef) indexCodeSection() error {
	off, size := r.section(SectionCode)
	if size < 2 {
		return ErrInsufficientBytes
	}
	numFuncs := uint32(binary.LittleEndian.Uint16(r.data[off:]))
	if uint16(numFuncs) != r.hdr.Params.NumFunctions {
		return ErrCountMismatch
	}
	dirSize := 2 + numFuncs*FunctionEntrySize
	if size < dirSize {
		return ErrInsufficientBytes
	}
	r.codeDirOff = off + 2
	r.codeBlobOff = off + dirSize
	r.codeBlobLen = size - dirSize

	for i := uint32(0); i < numFuncs; i++ {
		fn := r.Function(uint16(i))
		bcEnd := uint64(fn.BytecodeOffset) + uint64(fn.BytecodeLength)
		if bcEnd > uint64(r.codeBlobLen) {
			return ErrBytecodeRange
		}
	}
	return nil
}

// Header returns the parsed file header.
func (r *ContainerRef) Header() *FileHeader {
	return &r.hdr
}

// SharedGlobalsSize returns the shared-globals prefix length of the
// variable table.
func (r *ContainerRef) SharedGlobalsSize() uint16 {
	return r.sharedGlobals
}

// NumVariables returns the variable table length.
func (r *ContainerRef) NumVariables() uint16 {
	return r.hdr.Params.NumVariables
}

// Variable returns the variable table entry at index i.
func (r *ContainerRef) Variable(i uint16) VariableEntry {
	e := r.data[r.varTabOff+uint32(i)*4:]
	return VariableEntry{
		VarType: ValueType(e[0]),
		Flags:   e[1],
		Extra:   binary.LittleEndian.Uint16(e[2:]),
	}
}

// NumFBTypes returns the FB type descriptor count.
func (r *ContainerRef) NumFBTypes() uint16 {
	return r.hdr.Params.NumFBTypes
}

// FBTypeID returns the type ID of descriptor i.
func (r *ContainerRef) FBTypeID(i uint16) uint16 {
	return binary.LittleEndian.Uint16(r.data[r.fbOff[i]:])
}

// FBNumFields returns the field count of descriptor i.
func (r *ContainerRef) FBNumFields(i uint16) uint16 {
	return binary.LittleEndian.Uint16(r.data[r.fbOff[i]+2:])
}

// FBFieldAt returns field j of descriptor i.
func (r *ContainerRef) FBFieldAt(i, j uint16) FBField {
	e := r.data[r.fbOff[i]+4+uint32(j)*4:]
	return FBField{
		FieldType:  ValueType(e[0]),
		Reserved:   e[1],
		FieldExtra: binary.LittleEndian.Uint16(e[2:]),
	}
}

// FBDescriptorIndex resolves an FB type ID to a descriptor index, or
// false for unknown IDs. Intrinsic IDs resolve through
// StandardFBDescriptors instead.
func (r *ContainerRef) FBDescriptorIndex(typeID uint16) (uint16, bool) {
	for i := uint16(0); i < r.NumFBTypes(); i++ {
		if r.FBTypeID(i) == typeID {
			return i, true
		}
	}
	return 0, false
}

// NumArrayDescs returns the array descriptor count.
func (r *ContainerRef) NumArrayDescs() uint16 {
	return r.hdr.Params.NumArrayDescs
}

// ArrayDesc returns array descriptor i.
func (r *ContainerRef) ArrayDesc(i uint16) ArrayDescriptor {
	e := r.data[r.arrayOff+uint32(i)*8:]
	return ArrayDescriptor{
		ElementType:  ValueType(e[0]),
		Reserved:     e[1],
		LowerBound:   int16(binary.LittleEndian.Uint16(e[2:])),
		UpperBound:   int16(binary.LittleEndian.Uint16(e[4:])),
		ElementExtra: binary.LittleEndian.Uint16(e[6:]),
	}
}

// SignatureAt returns function signature i. The param slice aliases the
// underlying image.
func (r *ContainerRef) SignatureAt(i uint16) (funcID uint16, returnType uint8, params []byte) {
	off := r.sigOff[i]
	funcID = binary.LittleEndian.Uint16(r.data[off:])
	numParams := uint32(r.data[off+2])
	returnType = r.data[off+3]
	params = r.data[off+4 : off+4+numParams]
	return
}

// SignatureByFuncID resolves a function ID to its signature index.
func (r *ContainerRef) SignatureByFuncID(funcID uint16) (uint16, bool) {
	for i := uint16(0); i < r.hdr.Params.NumFunctions; i++ {
		id := binary.LittleEndian.Uint16(r.data[r.sigOff[i]:])
		if id == funcID {
			return i, true
		}
	}
	return 0, false
}

// NumConstants returns the constant pool length.
func (r *ContainerRef) NumConstants() uint16 {
	return r.hdr.Params.NumConstants
}

// ConstantAt returns the type tag and payload of constant i. The payload
// aliases the underlying image.
func (r *ContainerRef) ConstantAt(i uint16) (ConstantType, []byte) {
	off := r.constOff[i]
	size := uint32(binary.LittleEndian.Uint16(r.data[off+2:]))
	return ConstantType(r.data[off]), r.data[off+ConstantEntrySize : off+ConstantEntrySize+size]
}

// NumFunctions returns the code section directory length.
func (r *ContainerRef) NumFunctions() uint16 {
	return r.hdr.Params.NumFunctions
}

// Function returns code directory entry i.
func (r *ContainerRef) Function(i uint16) FunctionEntry {
	e := r.data[r.codeDirOff+uint32(i)*FunctionEntrySize:]
	return FunctionEntry{
		FunctionID:     binary.LittleEndian.Uint16(e),
		BytecodeOffset: binary.LittleEndian.Uint32(e[2:]),
		BytecodeLength: binary.LittleEndian.Uint32(e[6:]),
		MaxStackDepth:  binary.LittleEndian.Uint16(e[10:]),
		NumLocals:      binary.LittleEndian.Uint16(e[12:]),
	}
}

// FunctionByID resolves a function ID to its directory entry.
func (r *ContainerRef) FunctionByID(id uint16) (FunctionEntry, bool) {
	for i := uint16(0); i < r.NumFunctions(); i++ {
		fn := r.Function(i)
		if fn.FunctionID == id {
			return fn, true
		}
	}
	return FunctionEntry{}, false
}

// Bytecode returns the bytecode of a directory entry, aliasing the image.
func (r *ContainerRef) Bytecode(fn FunctionEntry) []byte {
	start := r.codeBlobOff + fn.BytecodeOffset
	return r.data[start : start+fn.BytecodeLength]
}

// NumTasks returns the task table length.
func (r *ContainerRef) NumTasks() uint16 {
	return r.hdr.Params.NumTasks
}

// Task returns task table entry i.
func (r *ContainerRef) Task(i uint16) TaskEntry {
	e := r.data[r.taskOff+uint32(i)*TaskEntrySize:]
	return TaskEntry{
		TaskID:            binary.LittleEndian.Uint16(e),
		Priority:          e[2],
		Type:              TaskType(e[3]),
		Flags:             binary.LittleEndian.Uint16(e[4:]),
		SingleVarIndex:    binary.LittleEndian.Uint16(e[6:]),
		IntervalUS:        binary.LittleEndian.Uint32(e[8:]),
		WatchdogUS:        binary.LittleEndian.Uint32(e[12:]),
		InputImageOffset:  binary.LittleEndian.Uint16(e[16:]),
		InputImageSize:    binary.LittleEndian.Uint16(e[18:]),
		OutputImageOffset: binary.LittleEndian.Uint16(e[20:]),
		OutputImageSize:   binary.LittleEndian.Uint16(e[22:]),
	}
}

// TaskByID resolves a task ID to its entry.
func (r *ContainerRef) TaskByID(id uint16) (TaskEntry, bool) {
	for i := uint16(0); i < r.NumTasks(); i++ {
		t := r.Task(i)
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskEntry{}, false
}

// NumInstances returns the program instance count.
func (r *ContainerRef) NumInstances() uint16 {
	return r.hdr.Params.NumProgramInstances
}

// Instance returns program instance entry i.
func (r *ContainerRef) Instance(i uint16) ProgramInstance {
	e := r.data[r.instOff+uint32(i)*ProgramInstanceSize:]
	return ProgramInstance{
		InstanceID:       binary.LittleEndian.Uint16(e),
		TaskID:           binary.LittleEndian.Uint16(e[2:]),
		EntryFunctionID:  binary.LittleEndian.Uint16(e[4:]),
		VarTableOffset:   binary.LittleEndian.Uint16(e[6:]),
		VarTableCount:    binary.LittleEndian.Uint16(e[8:]),
		FBInstanceOffset: binary.LittleEndian.Uint16(e[10:]),
		FBInstanceCount:  binary.LittleEndian.Uint16(e[12:]),
	}
}
