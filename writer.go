// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

// ErrTooManyEntries is returned when a table exceeds its u16 index space.
var ErrTooManyEntries = errors.New("table exceeds u16 index space")

// BuilderFunction is one function handed to the Builder: its directory
// metadata plus its bytecode. The builder computes blob offsets.
type BuilderFunction struct {
	FunctionID    uint16
	MaxStackDepth uint16
	NumLocals     uint16
	Code          []byte
}

// Builder assembles a container image from parsed-form collections. The
// code generator is its main caller; tests use it to fabricate containers.
// Hashes and the section directory are computed during Write; the caller
// only supplies the source hash and, optionally, signature blobs produced
// with SignHash.
type Builder struct {
	Profile    uint8
	Flags      uint8
	SourceHash [32]byte

	// Params: counts are filled in from the slices below during Write;
	// the caller sets the capacity fields (stack, call depth, buffers,
	// images, FB pool).
	Params RuntimeParams

	Variables  []VariableEntry
	FBTypes    []FBTypeDescriptor
	Arrays     []ArrayDescriptor
	Signatures []FunctionSignature

	SharedGlobalsSize uint16
	Tasks             []TaskEntry
	Instances         []ProgramInstance

	Constants []Constant
	Functions []BuilderFunction

	Debug *DebugInfo

	// Raw PKCS#7 blobs for the signature sections, or nil for an unsigned
	// container.
	ContentSignature []byte
	DebugSignature   []byte
}

func (b *Builder) typeSection() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	if len(b.Variables) > 0xFFFF || len(b.FBTypes) > 0xFFFF ||
		len(b.Arrays) > 0xFFFF || len(b.Signatures) > 0xFFFF {
		return nil, ErrTooManyEntries
	}

	w(uint16(len(b.Variables)))
	for _, v := range b.Variables {
		w(uint8(v.VarType))
		w(v.Flags)
		w(v.Extra)
	}

	w(uint16(len(b.FBTypes)))
	for _, fb := range b.FBTypes {
		w(fb.TypeID)
		w(uint16(len(fb.Fields)))
		for _, fld := range fb.Fields {
			w(uint8(fld.FieldType))
			w(fld.Reserved)
			w(fld.FieldExtra)
		}
	}

	w(uint16(len(b.Arrays)))
	for _, a := range b.Arrays {
		w(uint8(a.ElementType))
		w(a.Reserved)
		w(a.LowerBound)
		w(a.UpperBound)
		w(a.ElementExtra)
	}

	w(uint16(len(b.Signatures)))
	for _, s := range b.Signatures {
		w(s.FunctionID)
		w(uint8(len(s.ParamTypes)))
		w(s.ReturnType)
		for _, p := range s.ParamTypes {
			w(uint8(p))
		}
	}
	return buf.Bytes(), nil
}

func (b *Builder) taskSection() []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint16(len(b.Tasks)))
	w(uint16(len(b.Instances)))
	w(b.SharedGlobalsSize)
	w(uint16(0))

	for _, t := range b.Tasks {
		w(t.TaskID)
		w(t.Priority)
		w(uint8(t.Type))
		w(t.Flags)
		w(t.SingleVarIndex)
		w(t.IntervalUS)
		w(t.WatchdogUS)
		w(t.InputImageOffset)
		w(t.InputImageSize)
		w(t.OutputImageOffset)
		w(t.OutputImageSize)
		w(t.Reserved)
	}
	for _, p := range b.Instances {
		w(p.InstanceID)
		w(p.TaskID)
		w(p.EntryFunctionID)
		w(p.VarTableOffset)
		w(p.VarTableCount)
		w(p.FBInstanceOffset)
		w(p.FBInstanceCount)
		w(p.Reserved)
	}
	return buf.Bytes()
}

func (b *Builder) constSection() []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint16(len(b.Constants)))
	for _, c := range b.Constants {
		w(uint8(c.Type))
		w(c.Reserved)
		w(uint16(len(c.Payload)))
		buf.Write(c.Payload)
	}
	return buf.Bytes()
}

func (b *Builder) codeSection() []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint16(len(b.Functions)))
	offset := uint32(0)
	for _, fn := range b.Functions {
		w(fn.FunctionID)
		w(offset)
		w(uint32(len(fn.Code)))
		w(fn.MaxStackDepth)
		w(fn.NumLocals)
		w(uint16(0))
		offset += uint32(len(fn.Code))
	}
	for _, fn := range b.Functions {
		buf.Write(fn.Code)
	}
	return buf.Bytes()
}

func (b *Builder) debugSection() []byte {
	if b.Debug == nil {
		return nil
	}
	var buf bytes.Buffer
	w := func(v interface{}) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	w(uint16(len(b.Debug.Files)))
	for _, name := range b.Debug.Files {
		w(uint16(len(name)))
		buf.WriteString(name)
	}
	w(uint16(len(b.Debug.Functions)))
	for _, fn := range b.Debug.Functions {
		w(fn.FunctionID)
		w(fn.FileIndex)
		w(uint16(len(fn.Points)))
		for _, p := range fn.Points {
			w(p.PC)
			w(p.Line)
		}
	}
	return buf.Bytes()
}

// Bytes assembles the container image.
func (b *Builder) Bytes() ([]byte, error) {
	typeSec, err := b.typeSection()
	if err != nil {
		return nil, err
	}
	taskSec := b.taskSection()
	constSec := b.constSection()
	codeSec := b.codeSection()
	debugSec := b.debugSection()

	sections := [NumSections][]byte{
		SectionContentSignature: b.ContentSignature,
		SectionDebugSignature:   b.DebugSignature,
		SectionType:             typeSec,
		SectionTaskTable:        taskSec,
		SectionConstantPool:     constSec,
		SectionCode:             codeSec,
		SectionDebug:            debugSec,
	}

	hdr := FileHeader{
		Magic:      Magic,
		Version:    FormatVersion,
		Profile:    b.Profile,
		Flags:      b.Flags,
		SourceHash: b.SourceHash,
		Params:     b.Params,
	}
	hdr.Params.NumVariables = uint16(len(b.Variables))
	hdr.Params.NumFBTypes = uint16(len(b.FBTypes))
	hdr.Params.NumArrayDescs = uint16(len(b.Arrays))
	hdr.Params.NumFunctions = uint16(len(b.Functions))
	hdr.Params.NumConstants = uint16(len(b.Constants))
	hdr.Params.NumTasks = uint16(len(b.Tasks))
	hdr.Params.NumProgramInstances = uint16(len(b.Instances))

	offset := uint32(HeaderSize)
	for id := SectionID(0); id < NumSections; id++ {
		if len(sections[id]) == 0 {
			continue
		}
		hdr.Sections[id] = SectionEntry{
			Offset: offset,
			Size:   uint32(len(sections[id])),
		}
		offset += uint32(len(sections[id]))
	}

	// Content hash: source hash then the hashed sections in file order.
	ch := sha256.New()
	ch.Write(hdr.SourceHash[:])
	ch.Write(typeSec)
	ch.Write(constSec)
	ch.Write(codeSec)
	copy(hdr.ContentHash[:], ch.Sum(nil))

	if debugSec != nil {
		copy(hdr.DebugHash[:], sha256Sum(debugSec))
	}
	hdr.LayoutHash = ComputeLayoutHash(b.Variables, b.FBTypes, b.Arrays)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	for id := SectionID(0); id < NumSections; id++ {
		out.Write(sections[id])
	}
	return out.Bytes(), nil
}

// Write serializes the container image to w. It fails with I/O errors
// only, once the builder contents validate.
func (b *Builder) Write(w io.Writer) error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
