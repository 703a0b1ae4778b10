// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
	"errors"
)

// FunctionEntrySize is the fixed size of one code section directory entry.
const FunctionEntrySize = 16

// ErrBytecodeRange is returned when a function directory entry points
// outside the bytecode blob.
var ErrBytecodeRange = errors.New("function bytecode range outside code section")

// FunctionEntry is one code section directory record.
type FunctionEntry struct {
	FunctionID uint16 `json:"function_id"`

	// BytecodeOffset is relative to the start of the bytecode blob, which
	// immediately follows the directory.
	BytecodeOffset uint32 `json:"bytecode_offset"`
	BytecodeLength uint32 `json:"bytecode_length"`

	// MaxStackDepth is the compiler-declared operand stack high-water mark
	// of the function; the verifier proves it.
	MaxStackDepth uint16 `json:"max_stack_depth"`

	// NumLocals is carried for the code generator's bookkeeping; the
	// instruction set addresses all storage through the variable table.
	NumLocals uint16 `json:"num_locals"`

	Reserved uint16 `json:"-"`
}

// ParseCodeSection parses the function directory and retains the bytecode
// blob.
func (f *File) ParseCodeSection() error {
	data := f.SectionBytes(SectionCode)
	if data == nil {
		return ErrMissingSection
	}
	if len(data) < 2 {
		return ErrInsufficientBytes
	}

	numFuncs := int(binary.LittleEndian.Uint16(data))
	dirSize := 2 + numFuncs*FunctionEntrySize
	if len(data) < dirSize {
		return ErrInsufficientBytes
	}

	blob := data[dirSize:]
	f.Functions = make([]FunctionEntry, numFuncs)
	for i := 0; i < numFuncs; i++ {
		e := data[2+i*FunctionEntrySize:]
		entry := FunctionEntry{
			FunctionID:     binary.LittleEndian.Uint16(e),
			BytecodeOffset: binary.LittleEndian.Uint32(e[2:]),
			BytecodeLength: binary.LittleEndian.Uint32(e[6:]),
			MaxStackDepth:  binary.LittleEndian.Uint16(e[10:]),
			NumLocals:      binary.LittleEndian.Uint16(e[12:]),
		}
		end := uint64(entry.BytecodeOffset) + uint64(entry.BytecodeLength)
		if end > uint64(len(blob)) {
			return ErrBytecodeRange
		}
		f.Functions[i] = entry
	}
	f.Code = blob

	return nil
}

// FunctionByID returns the directory entry with the given function ID.
func (f *File) FunctionByID(id uint16) (FunctionEntry, bool) {
	for _, fn := range f.Functions {
		if fn.FunctionID == id {
			return fn, true
		}
	}
	return FunctionEntry{}, false
}

// Bytecode returns the bytecode of a function directory entry.
func (f *File) Bytecode(fn FunctionEntry) []byte {
	return f.Code[fn.BytecodeOffset : fn.BytecodeOffset+fn.BytecodeLength]
}
