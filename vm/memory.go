// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"errors"

	"github.com/ironplc/iplc"
)

var (
	// ErrInsufficientResources is returned by Load when a caller-provided
	// backing slice is smaller than the header-declared counts demand.
	ErrInsufficientResources = errors.New("backing memory smaller than header demands")

	// ErrArenaExhausted is returned by Load when FB instances and arrays
	// do not fit the declared instance pool.
	ErrArenaExhausted = errors.New("FB instance pool smaller than variables demand")
)

// bufLenPrefix is the per-buffer overhead of the string pools: a 2-byte
// length prefix before the capacity bytes.
const bufLenPrefix = 2

// Memory bundles every caller-provided backing slice the VM works over.
// Hosts build one with AllocMemory; bare-metal targets build one from
// static arrays sized with the same formulas. The VM never allocates
// after Load.
type Memory struct {
	// Stack backs the operand stack; MaxStackDepth slots.
	Stack []Slot

	// Vars backs the variable table; NumVariables slots.
	Vars []Slot

	// Arena backs FB instance fields and array elements;
	// FBInstancePoolSize slots.
	Arena []Slot

	// Frames backs the call frame stack; MaxCallDepth entries.
	Frames []Frame

	// TaskStates and Instances back the scheduler; NumTasks and
	// NumProgramInstances entries.
	TaskStates []TaskState
	Instances  []InstanceState

	// ReadyBuf backs the per-round ready set; NumTasks entries.
	ReadyBuf []uint16

	// StrBufs and WStrBufs back the string pools: NumStringBufs buffers
	// of (2 + StringBufCap) bytes each, and the WSTRING equivalent.
	StrBufs  []byte
	WStrBufs []byte

	// Scratch is the assembly buffer of the string builtins; twice the
	// larger of the two buffer capacities.
	Scratch []byte

	// Process images.
	InputImage  []byte
	OutputImage []byte
	MemoryImage []byte
}

// AllocMemory heap-allocates a Memory correctly sized for the header.
// Embedded callers skip this and provide static storage instead.
func AllocMemory(hdr *iplc.FileHeader) *Memory {
	p := hdr.Params
	return &Memory{
		Stack:       make([]Slot, p.MaxStackDepth),
		Vars:        make([]Slot, p.NumVariables),
		Arena:       make([]Slot, p.FBInstancePoolSize),
		Frames:      make([]Frame, p.MaxCallDepth),
		TaskStates:  make([]TaskState, p.NumTasks),
		Instances:   make([]InstanceState, p.NumProgramInstances),
		ReadyBuf:    make([]uint16, p.NumTasks),
		StrBufs:     make([]byte, int(p.NumStringBufs)*(bufLenPrefix+int(p.StringBufCap))),
		WStrBufs:    make([]byte, int(p.NumWStringBufs)*(bufLenPrefix+int(p.WStringBufCap))),
		Scratch:     make([]byte, 2*maxInt(int(p.StringBufCap), int(p.WStringBufCap))),
		InputImage:  make([]byte, p.InputImageSize),
		OutputImage: make([]byte, p.OutputImageSize),
		MemoryImage: make([]byte, p.MemoryImageSize),
	}
}

// validate checks every slice against the header before the VM commits to
// the memory. The check runs before any state is written, so a rejected
// load leaves the caller's memory untouched.
func (m *Memory) validate(hdr *iplc.FileHeader) error {
	p := hdr.Params
	switch {
	case len(m.Stack) < int(p.MaxStackDepth),
		len(m.Vars) < int(p.NumVariables),
		len(m.Arena) < int(p.FBInstancePoolSize),
		len(m.Frames) < int(p.MaxCallDepth),
		len(m.TaskStates) < int(p.NumTasks),
		len(m.Instances) < int(p.NumProgramInstances),
		len(m.ReadyBuf) < int(p.NumTasks),
		len(m.StrBufs) < int(p.NumStringBufs)*(bufLenPrefix+int(p.StringBufCap)),
		len(m.WStrBufs) < int(p.NumWStringBufs)*(bufLenPrefix+int(p.WStringBufCap)),
		len(m.Scratch) < 2*maxInt(int(p.StringBufCap), int(p.WStringBufCap)),
		len(m.InputImage) < int(p.InputImageSize),
		len(m.OutputImage) < int(p.OutputImageSize),
		len(m.MemoryImage) < int(p.MemoryImageSize):
		return ErrInsufficientResources
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
