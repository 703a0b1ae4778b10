// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

// Package iplc reads, writes, and statically verifies IronPLC bytecode
// containers: the binary artifact produced by the IEC 61131-3 compiler
// front-end and executed by the runtime in the vm package. A container
// carries a fixed 256-byte header, type metadata, a task table, a constant
// pool, bytecode, optional debug info, and SHA-256 hashes with optional
// PKCS#7 signatures over them.
package iplc

const (
	// Magic identifies an IronPLC bytecode container: the ASCII letters
	// "IPLC" read as a big-endian DWORD. Like every header field it is
	// stored little-endian, so a container starts with the bytes "CLPI".
	Magic = 0x49504C43

	// FormatVersion is the container format version this package writes
	// and the highest version it accepts.
	FormatVersion = 1

	// HeaderSize is the size of the fixed file header.
	HeaderSize = 256

	// NumSections is the number of entries in the header section
	// directory.
	NumSections = 7
)

// SectionID indexes the header section directory. Sections appear in the
// file in this order, without gaps between declared sections.
type SectionID uint8

const (
	// SectionContentSignature holds a PKCS#7 SignedData blob over the
	// content hash. Optional.
	SectionContentSignature SectionID = iota

	// SectionDebugSignature holds a PKCS#7 SignedData blob over the debug
	// hash. Optional.
	SectionDebugSignature

	// SectionType holds the variable table, FB type descriptors, array
	// descriptors and function signatures.
	SectionType

	// SectionTaskTable holds the task entries and program instance
	// bindings.
	SectionTaskTable

	// SectionConstantPool holds the typed literal pool.
	SectionConstantPool

	// SectionCode holds the function directory and the bytecode blob.
	SectionCode

	// SectionDebug holds source file names and line tables. Optional; a
	// container whose debug section fails verification still loads.
	SectionDebug
)

// String stringifies the section ID.
func (s SectionID) String() string {
	sectionNameMap := map[SectionID]string{
		SectionContentSignature: "ContentSignature",
		SectionDebugSignature:   "DebugSignature",
		SectionType:             "Type",
		SectionTaskTable:        "TaskTable",
		SectionConstantPool:     "ConstantPool",
		SectionCode:             "Code",
		SectionDebug:            "Debug",
	}
	return sectionNameMap[s]
}

// ValueType is the declared type of a variable, FB field, array element or
// function parameter in the type section.
type ValueType uint8

// Declared value types.
const (
	TypeI32 ValueType = iota + 1
	TypeU32
	TypeI64
	TypeU64
	TypeF32
	TypeF64
	TypeString
	TypeWString
	TypeFBInstance
	TypeTime
)

// String stringifies the value type.
func (t ValueType) String() string {
	typeNameMap := map[ValueType]string{
		TypeI32:        "I32",
		TypeU32:        "U32",
		TypeI64:        "I64",
		TypeU64:        "U64",
		TypeF32:        "F32",
		TypeF64:        "F64",
		TypeString:     "STRING",
		TypeWString:    "WSTRING",
		TypeFBInstance: "FB_INSTANCE",
		TypeTime:       "TIME",
	}
	if name, ok := typeNameMap[t]; ok {
		return name
	}
	return "?"
}

// IsValid reports whether t is a defined value type.
func (t ValueType) IsValid() bool {
	return t >= TypeI32 && t <= TypeTime
}

// ConstantType tags an entry in the constant pool.
type ConstantType uint8

// Constant pool entry types. The numeric tags match the corresponding
// ValueType so LOAD_CONST type checks are direct comparisons.
const (
	ConstI32     = ConstantType(TypeI32)
	ConstU32     = ConstantType(TypeU32)
	ConstI64     = ConstantType(TypeI64)
	ConstU64     = ConstantType(TypeU64)
	ConstF32     = ConstantType(TypeF32)
	ConstF64     = ConstantType(TypeF64)
	ConstString  = ConstantType(TypeString)
	ConstWString = ConstantType(TypeWString)
)

// String stringifies the constant type.
func (t ConstantType) String() string {
	switch t {
	case ConstString:
		return "STRING_LITERAL"
	case ConstWString:
		return "WSTRING_LITERAL"
	default:
		return ValueType(t).String()
	}
}

// IsValid reports whether t is a defined constant pool entry type.
func (t ConstantType) IsValid() bool {
	return t >= ConstI32 && t <= ConstWString
}

// TaskType selects the scheduling discipline of a task table entry.
type TaskType uint8

// Task scheduling types.
const (
	// TaskCyclic tasks become ready when their interval elapses.
	TaskCyclic TaskType = iota

	// TaskEvent tasks become ready on a rising edge of the monitored
	// variable.
	TaskEvent

	// TaskFreewheeling tasks are ready every round.
	TaskFreewheeling
)

// String stringifies the task type.
func (t TaskType) String() string {
	switch t {
	case TaskCyclic:
		return "CYCLIC"
	case TaskEvent:
		return "EVENT"
	case TaskFreewheeling:
		return "FREEWHEELING"
	default:
		return "?"
	}
}

// IsValid reports whether t is a defined task type.
func (t TaskType) IsValid() bool {
	return t <= TaskFreewheeling
}

// VoidType is the return_type tag of a void function signature.
const VoidType = 0xFF

// IntrinsicFBBase is the first FB type ID reserved for VM intrinsics.
// Type IDs at or above this value dispatch to native standard function
// blocks; IDs below it dispatch to user bytecode.
const IntrinsicFBBase = 0xFF00

// Intrinsic standard function block type IDs.
const (
	FBTypeTON = IntrinsicFBBase + iota
	FBTypeTOF
	FBTypeTP
	FBTypeCTU
	FBTypeCTD
	FBTypeRTrig
	FBTypeFTrig
)
