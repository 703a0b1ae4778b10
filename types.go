// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
)

// Variable entry flag bits.
const (
	// VarFlagArray marks the variable as an array; Extra is then an array
	// descriptor index.
	VarFlagArray = 0x01

	// VarFlagRetain is reserved for RETAIN variables in later format
	// versions.
	VarFlagRetain = 0x02
)

// VariableEntry describes one slot of the variable table. Fixed 4 bytes on
// the wire.
type VariableEntry struct {
	// Declared type of the variable.
	VarType ValueType `json:"var_type"`

	// Flag bits, see VarFlag*.
	Flags uint8 `json:"flags"`

	// Extra is type-dependent: the maximum length for STRING/WSTRING, the
	// FB type ID for FB_INSTANCE, the array descriptor index for arrays.
	Extra uint16 `json:"extra"`
}

// IsArray reports whether the entry describes an array variable.
func (v VariableEntry) IsArray() bool {
	return v.Flags&VarFlagArray != 0
}

// FBField is one field of an FB type descriptor. Fixed 4 bytes on the wire.
type FBField struct {
	// Declared type of the field.
	FieldType ValueType `json:"field_type"`

	// Reserved padding byte.
	Reserved uint8 `json:"-"`

	// Extra carries the same type-dependent meaning as VariableEntry.Extra.
	FieldExtra uint16 `json:"field_extra"`
}

// FBTypeDescriptor describes a function block type: its numeric ID and its
// fields in source declaration order.
type FBTypeDescriptor struct {
	TypeID uint16    `json:"type_id"`
	Fields []FBField `json:"fields"`
}

// ArrayDescriptor describes an array type. IEC 61131 arrays carry arbitrary
// signed lower bounds.
type ArrayDescriptor struct {
	ElementType ValueType `json:"element_type"`
	Reserved    uint8     `json:"-"`
	LowerBound  int16     `json:"lower_bound"`
	UpperBound  int16     `json:"upper_bound"`

	// ElementExtra carries the same type-dependent meaning as
	// VariableEntry.Extra, applied to the element type.
	ElementExtra uint16 `json:"element_extra"`
}

// Len returns the number of elements the descriptor declares.
func (a ArrayDescriptor) Len() int {
	return int(a.UpperBound) - int(a.LowerBound) + 1
}

// FunctionSignature declares the parameter and return types of a function,
// used by the verifier to type-check CALL sites.
type FunctionSignature struct {
	FunctionID uint16 `json:"function_id"`

	// ReturnType is a ValueType byte, or VoidType for void functions.
	ReturnType uint8 `json:"return_type"`

	// ParamTypes left-to-right. CALL expects them on the stack
	// bottom-to-top.
	ParamTypes []ValueType `json:"param_types"`
}

// IsVoid reports whether the function returns no value.
func (s FunctionSignature) IsVoid() bool {
	return s.ReturnType == VoidType
}

// ParseTypeSection parses the variable table, FB type descriptors, array
// descriptors and function signatures.
func (f *File) ParseTypeSection() error {
	data := f.SectionBytes(SectionType)
	if data == nil {
		return ErrMissingSection
	}
	pos := 0

	need := func(n int) bool { return pos+n <= len(data) }
	u16 := func() uint16 {
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v
	}

	// Variable table.
	if !need(2) {
		return ErrInsufficientBytes
	}
	numVars := int(u16())
	if !need(numVars * 4) {
		return ErrInsufficientBytes
	}
	f.Variables = make([]VariableEntry, numVars)
	for i := 0; i < numVars; i++ {
		f.Variables[i] = VariableEntry{
			VarType: ValueType(data[pos]),
			Flags:   data[pos+1],
			Extra:   binary.LittleEndian.Uint16(data[pos+2:]),
		}
		pos += 4
	}

	// FB type descriptors: fixed header, variable field tail.
	if !need(2) {
		return ErrInsufficientBytes
	}
	numFBs := int(u16())
	f.FBTypes = make([]FBTypeDescriptor, numFBs)
	for i := 0; i < numFBs; i++ {
		if !need(4) {
			return ErrInsufficientBytes
		}
		typeID := u16()
		numFields := int(u16())
		if !need(numFields * 4) {
			return ErrInsufficientBytes
		}
		fields := make([]FBField, numFields)
		for j := 0; j < numFields; j++ {
			fields[j] = FBField{
				FieldType:  ValueType(data[pos]),
				Reserved:   data[pos+1],
				FieldExtra: binary.LittleEndian.Uint16(data[pos+2:]),
			}
			pos += 4
		}
		f.FBTypes[i] = FBTypeDescriptor{TypeID: typeID, Fields: fields}
	}

	// Array descriptors.
	if !need(2) {
		return ErrInsufficientBytes
	}
	numArrays := int(u16())
	if !need(numArrays * 8) {
		return ErrInsufficientBytes
	}
	f.Arrays = make([]ArrayDescriptor, numArrays)
	for i := 0; i < numArrays; i++ {
		f.Arrays[i] = ArrayDescriptor{
			ElementType:  ValueType(data[pos]),
			Reserved:     data[pos+1],
			LowerBound:   int16(binary.LittleEndian.Uint16(data[pos+2:])),
			UpperBound:   int16(binary.LittleEndian.Uint16(data[pos+4:])),
			ElementExtra: binary.LittleEndian.Uint16(data[pos+6:]),
		}
		pos += 8
	}

	// Function signatures: fixed header, variable param tail.
	if !need(2) {
		return ErrInsufficientBytes
	}
	numSigs := int(u16())
	f.Signatures = make([]FunctionSignature, numSigs)
	for i := 0; i < numSigs; i++ {
		if !need(4) {
			return ErrInsufficientBytes
		}
		funcID := u16()
		numParams := int(data[pos])
		returnType := data[pos+1]
		pos += 2
		if !need(numParams) {
			return ErrInsufficientBytes
		}
		params := make([]ValueType, numParams)
		for j := 0; j < numParams; j++ {
			params[j] = ValueType(data[pos+j])
		}
		pos += numParams
		f.Signatures[i] = FunctionSignature{
			FunctionID: funcID,
			ReturnType: returnType,
			ParamTypes: params,
		}
	}

	return nil
}

// StandardFBDescriptors publishes the field layouts of the VM intrinsic
// function blocks, keyed by intrinsic type ID. The compiler and the
// verifier resolve FB_LOAD_PARAM/FB_STORE_PARAM field indices against these
// descriptors; the vm package sizes the instance arena from them and keeps
// its hidden state beyond the declared fields.
//
// Field order is normative: inputs first, then outputs, matching the IEC
// 61131-3 standard FB declarations.
var StandardFBDescriptors = map[uint16]FBTypeDescriptor{
	FBTypeTON: {TypeID: FBTypeTON, Fields: []FBField{
		{FieldType: TypeI32},  // IN
		{FieldType: TypeTime}, // PT
		{FieldType: TypeI32},  // Q
		{FieldType: TypeTime}, // ET
	}},
	FBTypeTOF: {TypeID: FBTypeTOF, Fields: []FBField{
		{FieldType: TypeI32},  // IN
		{FieldType: TypeTime}, // PT
		{FieldType: TypeI32},  // Q
		{FieldType: TypeTime}, // ET
	}},
	FBTypeTP: {TypeID: FBTypeTP, Fields: []FBField{
		{FieldType: TypeI32},  // IN
		{FieldType: TypeTime}, // PT
		{FieldType: TypeI32},  // Q
		{FieldType: TypeTime}, // ET
	}},
	FBTypeCTU: {TypeID: FBTypeCTU, Fields: []FBField{
		{FieldType: TypeI32}, // CU
		{FieldType: TypeI32}, // RESET
		{FieldType: TypeI32}, // PV
		{FieldType: TypeI32}, // Q
		{FieldType: TypeI32}, // CV
	}},
	FBTypeCTD: {TypeID: FBTypeCTD, Fields: []FBField{
		{FieldType: TypeI32}, // CD
		{FieldType: TypeI32}, // LOAD
		{FieldType: TypeI32}, // PV
		{FieldType: TypeI32}, // Q
		{FieldType: TypeI32}, // CV
	}},
	FBTypeRTrig: {TypeID: FBTypeRTrig, Fields: []FBField{
		{FieldType: TypeI32}, // CLK
		{FieldType: TypeI32}, // Q
	}},
	FBTypeFTrig: {TypeID: FBTypeFTrig, Fields: []FBField{
		{FieldType: TypeI32}, // CLK
		{FieldType: TypeI32}, // Q
	}},
}

// FBDescriptor resolves an FB type ID against the container's descriptors
// or, for intrinsic IDs, against StandardFBDescriptors.
func (f *File) FBDescriptor(typeID uint16) (FBTypeDescriptor, bool) {
	if typeID >= IntrinsicFBBase {
		d, ok := StandardFBDescriptors[typeID]
		return d, ok
	}
	for _, d := range f.FBTypes {
		if d.TypeID == typeID {
			return d, true
		}
	}
	return FBTypeDescriptor{}, false
}
