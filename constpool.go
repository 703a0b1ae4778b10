// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
	"math"
)

// ConstantEntrySize is the fixed prefix of a constant pool entry; the
// payload of declared size follows. The size prefix lets a reader skip
// entries whose type tag it does not understand.
const ConstantEntrySize = 4

// Constant is one typed literal of the constant pool.
type Constant struct {
	// Type tag of the literal.
	Type ConstantType `json:"type"`

	// Reserved padding byte.
	Reserved uint8 `json:"-"`

	// Payload bytes, little-endian for numerics. String literals carry
	// their raw bytes with no terminator: UTF-8 for STRING, UTF-16LE for
	// WSTRING.
	Payload []byte `json:"payload"`
}

// I32 returns the payload as a signed 32-bit value.
func (c Constant) I32() int32 {
	return int32(binary.LittleEndian.Uint32(c.Payload))
}

// U32 returns the payload as an unsigned 32-bit value.
func (c Constant) U32() uint32 {
	return binary.LittleEndian.Uint32(c.Payload)
}

// I64 returns the payload as a signed 64-bit value.
func (c Constant) I64() int64 {
	return int64(binary.LittleEndian.Uint64(c.Payload))
}

// U64 returns the payload as an unsigned 64-bit value.
func (c Constant) U64() uint64 {
	return binary.LittleEndian.Uint64(c.Payload)
}

// F32 returns the payload as a 32-bit float.
func (c Constant) F32() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(c.Payload))
}

// F64 returns the payload as a 64-bit float.
func (c Constant) F64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(c.Payload))
}

// StringValue decodes a STRING or WSTRING literal payload.
func (c Constant) StringValue() (string, error) {
	if c.Type == ConstWString {
		return DecodeUTF16String(c.Payload)
	}
	return string(c.Payload), nil
}

// payloadSizes gives the mandatory payload size of numeric constant types;
// string types are variable.
var payloadSizes = map[ConstantType]int{
	ConstI32: 4, ConstU32: 4, ConstF32: 4,
	ConstI64: 8, ConstU64: 8, ConstF64: 8,
}

// ParseConstantPool parses the constant pool section.
func (f *File) ParseConstantPool() error {
	data := f.SectionBytes(SectionConstantPool)
	if data == nil {
		return ErrMissingSection
	}
	if len(data) < 2 {
		return ErrInsufficientBytes
	}

	numConsts := int(binary.LittleEndian.Uint16(data))
	f.Constants = make([]Constant, 0, numConsts)

	pos := 2
	for i := 0; i < numConsts; i++ {
		if pos+ConstantEntrySize > len(data) {
			return ErrInsufficientBytes
		}
		typ := ConstantType(data[pos])
		reserved := data[pos+1]
		size := int(binary.LittleEndian.Uint16(data[pos+2:]))
		pos += ConstantEntrySize

		if pos+size > len(data) {
			return ErrInsufficientBytes
		}
		if !typ.IsValid() {
			return InvalidConstantTypeError{Value: uint8(typ)}
		}
		if want, fixed := payloadSizes[typ]; fixed && size != want {
			return ErrInsufficientBytes
		}

		payload := make([]byte, size)
		copy(payload, data[pos:pos+size])
		pos += size

		f.Constants = append(f.Constants, Constant{
			Type:     typ,
			Reserved: reserved,
			Payload:  payload,
		})
	}

	return nil
}
