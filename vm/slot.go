// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"math"

	"github.com/ironplc/iplc"
)

// Slot is one typed storage cell of the operand stack, the variable table
// and the FB instance arena: a tag plus a 64-bit payload wide enough for
// the largest primitive. The verifier guarantees tags match each opcode's
// expectation; the accessors below do not re-check it.
type Slot struct {
	Tag  iplc.StackTag
	Bits uint64
}

// Typed constructors.

func i32Slot(v int32) Slot   { return Slot{Tag: iplc.TagI32, Bits: uint64(uint32(v))} }
func u32Slot(v uint32) Slot  { return Slot{Tag: iplc.TagU32, Bits: uint64(v)} }
func i64Slot(v int64) Slot   { return Slot{Tag: iplc.TagI64, Bits: uint64(v)} }
func u64Slot(v uint64) Slot  { return Slot{Tag: iplc.TagU64, Bits: v} }
func f32Slot(v float32) Slot { return Slot{Tag: iplc.TagF32, Bits: uint64(math.Float32bits(v))} }
func f64Slot(v float64) Slot { return Slot{Tag: iplc.TagF64, Bits: math.Float64bits(v)} }
func boolSlot(b bool) Slot {
	if b {
		return i32Slot(1)
	}
	return i32Slot(0)
}
func strBufSlot(idx uint16) Slot  { return Slot{Tag: iplc.TagStrBuf, Bits: uint64(idx)} }
func wstrBufSlot(idx uint16) Slot { return Slot{Tag: iplc.TagWStrBuf, Bits: uint64(idx)} }
func fbRefSlot(off uint16) Slot   { return Slot{Tag: iplc.TagFBRef, Bits: uint64(off)} }
func timeSlot(us int64) Slot      { return Slot{Tag: iplc.TagTime, Bits: uint64(us)} }

// Typed accessors.

func (s Slot) I32() int32     { return int32(uint32(s.Bits)) }
func (s Slot) U32() uint32    { return uint32(s.Bits) }
func (s Slot) I64() int64     { return int64(s.Bits) }
func (s Slot) U64() uint64    { return s.Bits }
func (s Slot) F32() float32   { return math.Float32frombits(uint32(s.Bits)) }
func (s Slot) F64() float64   { return math.Float64frombits(s.Bits) }
func (s Slot) Bool() bool     { return uint32(s.Bits) != 0 }
func (s Slot) BufIdx() uint16 { return uint16(s.Bits) }
func (s Slot) FBRef() uint16  { return uint16(s.Bits) }
