// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"bytes"
	"math"

	"github.com/ironplc/iplc"
)

// execBuiltin dispatches one standard library function by its u16 id. The
// verifier has matched the call site against iplc.BuiltinSignatures.
func (x *execCtx) execBuiltin(f *Frame) *Trap {
	id := f.u16()

	switch {
	case id >= iplc.BuiltinStringBase && id < iplc.BuiltinStringBase+0x100:
		return x.execStringBuiltin(id, x.strPool, 1)
	case id >= iplc.BuiltinWStringBase && id < iplc.BuiltinWStringBase+0x100:
		// WSTRING buffers hold UTF-16LE; character positions and counts
		// scale by the two-byte code unit.
		return x.execStringBuiltin(id, x.wstrPool, 2)
	case id >= iplc.BuiltinNumericBase && id < iplc.BuiltinNumericBase+0x100:
		return x.execNumericBuiltin(id)
	}
	return &Trap{Kind: TrapInvalidFunctionID, Index: id}
}

// execStringBuiltin implements the STRING family; the WSTRING family is
// the same code over the other pool with a 2-byte unit.
func (x *execCtx) execStringBuiltin(id uint16, pool *bufferPool, unit int) *Trap {
	op := id & 0xFF

	pushTemp := func(v []byte) *Trap {
		tmp, ok := pool.temp()
		if !ok {
			return &Trap{Kind: TrapStringPoolExhausted}
		}
		pool.set(tmp, v)
		if unit == 1 {
			return x.stack.push(strBufSlot(tmp))
		}
		return x.stack.push(wstrBufSlot(tmp))
	}

	switch op {
	case 0x00: // LEN
		s, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		return x.stack.push(i32Slot(int32(len(s) / unit)))

	case 0x01: // CONCAT
		b, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		a, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		n := copy(x.scratch, a)
		n += copy(x.scratch[n:], b)
		return pushTemp(x.scratch[:n])

	case 0x02, 0x03: // LEFT, RIGHT
		n, trap := x.popI32()
		if trap != nil {
			return trap
		}
		s, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		ln := clampLen(int(n), len(s)/unit) * unit
		if op == 0x02 {
			return pushTemp(s[:ln])
		}
		return pushTemp(s[len(s)-ln:])

	case 0x04: // MID(str, len, pos) with 1-based pos
		pos, trap := x.popI32()
		if trap != nil {
			return trap
		}
		n, trap := x.popI32()
		if trap != nil {
			return trap
		}
		s, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		chars := len(s) / unit
		start := clampLen(int(pos)-1, chars)
		ln := clampLen(int(n), chars-start)
		return pushTemp(s[start*unit : (start+ln)*unit])

	case 0x05: // DELETE(str, len, pos) with 1-based pos
		pos, trap := x.popI32()
		if trap != nil {
			return trap
		}
		n, trap := x.popI32()
		if trap != nil {
			return trap
		}
		s, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		chars := len(s) / unit
		start := clampLen(int(pos)-1, chars)
		ln := clampLen(int(n), chars-start)
		w := copy(x.scratch, s[:start*unit])
		w += copy(x.scratch[w:], s[(start+ln)*unit:])
		return pushTemp(x.scratch[:w])

	case 0x06: // INSERT(dst, src, pos) with 0 = before first character
		pos, trap := x.popI32()
		if trap != nil {
			return trap
		}
		src, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		dst, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		chars := len(dst) / unit
		at := clampLen(int(pos), chars) * unit
		w := copy(x.scratch, dst[:at])
		w += copy(x.scratch[w:], src)
		w += copy(x.scratch[w:], dst[at:])
		return pushTemp(x.scratch[:w])

	case 0x07: // FIND: 1-based position of the first match, 0 if none
		needle, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		hay, trap := x.popBuf(pool)
		if trap != nil {
			return trap
		}
		i := bytes.Index(hay, needle)
		if i < 0 || i%unit != 0 {
			return x.stack.push(i32Slot(0))
		}
		return x.stack.push(i32Slot(int32(i/unit) + 1))
	}
	return &Trap{Kind: TrapInvalidFunctionID, Index: id}
}

// popBuf pops a buffer index and resolves its contents. The returned
// slice aliases the pool, so callers copy before allocating temps.
func (x *execCtx) popBuf(pool *bufferPool) ([]byte, *Trap) {
	v, trap := x.stack.pop()
	if trap != nil {
		return nil, trap
	}
	return pool.get(v.BufIdx()), nil
}

func (x *execCtx) popI32() (int32, *Trap) {
	v, trap := x.stack.pop()
	if trap != nil {
		return 0, trap
	}
	return v.I32(), nil
}

func clampLen(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func (x *execCtx) execNumericBuiltin(id uint16) *Trap {
	switch id {
	case iplc.BuiltinAbsI32:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		r, t := x.clampI32(absI64(int64(v.I32())))
		if t != nil {
			return t
		}
		return x.stack.push(i32Slot(r))

	case iplc.BuiltinAbsI64:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		if v.I64() == math.MinInt64 {
			r, t := x.overflowI64(math.MinInt64, false)
			if t != nil {
				return t
			}
			return x.stack.push(i64Slot(r))
		}
		return x.stack.push(i64Slot(absI64(v.I64())))

	case iplc.BuiltinAbsF32:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		return x.stack.push(f32Slot(float32(math.Abs(float64(v.F32())))))

	case iplc.BuiltinAbsF64:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		return x.stack.push(f64Slot(math.Abs(v.F64())))

	case iplc.BuiltinSqrtF32:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		return x.stack.push(f32Slot(float32(math.Sqrt(float64(v.F32())))))

	case iplc.BuiltinSqrtF64:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		return x.stack.push(f64Slot(math.Sqrt(v.F64())))
	}

	// MIN/MAX/LIMIT families share shapes across the six numeric types.
	family := int(id-iplc.BuiltinMinI32) / 6
	typ := int(id-iplc.BuiltinMinI32) % 6
	if id >= iplc.BuiltinMinI32 && id <= iplc.BuiltinLimitF64 {
		switch family {
		case 0, 1: // MIN, MAX
			a, b, trap := x.pop2()
			if trap != nil {
				return trap
			}
			aLess := lessByType(typ, a, b)
			pick := a
			if (family == 0) != aLess {
				pick = b
			}
			return x.stack.push(pick)
		case 2: // LIMIT(min, in, max)
			mx, trap := x.stack.pop()
			if trap != nil {
				return trap
			}
			in, trap := x.stack.pop()
			if trap != nil {
				return trap
			}
			mn, trap := x.stack.pop()
			if trap != nil {
				return trap
			}
			out := in
			if lessByType(typ, in, mn) {
				out = mn
			} else if lessByType(typ, mx, in) {
				out = mx
			}
			return x.stack.push(out)
		}
	}
	return &Trap{Kind: TrapInvalidFunctionID, Index: id}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// lessByType compares two slots under the numeric type ordering used by
// the MIN/MAX/LIMIT builtins: 0 I32, 1 U32, 2 I64, 3 U64, 4 F32, 5 F64.
func lessByType(typ int, a, b Slot) bool {
	switch typ {
	case 0:
		return a.I32() < b.I32()
	case 1:
		return a.U32() < b.U32()
	case 2:
		return a.I64() < b.I64()
	case 3:
		return a.U64() < b.U64()
	case 4:
		return a.F32() < b.F32()
	default:
		return a.F64() < b.F64()
	}
}
