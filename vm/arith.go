// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"math"
	"math/bits"

	"github.com/ironplc/iplc"
)

// Signed overflow handling. The policy applies to full-width signed
// add/sub/mul/neg and to narrowing conversions; unsigned arithmetic
// always wraps, and integer division by zero always traps.

func (x *execCtx) clampI32(wide int64) (int32, *Trap) {
	if wide >= math.MinInt32 && wide <= math.MaxInt32 {
		return int32(wide), nil
	}
	switch x.policy {
	case OverflowSaturate:
		if wide < 0 {
			return math.MinInt32, nil
		}
		return math.MaxInt32, nil
	case OverflowFault:
		return 0, &Trap{Kind: TrapIntegerOverflow}
	default:
		return int32(wide), nil
	}
}

// overflowI64 resolves a 64-bit signed operation that overflowed (detected
// by the caller); wrapped carries the wrapped result and negative selects
// the saturation bound.
func (x *execCtx) overflowI64(wrapped int64, negative bool) (int64, *Trap) {
	switch x.policy {
	case OverflowSaturate:
		if negative {
			return math.MinInt64, nil
		}
		return math.MaxInt64, nil
	case OverflowFault:
		return 0, &Trap{Kind: TrapIntegerOverflow}
	default:
		return wrapped, nil
	}
}

func (x *execCtx) addI64(a, b int64) (int64, *Trap) {
	r := a + b
	if (a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r >= 0) {
		return x.overflowI64(r, a < 0)
	}
	return r, nil
}

func (x *execCtx) subI64(a, b int64) (int64, *Trap) {
	r := a - b
	if (a >= 0 && b < 0 && r < 0) || (a < 0 && b > 0 && r >= 0) {
		return x.overflowI64(r, a < 0)
	}
	return r, nil
}

func (x *execCtx) mulI64(a, b int64) (int64, *Trap) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	r := int64(lo)
	// Adjust the high word for signed operands.
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	if int64(hi) != r>>63 {
		return x.overflowI64(r, (a < 0) != (b < 0))
	}
	return r, nil
}

func (x *execCtx) negI64(a int64) (int64, *Trap) {
	if a == math.MinInt64 {
		return x.overflowI64(math.MinInt64, false)
	}
	return -a, nil
}

func (x *execCtx) divI64(a, b int64) (int64, *Trap) {
	if b == 0 {
		return 0, &Trap{Kind: TrapDivisionByZero}
	}
	if a == math.MinInt64 && b == -1 {
		// The one signed division that overflows.
		return x.overflowI64(math.MinInt64, false)
	}
	return a / b, nil
}

func (x *execCtx) modI64(a, b int64) (int64, *Trap) {
	if b == 0 {
		return 0, &Trap{Kind: TrapDivisionByZero}
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func (x *execCtx) pop2() (Slot, Slot, *Trap) {
	b, trap := x.stack.pop()
	if trap != nil {
		return Slot{}, Slot{}, trap
	}
	a, trap := x.stack.pop()
	if trap != nil {
		return Slot{}, Slot{}, trap
	}
	return a, b, nil
}

func (x *execCtx) execIntArith(op iplc.Opcode) *Trap {
	if op == iplc.OpNegI32 || op == iplc.OpNegI64 {
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		if op == iplc.OpNegI32 {
			r, trap := x.clampI32(-int64(v.I32()))
			if trap != nil {
				return trap
			}
			return x.stack.push(i32Slot(r))
		}
		r, trap := x.negI64(v.I64())
		if trap != nil {
			return trap
		}
		return x.stack.push(i64Slot(r))
	}

	a, b, trap := x.pop2()
	if trap != nil {
		return trap
	}

	var out Slot
	switch op {
	case iplc.OpAddI32:
		r, t := x.clampI32(int64(a.I32()) + int64(b.I32()))
		if t != nil {
			return t
		}
		out = i32Slot(r)
	case iplc.OpSubI32:
		r, t := x.clampI32(int64(a.I32()) - int64(b.I32()))
		if t != nil {
			return t
		}
		out = i32Slot(r)
	case iplc.OpMulI32:
		r, t := x.clampI32(int64(a.I32()) * int64(b.I32()))
		if t != nil {
			return t
		}
		out = i32Slot(r)
	case iplc.OpDivI32:
		if b.I32() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			r, t := x.clampI32(int64(math.MinInt32) * -1)
			if t != nil {
				return t
			}
			out = i32Slot(r)
			break
		}
		out = i32Slot(a.I32() / b.I32())
	case iplc.OpModI32:
		if b.I32() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			out = i32Slot(0)
			break
		}
		out = i32Slot(a.I32() % b.I32())

	case iplc.OpAddU32:
		out = u32Slot(a.U32() + b.U32())
	case iplc.OpSubU32:
		out = u32Slot(a.U32() - b.U32())
	case iplc.OpMulU32:
		out = u32Slot(a.U32() * b.U32())
	case iplc.OpDivU32:
		if b.U32() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		out = u32Slot(a.U32() / b.U32())
	case iplc.OpModU32:
		if b.U32() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		out = u32Slot(a.U32() % b.U32())

	case iplc.OpAddI64:
		r, t := x.addI64(a.I64(), b.I64())
		if t != nil {
			return t
		}
		out = i64Slot(r)
	case iplc.OpSubI64:
		r, t := x.subI64(a.I64(), b.I64())
		if t != nil {
			return t
		}
		out = i64Slot(r)
	case iplc.OpMulI64:
		r, t := x.mulI64(a.I64(), b.I64())
		if t != nil {
			return t
		}
		out = i64Slot(r)
	case iplc.OpDivI64:
		r, t := x.divI64(a.I64(), b.I64())
		if t != nil {
			return t
		}
		out = i64Slot(r)
	case iplc.OpModI64:
		r, t := x.modI64(a.I64(), b.I64())
		if t != nil {
			return t
		}
		out = i64Slot(r)

	case iplc.OpAddU64:
		out = u64Slot(a.U64() + b.U64())
	case iplc.OpSubU64:
		out = u64Slot(a.U64() - b.U64())
	case iplc.OpMulU64:
		out = u64Slot(a.U64() * b.U64())
	case iplc.OpDivU64:
		if b.U64() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		out = u64Slot(a.U64() / b.U64())
	case iplc.OpModU64:
		if b.U64() == 0 {
			return &Trap{Kind: TrapDivisionByZero}
		}
		out = u64Slot(a.U64() % b.U64())
	}
	return x.stack.push(out)
}

func (x *execCtx) execFloatArith(op iplc.Opcode) *Trap {
	if op == iplc.OpNegF32 || op == iplc.OpNegF64 {
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		if op == iplc.OpNegF32 {
			return x.stack.push(f32Slot(-v.F32()))
		}
		return x.stack.push(f64Slot(-v.F64()))
	}

	a, b, trap := x.pop2()
	if trap != nil {
		return trap
	}
	var out Slot
	switch op {
	case iplc.OpAddF32:
		out = f32Slot(a.F32() + b.F32())
	case iplc.OpSubF32:
		out = f32Slot(a.F32() - b.F32())
	case iplc.OpMulF32:
		out = f32Slot(a.F32() * b.F32())
	case iplc.OpDivF32:
		// IEEE 754: division by zero yields an infinity or NaN.
		out = f32Slot(a.F32() / b.F32())
	case iplc.OpAddF64:
		out = f64Slot(a.F64() + b.F64())
	case iplc.OpSubF64:
		out = f64Slot(a.F64() - b.F64())
	case iplc.OpMulF64:
		out = f64Slot(a.F64() * b.F64())
	case iplc.OpDivF64:
		out = f64Slot(a.F64() / b.F64())
	}
	return x.stack.push(out)
}

func (x *execCtx) execBitwise(op iplc.Opcode) *Trap {
	if op == iplc.OpNotBool || op == iplc.OpNotI32 || op == iplc.OpNotI64 {
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		switch op {
		case iplc.OpNotBool:
			return x.stack.push(boolSlot(!v.Bool()))
		case iplc.OpNotI32:
			return x.stack.push(i32Slot(^v.I32()))
		default:
			return x.stack.push(i64Slot(^v.I64()))
		}
	}

	a, b, trap := x.pop2()
	if trap != nil {
		return trap
	}
	var out Slot
	switch op {
	case iplc.OpAndBool:
		out = boolSlot(a.Bool() && b.Bool())
	case iplc.OpOrBool:
		out = boolSlot(a.Bool() || b.Bool())
	case iplc.OpXorBool:
		out = boolSlot(a.Bool() != b.Bool())

	case iplc.OpAndI32:
		out = i32Slot(a.I32() & b.I32())
	case iplc.OpOrI32:
		out = i32Slot(a.I32() | b.I32())
	case iplc.OpXorI32:
		out = i32Slot(a.I32() ^ b.I32())
	case iplc.OpShlI32:
		out = i32Slot(a.I32() << (uint32(b.I32()) & 31))
	case iplc.OpShrI32:
		out = i32Slot(int32(a.U32() >> (uint32(b.I32()) & 31)))
	case iplc.OpSarI32:
		out = i32Slot(a.I32() >> (uint32(b.I32()) & 31))
	case iplc.OpRorI32:
		out = i32Slot(int32(bits.RotateLeft32(a.U32(), -int(uint32(b.I32())&31))))

	case iplc.OpAndI64:
		out = i64Slot(a.I64() & b.I64())
	case iplc.OpOrI64:
		out = i64Slot(a.I64() | b.I64())
	case iplc.OpXorI64:
		out = i64Slot(a.I64() ^ b.I64())
	case iplc.OpShlI64:
		out = i64Slot(a.I64() << (uint64(b.I64()) & 63))
	case iplc.OpShrI64:
		out = i64Slot(int64(a.U64() >> (uint64(b.I64()) & 63)))
	case iplc.OpSarI64:
		out = i64Slot(a.I64() >> (uint64(b.I64()) & 63))
	case iplc.OpRorI64:
		out = i64Slot(int64(bits.RotateLeft64(a.U64(), -int(uint64(b.I64())&63))))
	}
	return x.stack.push(out)
}

func (x *execCtx) execCompare(op iplc.Opcode) *Trap {
	a, b, trap := x.pop2()
	if trap != nil {
		return trap
	}

	family := (op - iplc.OpEqI32) / 6
	pred := (op - iplc.OpEqI32) % 6

	// With a NaN operand lt, eq and gt are all false, which yields the
	// IEEE results: NE true, every ordered predicate false.
	var lt, eq, gt bool
	switch family {
	case 0:
		lt, eq, gt = a.I32() < b.I32(), a.I32() == b.I32(), a.I32() > b.I32()
	case 1:
		lt, eq, gt = a.U32() < b.U32(), a.U32() == b.U32(), a.U32() > b.U32()
	case 2:
		lt, eq, gt = a.F32() < b.F32(), a.F32() == b.F32(), a.F32() > b.F32()
	case 3:
		lt, eq, gt = a.I64() < b.I64(), a.I64() == b.I64(), a.I64() > b.I64()
	case 4:
		lt, eq, gt = a.U64() < b.U64(), a.U64() == b.U64(), a.U64() > b.U64()
	default:
		lt, eq, gt = a.F64() < b.F64(), a.F64() == b.F64(), a.F64() > b.F64()
	}

	var r bool
	switch pred {
	case 0:
		r = eq
	case 1:
		r = !eq
	case 2:
		r = lt
	case 3:
		r = lt || eq
	case 4:
		r = gt
	case 5:
		r = gt || eq
	}
	return x.stack.push(boolSlot(r))
}

// narrowFloatToI64 converts a float to a signed 64-bit integer under the
// overflow policy; NaN narrows to zero under wrap and saturate.
func (x *execCtx) narrowFloatToI64(f float64, lo, hi int64) (int64, *Trap) {
	if f != f {
		if x.policy == OverflowFault {
			return 0, &Trap{Kind: TrapIntegerOverflow}
		}
		return 0, nil
	}
	t := math.Trunc(f)
	if t < float64(lo) || t > float64(hi) {
		switch x.policy {
		case OverflowSaturate:
			if t < 0 {
				return lo, nil
			}
			return hi, nil
		case OverflowFault:
			return 0, &Trap{Kind: TrapIntegerOverflow}
		default:
			// Wrap through the 64-bit representation.
			return int64(uint64(t)), nil
		}
	}
	return int64(t), nil
}

func (x *execCtx) execConvert(op iplc.Opcode) *Trap {
	v, trap := x.stack.pop()
	if trap != nil {
		return trap
	}

	var out Slot
	switch op {
	case iplc.OpI32ToI64:
		out = i64Slot(int64(v.I32()))
	case iplc.OpU32ToU64:
		out = u64Slot(uint64(v.U32()))
	case iplc.OpI64ToI32:
		r, t := x.clampI32(v.I64())
		if t != nil {
			return t
		}
		out = i32Slot(r)
	case iplc.OpU64ToU32:
		w := v.U64()
		if w > math.MaxUint32 {
			switch x.policy {
			case OverflowSaturate:
				out = u32Slot(math.MaxUint32)
			case OverflowFault:
				return &Trap{Kind: TrapIntegerOverflow}
			default:
				out = u32Slot(uint32(w))
			}
		} else {
			out = u32Slot(uint32(w))
		}
	case iplc.OpF32ToF64:
		out = f64Slot(float64(v.F32()))
	case iplc.OpF64ToF32:
		out = f32Slot(float32(v.F64()))
	case iplc.OpI32ToF32:
		out = f32Slot(float32(v.I32()))
	case iplc.OpI32ToF64:
		out = f64Slot(float64(v.I32()))
	case iplc.OpI64ToF64:
		out = f64Slot(float64(v.I64()))
	case iplc.OpF32ToI32:
		r, t := x.narrowFloatToI64(float64(v.F32()), math.MinInt32, math.MaxInt32)
		if t != nil {
			return t
		}
		out = i32Slot(int32(r))
	case iplc.OpF64ToI32:
		r, t := x.narrowFloatToI64(v.F64(), math.MinInt32, math.MaxInt32)
		if t != nil {
			return t
		}
		out = i32Slot(int32(r))
	case iplc.OpF64ToI64:
		r, t := x.narrowFloatToI64(v.F64(), math.MinInt64, math.MaxInt64)
		if t != nil {
			return t
		}
		out = i64Slot(r)
	case iplc.OpU32ToF64:
		out = f64Slot(float64(v.U32()))
	case iplc.OpF64ToU32:
		r, t := x.narrowFloatToI64(v.F64(), 0, math.MaxUint32)
		if t != nil {
			return t
		}
		out = u32Slot(uint32(r))
	case iplc.OpI64ToTime:
		out = timeSlot(v.I64())
	case iplc.OpTimeToI64:
		out = i64Slot(v.I64())
	}
	return x.stack.push(out)
}
