// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"encoding/binary"
	"math"

	"github.com/ironplc/iplc"
)

// OverflowPolicy selects what signed integer overflow does at full-width
// add/sub/mul/neg and at narrowing conversions. Division by zero traps
// under every policy.
type OverflowPolicy uint8

// Overflow policies.
const (
	OverflowWrap OverflowPolicy = iota
	OverflowSaturate
	OverflowFault
)

// Frame is one call frame: a function, its bytecode and its program
// counter. All frames share the operand stack.
type Frame struct {
	fn   iplc.FunctionEntry
	code []byte
	pc   int
}

// execCtx is the execution context of one program instance within one
// round. It borrows every piece of memory from the VM; nothing here
// allocates.
type execCtx struct {
	ref      *iplc.ContainerRef
	stack    *Stack
	vars     *VariableTable
	arena    []Slot
	frames   []Frame
	nframes  int
	strPool  *bufferPool
	wstrPool *bufferPool
	scratch  []byte

	input  []byte
	output []byte
	mem    []byte
	task   iplc.TaskEntry

	scope  VariableScope
	policy OverflowPolicy
	nowUS  uint64
}

func tagFor(t iplc.ValueType) iplc.StackTag {
	switch t {
	case iplc.TypeI32:
		return iplc.TagI32
	case iplc.TypeU32:
		return iplc.TagU32
	case iplc.TypeI64:
		return iplc.TagI64
	case iplc.TypeU64:
		return iplc.TagU64
	case iplc.TypeF32:
		return iplc.TagF32
	case iplc.TypeF64:
		return iplc.TagF64
	case iplc.TypeString:
		return iplc.TagStrBuf
	case iplc.TypeWString:
		return iplc.TagWStrBuf
	case iplc.TypeFBInstance:
		return iplc.TagFBRef
	case iplc.TypeTime:
		return iplc.TagTime
	default:
		return iplc.TagNone
	}
}

// runFunction executes an entry function to completion or to a trap. The
// verifier has proven stack and type discipline, so the remaining runtime
// checks are defense in depth against a corrupt or unverified image.
func (x *execCtx) runFunction(entry iplc.FunctionEntry) *Trap {
	x.nframes = 0
	x.stack.Reset()
	if trap := x.pushFrame(entry); trap != nil {
		return trap
	}

	for x.nframes > 0 {
		f := &x.frames[x.nframes-1]
		if f.pc >= len(f.code) {
			// Running off the end completes the function, matching a
			// function with empty bytecode.
			x.nframes--
			continue
		}
		if trap := x.stepInstruction(f); trap != nil {
			return trap
		}
	}
	return nil
}

func (x *execCtx) pushFrame(fn iplc.FunctionEntry) *Trap {
	if x.nframes >= len(x.frames) {
		return &Trap{Kind: TrapCallDepthExceeded}
	}
	x.frames[x.nframes] = Frame{fn: fn, code: x.ref.Bytecode(fn), pc: 0}
	x.nframes++
	return nil
}

// operand readers relative to the frame's pc.
func (f *Frame) u16() uint16 {
	return binary.LittleEndian.Uint16(f.code[f.pc+1:])
}

func (f *Frame) i16() int16 {
	return int16(binary.LittleEndian.Uint16(f.code[f.pc+1:]))
}

func (f *Frame) u8u16() (uint8, uint16) {
	return f.code[f.pc+1], binary.LittleEndian.Uint16(f.code[f.pc+2:])
}

// stepInstruction dispatches exactly one instruction of the top frame.
func (x *execCtx) stepInstruction(f *Frame) *Trap {
	op := iplc.Opcode(f.code[f.pc])
	if !op.IsDefined() {
		return &Trap{Kind: TrapInvalidOpcode, Opcode: byte(op)}
	}
	width := op.Info().Operands.Width()
	if f.pc+1+width > len(f.code) {
		return &Trap{Kind: TrapInvalidOpcode, Opcode: byte(op)}
	}
	next := f.pc + 1 + width

	switch {
	case op == iplc.OpNop || op == iplc.OpBreakpoint || op == iplc.OpLine:
		// BREAKPOINT and LINE are debugger hooks; execution treats them
		// as no-ops.

	case op >= iplc.OpLoadConstI32 && op <= iplc.OpLoadConstWStr:
		if trap := x.execLoadConst(f, op); trap != nil {
			return trap
		}

	case op == iplc.OpLoadTrue:
		if trap := x.stack.push(boolSlot(true)); trap != nil {
			return trap
		}
	case op == iplc.OpLoadFalse:
		if trap := x.stack.push(boolSlot(false)); trap != nil {
			return trap
		}

	case op >= iplc.OpLoadVarI32 && op <= iplc.OpStoreVarWStr:
		if trap := x.execVarAccess(f, op); trap != nil {
			return trap
		}

	case op >= iplc.OpLoadInput && op <= iplc.OpStoreMemory:
		if trap := x.execImageAccess(f, op); trap != nil {
			return trap
		}

	case op == iplc.OpLoadArray || op == iplc.OpStoreArray:
		if trap := x.execArrayAccess(f, op); trap != nil {
			return trap
		}

	case op == iplc.OpLoadField || op == iplc.OpStoreField ||
		op == iplc.OpFBStoreParam || op == iplc.OpFBLoadParam:
		if trap := x.execFieldAccess(f, op); trap != nil {
			return trap
		}

	case op == iplc.OpFBLoadInstance:
		idx := f.u16()
		v, trap := x.vars.Load(idx, x.scope)
		if trap != nil {
			return trap
		}
		if trap := x.stack.push(fbRefSlot(v.FBRef())); trap != nil {
			return trap
		}

	case op == iplc.OpFBCall:
		return x.execFBCall(f, next)

	case op == iplc.OpPop:
		if _, trap := x.stack.pop(); trap != nil {
			return trap
		}
	case op == iplc.OpDup:
		v, trap := x.stack.peek(0)
		if trap != nil {
			return trap
		}
		if trap := x.stack.push(v); trap != nil {
			return trap
		}
	case op == iplc.OpSwap:
		a, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		b, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		if trap := x.stack.push(a); trap != nil {
			return trap
		}
		if trap := x.stack.push(b); trap != nil {
			return trap
		}

	case op >= iplc.OpAddI32 && op <= iplc.OpNegI64:
		if trap := x.execIntArith(op); trap != nil {
			return trap
		}

	case op >= iplc.OpAddF32 && op <= iplc.OpNegF64:
		if trap := x.execFloatArith(op); trap != nil {
			return trap
		}

	case op >= iplc.OpAndBool && op <= iplc.OpRorI64:
		if trap := x.execBitwise(op); trap != nil {
			return trap
		}

	case op >= iplc.OpEqI32 && op <= iplc.OpGeF64:
		if trap := x.execCompare(op); trap != nil {
			return trap
		}

	case op >= iplc.OpI32ToI64 && op <= iplc.OpTimeToI64:
		if trap := x.execConvert(op); trap != nil {
			return trap
		}

	case op == iplc.OpTimeAdd || op == iplc.OpTimeSub:
		b, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		a, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		var r int64
		if op == iplc.OpTimeAdd {
			r = a.I64() + b.I64()
		} else {
			r = a.I64() - b.I64()
		}
		if trap := x.stack.push(timeSlot(r)); trap != nil {
			return trap
		}

	case op == iplc.OpJmp:
		f.pc = next + int(f.i16())
		return nil
	case op == iplc.OpJmpIf || op == iplc.OpJmpIfNot:
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		taken := v.Bool() == (op == iplc.OpJmpIf)
		if taken {
			f.pc = next + int(f.i16())
		} else {
			f.pc = next
		}
		return nil

	case op == iplc.OpCall:
		id := f.u16()
		callee, ok := x.ref.FunctionByID(id)
		if !ok {
			return &Trap{Kind: TrapInvalidFunctionID, Index: id}
		}
		f.pc = next
		return x.pushFrame(callee)

	case op == iplc.OpRet || op == iplc.OpRetVoid:
		x.nframes--
		return nil

	case op == iplc.OpBuiltin:
		if trap := x.execBuiltin(f); trap != nil {
			return trap
		}

	default:
		return &Trap{Kind: TrapInvalidOpcode, Opcode: byte(op)}
	}

	f.pc = next
	return nil
}

func (x *execCtx) execLoadConst(f *Frame, op iplc.Opcode) *Trap {
	idx := f.u16()
	if idx >= x.ref.NumConstants() {
		return &Trap{Kind: TrapInvalidConstantIndex, Index: idx}
	}
	ctype, payload := x.ref.ConstantAt(idx)

	var v Slot
	switch op {
	case iplc.OpLoadConstI32:
		v = i32Slot(int32(binary.LittleEndian.Uint32(payload)))
	case iplc.OpLoadConstU32:
		v = u32Slot(binary.LittleEndian.Uint32(payload))
	case iplc.OpLoadConstI64:
		v = i64Slot(int64(binary.LittleEndian.Uint64(payload)))
	case iplc.OpLoadConstU64:
		v = u64Slot(binary.LittleEndian.Uint64(payload))
	case iplc.OpLoadConstF32:
		v = f32Slot(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
	case iplc.OpLoadConstF64:
		v = f64Slot(math.Float64frombits(binary.LittleEndian.Uint64(payload)))
	case iplc.OpLoadConstStr:
		if ctype != iplc.ConstString {
			return &Trap{Kind: TrapInvalidConstantIndex, Index: idx}
		}
		tmp, ok := x.strPool.temp()
		if !ok {
			return &Trap{Kind: TrapStringPoolExhausted}
		}
		x.strPool.set(tmp, payload)
		v = strBufSlot(tmp)
	case iplc.OpLoadConstWStr:
		if ctype != iplc.ConstWString {
			return &Trap{Kind: TrapInvalidConstantIndex, Index: idx}
		}
		tmp, ok := x.wstrPool.temp()
		if !ok {
			return &Trap{Kind: TrapStringPoolExhausted}
		}
		x.wstrPool.set(tmp, payload)
		v = wstrBufSlot(tmp)
	}
	return x.stack.push(v)
}

func (x *execCtx) execVarAccess(f *Frame, op iplc.Opcode) *Trap {
	idx := f.u16()

	switch op {
	case iplc.OpLoadVarStr, iplc.OpLoadVarWStr:
		v, trap := x.vars.Load(idx, x.scope)
		if trap != nil {
			return trap
		}
		// The variable slot holds the variable's own buffer index; stack
		// operations copy only the index.
		return x.stack.push(v)

	case iplc.OpStoreVarStr, iplc.OpStoreVarWStr:
		src, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		dst, trap := x.vars.Load(idx, x.scope)
		if trap != nil {
			return trap
		}
		entry := x.ref.Variable(idx)
		pool := x.strPool
		if op == iplc.OpStoreVarWStr {
			pool = x.wstrPool
		}
		// Store copies buffer contents, truncating to the declared
		// maximum length.
		max := int(entry.Extra)
		if op == iplc.OpStoreVarWStr {
			max *= 2
		}
		pool.setCapped(dst.BufIdx(), pool.get(src.BufIdx()), max)
		return nil
	}

	isStore := op >= iplc.OpStoreVarI32 && op <= iplc.OpStoreVarF64
	if isStore {
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		return x.vars.Store(idx, v, x.scope)
	}
	v, trap := x.vars.Load(idx, x.scope)
	if trap != nil {
		return trap
	}
	return x.stack.push(v)
}

// regionWidth returns the byte width of a process image region access.
func regionWidth(region uint8) int {
	switch region {
	case iplc.RegionBit:
		return 0
	case iplc.RegionByte:
		return 1
	case iplc.RegionWord:
		return 2
	case iplc.RegionDword:
		return 4
	default:
		return 8
	}
}

func (x *execCtx) execImageAccess(f *Frame, op iplc.Opcode) *Trap {
	region, off := f.u8u16()
	if region > iplc.RegionLword {
		return &Trap{Kind: TrapInvalidOpcode, Opcode: byte(op)}
	}

	var img []byte
	switch op {
	case iplc.OpLoadInput:
		img = x.taskWindow(x.input, x.task.InputImageOffset, x.task.InputImageSize)
	case iplc.OpStoreOutput:
		img = x.taskWindow(x.output, x.task.OutputImageOffset, x.task.OutputImageSize)
	default:
		img = x.mem
	}

	isStore := op == iplc.OpStoreOutput || op == iplc.OpStoreMemory

	if region == iplc.RegionBit {
		byteIdx := int(off) / 8
		bit := uint(off) % 8
		if byteIdx >= len(img) {
			return &Trap{Kind: TrapImageOutOfBounds}
		}
		if isStore {
			v, trap := x.stack.pop()
			if trap != nil {
				return trap
			}
			if v.Bool() {
				img[byteIdx] |= 1 << bit
			} else {
				img[byteIdx] &^= 1 << bit
			}
			return nil
		}
		return x.stack.push(boolSlot(img[byteIdx]&(1<<bit) != 0))
	}

	w := regionWidth(region)
	if int(off)+w > len(img) {
		return &Trap{Kind: TrapImageOutOfBounds}
	}
	win := img[off:]

	if isStore {
		v, trap := x.stack.pop()
		if trap != nil {
			return trap
		}
		switch region {
		case iplc.RegionByte:
			win[0] = byte(v.U32())
		case iplc.RegionWord:
			binary.LittleEndian.PutUint16(win, uint16(v.U32()))
		case iplc.RegionDword:
			binary.LittleEndian.PutUint32(win, v.U32())
		default:
			binary.LittleEndian.PutUint64(win, v.U64())
		}
		return nil
	}

	var v Slot
	switch region {
	case iplc.RegionByte:
		v = i32Slot(int32(win[0]))
	case iplc.RegionWord:
		v = i32Slot(int32(binary.LittleEndian.Uint16(win)))
	case iplc.RegionDword:
		v = u32Slot(binary.LittleEndian.Uint32(win))
	default:
		v = u64Slot(binary.LittleEndian.Uint64(win))
	}
	return x.stack.push(v)
}

func (x *execCtx) taskWindow(img []byte, off, size uint16) []byte {
	end := int(off) + int(size)
	if end > len(img) {
		return nil
	}
	return img[off:end]
}

func (x *execCtx) execArrayAccess(f *Frame, op iplc.Opcode) *Trap {
	_, varIdx := f.u8u16()
	v, trap := x.vars.Load(varIdx, x.scope)
	if trap != nil {
		return trap
	}
	entry := x.ref.Variable(varIdx)
	if !entry.IsArray() || entry.Extra >= x.ref.NumArrayDescs() {
		return &Trap{Kind: TrapInvalidVariableIndex, Index: varIdx}
	}
	desc := x.ref.ArrayDesc(entry.Extra)
	base := int(v.Bits)

	var value Slot
	if op == iplc.OpStoreArray {
		value, trap = x.stack.pop()
		if trap != nil {
			return trap
		}
	}
	idxSlot, trap := x.stack.pop()
	if trap != nil {
		return trap
	}
	i := idxSlot.I32()
	if i < int32(desc.LowerBound) || i > int32(desc.UpperBound) {
		return &Trap{
			Kind:       TrapArrayOutOfBounds,
			ArrayIndex: i,
			Lower:      int32(desc.LowerBound),
			Upper:      int32(desc.UpperBound),
		}
	}
	slot := base + int(i-int32(desc.LowerBound))
	if slot >= len(x.arena) {
		return &Trap{Kind: TrapInvalidVariableIndex, Index: varIdx}
	}

	if op == iplc.OpStoreArray {
		x.arena[slot] = value
		return nil
	}
	elem := x.arena[slot]
	elem.Tag = tagFor(desc.ElementType)
	return x.stack.push(elem)
}

func (x *execCtx) execFieldAccess(f *Frame, op iplc.Opcode) *Trap {
	fieldType, fieldIdx := f.u8u16()
	isStore := op == iplc.OpStoreField || op == iplc.OpFBStoreParam

	var value Slot
	var trap *Trap
	if isStore {
		value, trap = x.stack.pop()
		if trap != nil {
			return trap
		}
	}
	ref, trap := x.stack.pop()
	if trap != nil {
		return trap
	}
	slot := int(ref.FBRef()) + int(fieldIdx)
	if slot >= len(x.arena) {
		return &Trap{Kind: TrapInvalidVariableIndex, Index: fieldIdx}
	}

	if isStore {
		x.arena[slot] = value
		if op == iplc.OpFBStoreParam {
			return x.stack.push(ref)
		}
		return nil
	}
	v := x.arena[slot]
	v.Tag = tagFor(iplc.ValueType(fieldType))
	return x.stack.push(v)
}

func (x *execCtx) execFBCall(f *Frame, next int) *Trap {
	typeID := f.u16()
	ref, trap := x.stack.pop()
	if trap != nil {
		return trap
	}

	if typeID >= iplc.IntrinsicFBBase {
		n := intrinsicSlots(typeID)
		base := int(ref.FBRef())
		if n == 0 || base+n > len(x.arena) {
			return &Trap{Kind: TrapInvalidFunctionID, Index: typeID}
		}
		runIntrinsic(typeID, x.arena[base:base+n], x.nowUS)
		f.pc = next
		return nil
	}

	// User FB bodies are the function whose ID equals the type ID; the
	// instance reference is re-pushed as its single argument.
	body, ok := x.ref.FunctionByID(typeID)
	if !ok {
		return &Trap{Kind: TrapInvalidFunctionID, Index: typeID}
	}
	if trap := x.stack.push(ref); trap != nil {
		return trap
	}
	f.pc = next
	return x.pushFrame(body)
}
