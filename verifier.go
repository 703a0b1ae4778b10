// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
	"fmt"
)

// Verifier rule codes. Every rejection carries one of these plus the
// function, the byte offset and the offending values.
const (
	RuleValidOpcode    = "R0001"
	RuleOperandBounds  = "R0002"
	RuleConstType      = "R0100"
	RuleVarType        = "R0101"
	RuleArrayElemType  = "R0102"
	RuleMergeDepth     = "R0200"
	RuleMergeType      = "R0201"
	RuleStackUnderflow = "R0202"
	RuleStackOverflow  = "R0203"
	RuleOperandType    = "R0300"
	RuleCallParamType  = "R0301"
	RuleFieldType      = "R0302"
	RuleJumpTarget     = "R0400"
	RuleReturnPath     = "R0401"
	RuleCallDepth      = "R0402"
	RuleCallCycle      = "R0403"
	RuleFBRefProtocol  = "R0500"
	RuleImageRegion    = "R0600"
	RuleTimeSubtype    = "R0601"
)

// VerifierError is one static rejection of the bytecode.
type VerifierError struct {
	// Rule is the R-code of the violated rule class.
	Rule string `json:"rule"`

	// FunctionID locates the function; Offset the instruction inside its
	// bytecode.
	FunctionID uint16 `json:"function_id"`
	Offset     uint32 `json:"offset"`

	// Detail names the specific values that failed.
	Detail string `json:"detail"`
}

func (e *VerifierError) Error() string {
	return fmt.Sprintf("%s: function %d offset 0x%x: %s",
		e.Rule, e.FunctionID, e.Offset, e.Detail)
}

// absType is one abstract stack slot: a tag plus, for fb_ref slots, the FB
// type ID the reference points at.
type absType struct {
	tag StackTag
	aux uint16
}

func at(tag StackTag) absType { return absType{tag: tag} }

func (a absType) String() string {
	if a.tag == TagFBRef {
		return fmt.Sprintf("fb_ref(%d)", a.aux)
	}
	return a.tag.String()
}

// absState is the abstract machine state at one instruction boundary.
// Merging requires depth and every slot to match exactly; the instruction
// set has no subtyping at merge points.
type absState struct {
	slots []absType
}

func (s *absState) depth() int { return len(s.slots) }

func (s *absState) clone() *absState {
	c := make([]absType, len(s.slots))
	copy(c, s.slots)
	return &absState{slots: c}
}

func (s *absState) equal(o *absState) bool {
	if len(s.slots) != len(o.slots) {
		return false
	}
	for i := range s.slots {
		if s.slots[i] != o.slots[i] {
			return false
		}
	}
	return true
}

// verifier holds the per-container verification context.
type verifier struct {
	ref  *ContainerRef
	errs []*VerifierError

	// calls collects the static call graph: function ID -> callee IDs.
	calls map[uint16][]uint16
}

// Verify proves that every function in the container respects type, stack
// and control-flow discipline. It returns every rejection found; only the
// first is guaranteed accurate, as later errors may cascade from the
// first.
func Verify(ref *ContainerRef) []*VerifierError {
	v := &verifier{
		ref:   ref,
		calls: make(map[uint16][]uint16),
	}
	for i := uint16(0); i < ref.NumFunctions(); i++ {
		v.verifyFunction(ref.Function(i))
	}
	if len(v.errs) == 0 {
		v.checkCallGraph()
	}
	return v.errs
}

func (v *verifier) failf(rule string, funcID uint16, offset uint32,
	format string, args ...interface{}) {
	v.errs = append(v.errs, &VerifierError{
		Rule:       rule,
		FunctionID: funcID,
		Offset:     offset,
		Detail:     fmt.Sprintf(format, args...),
	})
}

// scanBoundaries walks the bytecode linearly and returns the set of valid
// instruction start offsets, or false when the stream is malformed.
func (v *verifier) scanBoundaries(fn FunctionEntry, code []byte) ([]bool, bool) {
	starts := make([]bool, len(code))
	pc := 0
	for pc < len(code) {
		op := Opcode(code[pc])
		if !op.IsDefined() {
			v.failf(RuleValidOpcode, fn.FunctionID, uint32(pc),
				"undefined opcode 0x%02x", byte(op))
			return nil, false
		}
		w := op.Info().Operands.Width()
		if pc+1+w > len(code) {
			v.failf(RuleValidOpcode, fn.FunctionID, uint32(pc),
				"%s operand truncated", op)
			return nil, false
		}
		starts[pc] = true
		pc += 1 + w
	}
	return starts, true
}

// entryState builds the abstract entry state of a function: its declared
// parameters on the stack, bottom-to-top. Program entry functions are
// void and parameterless, so they start at depth zero.
func (v *verifier) entryState(fn FunctionEntry) (*absState, []byte, bool) {
	sigIdx, ok := v.ref.SignatureByFuncID(fn.FunctionID)
	if !ok {
		v.failf(RuleOperandBounds, fn.FunctionID, 0,
			"function %d has no signature", fn.FunctionID)
		return nil, nil, false
	}
	_, retType, params := v.ref.SignatureAt(sigIdx)
	state := &absState{}
	for _, p := range params {
		vt := ValueType(p)
		if !vt.IsValid() {
			v.failf(RuleOperandBounds, fn.FunctionID, 0,
				"invalid parameter type 0x%02x", p)
			return nil, nil, false
		}
		slot := at(tagOf(vt))
		if vt == TypeFBInstance {
			// FB_INSTANCE parameters occur only on FB body functions,
			// whose ID is the FB type ID; the reference is typed with it
			// so field access inside the body checks out.
			if _, ok := v.ref.FBDescriptorIndex(fn.FunctionID); !ok {
				v.failf(RuleOperandBounds, fn.FunctionID, 0,
					"FB_INSTANCE parameter on non-FB function %d",
					fn.FunctionID)
				return nil, nil, false
			}
			slot.aux = fn.FunctionID
		}
		state.slots = append(state.slots, slot)
	}
	if retType != VoidType && !ValueType(retType).IsValid() {
		v.failf(RuleOperandBounds, fn.FunctionID, 0,
			"invalid return type 0x%02x", retType)
		return nil, nil, false
	}
	return state, params, true
}

func (v *verifier) verifyFunction(fn FunctionEntry) {
	code := v.ref.Bytecode(fn)
	if len(code) == 0 {
		// An empty function completes when pc reaches the end.
		return
	}

	starts, ok := v.scanBoundaries(fn, code)
	if !ok {
		return
	}
	entry, _, ok := v.entryState(fn)
	if !ok {
		return
	}

	states := make(map[int]*absState)
	states[0] = entry
	worklist := []int{0}

	for len(worklist) > 0 {
		pc := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		in := states[pc]
		succs, out, ok := v.step(fn, code, pc, in.clone())
		if !ok {
			return
		}
		if len(out.slots) > int(fn.MaxStackDepth) {
			v.failf(RuleStackOverflow, fn.FunctionID, uint32(pc),
				"depth %d exceeds declared max %d",
				len(out.slots), fn.MaxStackDepth)
			return
		}

		for _, succ := range succs {
			if succ == len(code) {
				v.failf(RuleReturnPath, fn.FunctionID, uint32(pc),
					"control falls off the end of the function")
				return
			}
			if succ < 0 || succ > len(code) || !starts[succ] {
				v.failf(RuleJumpTarget, fn.FunctionID, uint32(pc),
					"jump target 0x%x is not an instruction boundary", succ)
				return
			}
			if prev, seen := states[succ]; seen {
				if prev.depth() != out.depth() {
					v.failf(RuleMergeDepth, fn.FunctionID, uint32(succ),
						"incoming stack depths %d and %d",
						prev.depth(), out.depth())
					return
				}
				if !prev.equal(out) {
					v.failf(RuleMergeType, fn.FunctionID, uint32(succ),
						"incoming stack types %v and %v",
						prev.slots, out.slots)
					return
				}
			} else {
				states[succ] = out.clone()
				worklist = append(worklist, succ)
			}
		}
	}
}

// pop removes and returns the top abstract slot.
func (v *verifier) pop(fn FunctionEntry, pc int, op Opcode,
	s *absState) (absType, bool) {
	if s.depth() == 0 {
		v.failf(RuleStackUnderflow, fn.FunctionID, uint32(pc),
			"%s consumes more operands than the stack holds", op)
		return absType{}, false
	}
	top := s.slots[s.depth()-1]
	s.slots = s.slots[:s.depth()-1]
	return top, true
}

// popWant pops the top slot and requires an exact tag.
func (v *verifier) popWant(fn FunctionEntry, pc int, op Opcode,
	s *absState, want StackTag) bool {
	got, ok := v.pop(fn, pc, op, s)
	if !ok {
		return false
	}
	if got.tag != want {
		rule := RuleOperandType
		switch {
		case want == TagTime && got.tag == TagI64:
			rule = RuleTimeSubtype
		case want == TagFBRef:
			rule = RuleFBRefProtocol
		}
		v.failf(rule, fn.FunctionID, uint32(pc),
			"%s wants %s on the stack, found %s", op, want, got)
		return false
	}
	return true
}

func (v *verifier) push(s *absState, t absType) {
	s.slots = append(s.slots, t)
}

// operand readers.
func opU16(code []byte, pc int) uint16 {
	return binary.LittleEndian.Uint16(code[pc+1:])
}

func opU8U16(code []byte, pc int) (uint8, uint16) {
	return code[pc+1], binary.LittleEndian.Uint16(code[pc+2:])
}

func opI16(code []byte, pc int) int16 {
	return int16(binary.LittleEndian.Uint16(code[pc+1:]))
}

// step applies one instruction to the abstract state, returning successor
// offsets. Terminators return no successors.
func (v *verifier) step(fn FunctionEntry, code []byte, pc int,
	s *absState) ([]int, *absState, bool) {

	op := Opcode(code[pc])
	info := op.Info()
	next := pc + 1 + info.Operands.Width()
	fid := fn.FunctionID

	switch {
	case op == OpNop || op == OpBreakpoint || op == OpLine:
		return []int{next}, s, true

	case isFixedEffect(op):
		// Table-driven: pop declared inputs top-down (table lists them
		// bottom-to-top), push declared outputs.
		for i := len(info.Pop) - 1; i >= 0; i-- {
			if !v.popWant(fn, pc, op, s, info.Pop[i]) {
				return nil, nil, false
			}
		}
		for _, t := range info.Push {
			v.push(s, at(t))
		}
		// LOAD_CONST additionally checks the pool entry (R0002/R0100).
		if op >= OpLoadConstI32 && op <= OpLoadConstWStr {
			idx := opU16(code, pc)
			if idx >= v.ref.NumConstants() {
				v.failf(RuleOperandBounds, fid, uint32(pc),
					"constant index %d out of range %d",
					idx, v.ref.NumConstants())
				return nil, nil, false
			}
			ctype, _ := v.ref.ConstantAt(idx)
			want := constTypeFor(op)
			if ctype != want {
				v.failf(RuleConstType, fid, uint32(pc),
					"%s references %s constant %d", op, ctype, idx)
				return nil, nil, false
			}
		}
		switch op {
		case OpJmp:
			return []int{jumpTarget(pc, next, code)}, s, true
		case OpJmpIf, OpJmpIfNot:
			return []int{next, jumpTarget(pc, next, code)}, s, true
		}
		return []int{next}, s, true

	case op >= OpLoadVarI32 && op <= OpStoreVarWStr:
		return v.stepVarAccess(fn, code, pc, next, s)

	case op >= OpLoadInput && op <= OpStoreMemory:
		return v.stepImageAccess(fn, code, pc, next, s)

	case op == OpLoadArray || op == OpStoreArray:
		return v.stepArrayAccess(fn, code, pc, next, s)

	case op == OpLoadField || op == OpStoreField ||
		op == OpFBStoreParam || op == OpFBLoadParam:
		return v.stepFieldAccess(fn, code, pc, next, s)

	case op == OpFBLoadInstance:
		idx := opU16(code, pc)
		entry, ok := v.variableAt(fn, pc, idx)
		if !ok {
			return nil, nil, false
		}
		if entry.VarType != TypeFBInstance {
			v.failf(RuleVarType, fid, uint32(pc),
				"FB_LOAD_INSTANCE on %s variable %d", entry.VarType, idx)
			return nil, nil, false
		}
		v.push(s, absType{tag: TagFBRef, aux: entry.Extra})
		return []int{next}, s, true

	case op == OpFBCall:
		typeID := opU16(code, pc)
		got, ok := v.pop(fn, pc, op, s)
		if !ok {
			return nil, nil, false
		}
		if got.tag != TagFBRef || got.aux != typeID {
			v.failf(RuleFBRefProtocol, fid, uint32(pc),
				"FB_CALL type %d on %s", typeID, got)
			return nil, nil, false
		}
		if _, ok := v.fbDescriptor(typeID); !ok {
			v.failf(RuleOperandBounds, fid, uint32(pc),
				"FB_CALL references undefined type %d", typeID)
			return nil, nil, false
		}
		if typeID < IntrinsicFBBase {
			// User FB bodies are the function whose ID equals the type
			// ID; record the call edge.
			if _, ok := v.ref.FunctionByID(typeID); !ok {
				v.failf(RuleOperandBounds, fid, uint32(pc),
					"FB type %d has no body function", typeID)
				return nil, nil, false
			}
			v.calls[fid] = append(v.calls[fid], typeID)
		}
		return []int{next}, s, true

	case op == OpPop:
		if _, ok := v.pop(fn, pc, op, s); !ok {
			return nil, nil, false
		}
		return []int{next}, s, true

	case op == OpDup:
		top, ok := v.pop(fn, pc, op, s)
		if !ok {
			return nil, nil, false
		}
		v.push(s, top)
		v.push(s, top)
		return []int{next}, s, true

	case op == OpSwap:
		a, ok := v.pop(fn, pc, op, s)
		if !ok {
			return nil, nil, false
		}
		b, ok := v.pop(fn, pc, op, s)
		if !ok {
			return nil, nil, false
		}
		v.push(s, a)
		v.push(s, b)
		return []int{next}, s, true

	case op == OpCall:
		return v.stepCall(fn, code, pc, next, s)

	case op == OpRet, op == OpRetVoid:
		return v.stepReturn(fn, code, pc, op, s)

	case op == OpBuiltin:
		id := opU16(code, pc)
		sig, ok := BuiltinSignatures[id]
		if !ok {
			v.failf(RuleOperandBounds, fid, uint32(pc),
				"undefined builtin 0x%04x", id)
			return nil, nil, false
		}
		for i := len(sig.Pop) - 1; i >= 0; i-- {
			if !v.popWant(fn, pc, op, s, sig.Pop[i]) {
				return nil, nil, false
			}
		}
		for _, t := range sig.Push {
			v.push(s, at(t))
		}
		return []int{next}, s, true
	}

	v.failf(RuleValidOpcode, fid, uint32(pc), "unhandled opcode %s", op)
	return nil, nil, false
}

func jumpTarget(pc, next int, code []byte) int {
	return next + int(opI16(code, pc))
}

// isFixedEffect reports whether the opcode's stack effect comes straight
// from the Opcodes table.
func isFixedEffect(op Opcode) bool {
	info := op.Info()
	if info.Mnemonic == "" {
		return false
	}
	switch op {
	case OpPop, OpDup, OpSwap, OpCall, OpRet, OpRetVoid, OpBuiltin,
		OpFBLoadInstance, OpFBStoreParam, OpFBLoadParam, OpFBCall,
		OpLoadArray, OpStoreArray, OpLoadField, OpStoreField,
		OpLoadInput, OpStoreOutput, OpLoadMemory, OpStoreMemory,
		OpNop, OpBreakpoint, OpLine:
		return false
	}
	if op >= OpLoadVarI32 && op <= OpStoreVarWStr {
		return false
	}
	return true
}

func constTypeFor(op Opcode) ConstantType {
	switch op {
	case OpLoadConstI32:
		return ConstI32
	case OpLoadConstU32:
		return ConstU32
	case OpLoadConstI64:
		return ConstI64
	case OpLoadConstU64:
		return ConstU64
	case OpLoadConstF32:
		return ConstF32
	case OpLoadConstF64:
		return ConstF64
	case OpLoadConstStr:
		return ConstString
	default:
		return ConstWString
	}
}

func (v *verifier) variableAt(fn FunctionEntry, pc int, idx uint16) (VariableEntry, bool) {
	if idx >= v.ref.NumVariables() {
		v.failf(RuleOperandBounds, fn.FunctionID, uint32(pc),
			"variable index %d out of range %d", idx, v.ref.NumVariables())
		return VariableEntry{}, false
	}
	return v.ref.Variable(idx), true
}

// varAccessInfo maps the typed variable access opcodes onto their declared
// variable type and whether they store.
func varAccessInfo(op Opcode) (vt ValueType, isStore bool) {
	switch op {
	case OpLoadVarI32, OpStoreVarI32:
		vt = TypeI32
	case OpLoadVarU32, OpStoreVarU32:
		vt = TypeU32
	case OpLoadVarI64, OpStoreVarI64:
		vt = TypeI64
	case OpLoadVarU64, OpStoreVarU64:
		vt = TypeU64
	case OpLoadVarF32, OpStoreVarF32:
		vt = TypeF32
	case OpLoadVarF64, OpStoreVarF64:
		vt = TypeF64
	case OpLoadVarStr, OpStoreVarStr:
		vt = TypeString
	case OpLoadVarWStr, OpStoreVarWStr:
		vt = TypeWString
	}
	switch op {
	case OpStoreVarI32, OpStoreVarU32, OpStoreVarI64, OpStoreVarU64,
		OpStoreVarF32, OpStoreVarF64, OpStoreVarStr, OpStoreVarWStr:
		isStore = true
	}
	return
}

func (v *verifier) stepVarAccess(fn FunctionEntry, code []byte, pc, next int,
	s *absState) ([]int, *absState, bool) {

	op := Opcode(code[pc])
	idx := opU16(code, pc)
	entry, ok := v.variableAt(fn, pc, idx)
	if !ok {
		return nil, nil, false
	}
	wantType, isStore := varAccessInfo(op)

	// The I64 access pair doubles as the TIME access pair; the abstract
	// tag keeps the subtypes apart.
	tag := tagOf(wantType)
	matches := entry.VarType == wantType
	if wantType == TypeI64 && entry.VarType == TypeTime {
		matches = true
		tag = TagTime
	}
	if entry.IsArray() || !matches {
		v.failf(RuleVarType, fn.FunctionID, uint32(pc),
			"%s on variable %d declared %s", op, idx, entry.VarType)
		return nil, nil, false
	}

	if isStore {
		if !v.popWant(fn, pc, op, s, tag) {
			return nil, nil, false
		}
	} else {
		v.push(s, at(tag))
	}
	return []int{next}, s, true
}

// imageRegionTag maps a process image region byte to the stack tag its
// access pushes or consumes.
func imageRegionTag(region uint8) (StackTag, bool) {
	switch region {
	case RegionBit, RegionByte, RegionWord:
		return TagI32, true
	case RegionDword:
		return TagU32, true
	case RegionLword:
		return TagU64, true
	default:
		return TagNone, false
	}
}

func (v *verifier) stepImageAccess(fn FunctionEntry, code []byte, pc, next int,
	s *absState) ([]int, *absState, bool) {

	op := Opcode(code[pc])
	region, _ := opU8U16(code, pc)
	tag, ok := imageRegionTag(region)
	if !ok {
		v.failf(RuleImageRegion, fn.FunctionID, uint32(pc),
			"%s region byte %d not in {0,1,2,3,4}", op, region)
		return nil, nil, false
	}
	if op == OpStoreOutput || op == OpStoreMemory {
		if !v.popWant(fn, pc, op, s, tag) {
			return nil, nil, false
		}
	} else {
		v.push(s, at(tag))
	}
	return []int{next}, s, true
}

func (v *verifier) stepArrayAccess(fn FunctionEntry, code []byte, pc, next int,
	s *absState) ([]int, *absState, bool) {

	op := Opcode(code[pc])
	elemByte, idx := opU8U16(code, pc)
	entry, ok := v.variableAt(fn, pc, idx)
	if !ok {
		return nil, nil, false
	}
	if !entry.IsArray() {
		v.failf(RuleVarType, fn.FunctionID, uint32(pc),
			"%s on non-array variable %d", op, idx)
		return nil, nil, false
	}
	if entry.Extra >= v.ref.NumArrayDescs() {
		v.failf(RuleOperandBounds, fn.FunctionID, uint32(pc),
			"array descriptor %d out of range %d",
			entry.Extra, v.ref.NumArrayDescs())
		return nil, nil, false
	}
	desc := v.ref.ArrayDesc(entry.Extra)
	if ValueType(elemByte) != desc.ElementType {
		v.failf(RuleArrayElemType, fn.FunctionID, uint32(pc),
			"%s element type %s does not match descriptor %s",
			op, ValueType(elemByte), desc.ElementType)
		return nil, nil, false
	}
	elemTag := tagOf(desc.ElementType)

	if op == OpStoreArray {
		// [index, value] with value on top.
		if !v.popWant(fn, pc, op, s, elemTag) {
			return nil, nil, false
		}
		if !v.popWant(fn, pc, op, s, TagI32) {
			return nil, nil, false
		}
	} else {
		if !v.popWant(fn, pc, op, s, TagI32) {
			return nil, nil, false
		}
		v.push(s, at(elemTag))
	}
	return []int{next}, s, true
}

func (v *verifier) fbDescriptor(typeID uint16) (FBTypeDescriptor, bool) {
	if typeID >= IntrinsicFBBase {
		d, ok := StandardFBDescriptors[typeID]
		return d, ok
	}
	i, ok := v.ref.FBDescriptorIndex(typeID)
	if !ok {
		return FBTypeDescriptor{}, false
	}
	n := v.ref.FBNumFields(i)
	fields := make([]FBField, n)
	for j := uint16(0); j < n; j++ {
		fields[j] = v.ref.FBFieldAt(i, j)
	}
	return FBTypeDescriptor{TypeID: typeID, Fields: fields}, true
}

// stepFieldAccess covers LOAD_FIELD/STORE_FIELD and the FB parameter
// protocol. All four address a field of the FB instance referenced on the
// stack; they differ in whether the fb_ref survives the instruction.
func (v *verifier) stepFieldAccess(fn FunctionEntry, code []byte, pc, next int,
	s *absState) ([]int, *absState, bool) {

	op := Opcode(code[pc])
	fieldTypeByte, fieldIdx := opU8U16(code, pc)
	fid := fn.FunctionID
	isStore := op == OpStoreField || op == OpFBStoreParam

	var value absType
	if isStore {
		// fb_ref second-from-top, value on top.
		got, ok := v.pop(fn, pc, op, s)
		if !ok {
			return nil, nil, false
		}
		value = got
	}
	ref, ok := v.pop(fn, pc, op, s)
	if !ok {
		return nil, nil, false
	}
	if ref.tag != TagFBRef {
		v.failf(RuleFBRefProtocol, fid, uint32(pc),
			"%s wants fb_ref, found %s", op, ref)
		return nil, nil, false
	}
	desc, ok := v.fbDescriptor(ref.aux)
	if !ok {
		v.failf(RuleOperandBounds, fid, uint32(pc),
			"%s on undefined FB type %d", op, ref.aux)
		return nil, nil, false
	}
	if int(fieldIdx) >= len(desc.Fields) {
		v.failf(RuleOperandBounds, fid, uint32(pc),
			"field %d out of range %d of FB type %d",
			fieldIdx, len(desc.Fields), ref.aux)
		return nil, nil, false
	}
	field := desc.Fields[fieldIdx]
	if ValueType(fieldTypeByte) != field.FieldType {
		v.failf(RuleFieldType, fid, uint32(pc),
			"%s type byte %s does not match field %d declared %s",
			op, ValueType(fieldTypeByte), fieldIdx, field.FieldType)
		return nil, nil, false
	}
	fieldTag := tagOf(field.FieldType)

	if isStore {
		if value.tag != fieldTag {
			v.failf(RuleFieldType, fid, uint32(pc),
				"%s stores %s into %s field %d",
				op, value, field.FieldType, fieldIdx)
			return nil, nil, false
		}
		if op == OpFBStoreParam {
			// The reference survives so parameter stores chain.
			v.push(s, ref)
		}
	} else {
		v.push(s, absType{tag: fieldTag, aux: fieldAux(field)})
	}
	return []int{next}, s, true
}

// fieldAux propagates the FB type ID for fb_ref-typed fields (nested FB
// instances).
func fieldAux(f FBField) uint16 {
	if f.FieldType == TypeFBInstance {
		return f.FieldExtra
	}
	return 0
}

func (v *verifier) stepCall(fn FunctionEntry, code []byte, pc, next int,
	s *absState) ([]int, *absState, bool) {

	fid := fn.FunctionID
	calleeID := opU16(code, pc)
	sigIdx, ok := v.ref.SignatureByFuncID(calleeID)
	if !ok {
		v.failf(RuleOperandBounds, fid, uint32(pc),
			"CALL references undefined function %d", calleeID)
		return nil, nil, false
	}
	if _, ok := v.ref.FunctionByID(calleeID); !ok {
		v.failf(RuleOperandBounds, fid, uint32(pc),
			"CALL references function %d with no body", calleeID)
		return nil, nil, false
	}
	_, retType, params := v.ref.SignatureAt(sigIdx)

	// Arguments are on the stack bottom-to-top in declaration order, so
	// they pop off right-to-left.
	for i := len(params) - 1; i >= 0; i-- {
		want := tagOf(ValueType(params[i]))
		got, ok := v.pop(fn, pc, OpCall, s)
		if !ok {
			return nil, nil, false
		}
		if got.tag != want {
			v.failf(RuleCallParamType, fid, uint32(pc),
				"CALL %d parameter %d wants %s, found %s",
				calleeID, i, want, got)
			return nil, nil, false
		}
	}
	if retType != VoidType {
		v.push(s, at(tagOf(ValueType(retType))))
	}
	v.calls[fid] = append(v.calls[fid], calleeID)
	return []int{next}, s, true
}

func (v *verifier) stepReturn(fn FunctionEntry, code []byte, pc int,
	op Opcode, s *absState) ([]int, *absState, bool) {

	fid := fn.FunctionID
	sigIdx, _ := v.ref.SignatureByFuncID(fid)
	_, retType, _ := v.ref.SignatureAt(sigIdx)

	if op == OpRetVoid {
		if retType != VoidType || s.depth() != 0 {
			v.failf(RuleOperandType, fid, uint32(pc),
				"RET_VOID in function returning %s with depth %d",
				ValueType(retType), s.depth())
			return nil, nil, false
		}
		return nil, s, true
	}

	if retType == VoidType {
		v.failf(RuleOperandType, fid, uint32(pc), "RET in void function")
		return nil, nil, false
	}
	if s.depth() != 1 {
		v.failf(RuleOperandType, fid, uint32(pc),
			"RET with stack depth %d", s.depth())
		return nil, nil, false
	}
	if !v.popWant(fn, pc, op, s, tagOf(ValueType(retType))) {
		return nil, nil, false
	}
	return nil, s, true
}

// checkCallGraph rejects recursion and static call chains deeper than the
// header's max call depth. IEC 61131-3 forbids recursion, so the graph
// must be a DAG and its longest path bounds the runtime frame stack.
func (v *verifier) checkCallGraph() {
	const (
		white = iota
		gray
		black
	)
	color := make(map[uint16]int)
	depth := make(map[uint16]int)
	maxDepth := int(v.ref.Header().Params.MaxCallDepth)

	var visit func(id uint16) (int, bool)
	visit = func(id uint16) (int, bool) {
		switch color[id] {
		case gray:
			v.failf(RuleCallCycle, id, 0,
				"call graph cycle through function %d", id)
			return 0, false
		case black:
			return depth[id], true
		}
		color[id] = gray
		d := 1
		for _, callee := range v.calls[id] {
			cd, ok := visit(callee)
			if !ok {
				return 0, false
			}
			if cd+1 > d {
				d = cd + 1
			}
		}
		color[id] = black
		depth[id] = d
		return d, true
	}

	for i := uint16(0); i < v.ref.NumFunctions(); i++ {
		id := v.ref.Function(i).FunctionID
		d, ok := visit(id)
		if !ok {
			return
		}
		if d > maxDepth {
			v.failf(RuleCallDepth, id, 0,
				"static call depth %d exceeds max %d", d, maxDepth)
			return
		}
	}
}
