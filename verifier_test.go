// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"testing"
)

// buildRef assembles a builder and produces the zero-copy view the
// verifier consumes.
func buildRef(t *testing.T, b *Builder) *ContainerRef {
	t.Helper()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed, reason: %v", err)
	}
	var hdr FileHeader
	file, err := NewBytes(data, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := file.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader failed, reason: %v", err)
	}
	hdr = file.Header
	ref, err := FromSlice(data, make([]uint32, OffsetBufLen(&hdr)))
	if err != nil {
		t.Fatalf("FromSlice failed, reason: %v", err)
	}
	return ref
}

func firstRule(errs []*VerifierError) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Rule
}

func TestVerifyAcceptsStraightLineProgram(t *testing.T) {
	ref := buildRef(t, testBuilder())
	if errs := Verify(ref); len(errs) != 0 {
		t.Fatalf("Verify rejected a valid program: %v", errs[0])
	}
}

func TestVerifyRejections(t *testing.T) {
	jmp := func(o Opcode, disp int16) []byte {
		return []byte{byte(o), byte(uint16(disp)), byte(uint16(disp) >> 8)}
	}

	tests := []struct {
		name     string
		code     []byte
		maxStack uint16
		wantRule string
	}{
		{"undefined opcode", asm(op(Opcode(0xFF))), 2, RuleValidOpcode},
		{"truncated operand", []byte{byte(OpLoadConstI32), 0x00}, 2, RuleValidOpcode},
		{"constant index out of range", asm(opIdx(OpLoadConstI32, 99), op(OpPop), op(OpRetVoid)), 2, RuleOperandBounds},
		{"variable index out of range", asm(opIdx(OpLoadVarI32, 99), op(OpPop), op(OpRetVoid)), 2, RuleOperandBounds},
		{"stack underflow", asm(op(OpAddI32)), 2, RuleStackUnderflow},
		{"declared depth exceeded", asm(
			opIdx(OpLoadConstI32, 0),
			opIdx(OpLoadConstI32, 0),
			opIdx(OpLoadConstI32, 0),
			op(OpPop), op(OpPop), op(OpPop),
			op(OpRetVoid)), 2, RuleStackOverflow},
		{"operand type mismatch", asm(
			opIdx(OpLoadConstI32, 0),
			opIdx(OpLoadConstI32, 0),
			op(OpAddF32),
			op(OpPop), op(OpRetVoid)), 4, RuleOperandType},
		{"jump into operand bytes", asm(
			jmp(OpJmp, -2),
			op(OpRetVoid)), 2, RuleJumpTarget},
		{"falls off the end", asm(opIdx(OpLoadConstI32, 0), op(OpPop)), 2, RuleReturnPath},
		{"time subtype enforced", asm(
			opIdx(OpLoadConstI64, 2),
			opIdx(OpLoadConstI64, 2),
			op(OpTimeAdd),
			op(OpPop), op(OpRetVoid)), 4, RuleTimeSubtype},
		{"ret in void function", asm(opIdx(OpLoadConstI32, 0), op(OpRet)), 2, RuleOperandType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuilder()
			b.Constants = append(b.Constants, Constant{
				Type:    ConstI64,
				Payload: make([]byte, 8),
			})
			b.Functions = []BuilderFunction{
				{FunctionID: 0, MaxStackDepth: tt.maxStack, Code: tt.code},
			}
			ref := buildRef(t, b)
			errs := Verify(ref)
			if got := firstRule(errs); got != tt.wantRule {
				t.Errorf("first rule = %q (%v), want %q", got, errs, tt.wantRule)
			}
		})
	}
}

// Two branches that leave different types at the merge point must be
// rejected with the merge-type rule at the merge offset.
func TestVerifyRejectsMergeTypeMismatch(t *testing.T) {
	b := testBuilder()
	b.Constants = []Constant{i32Const(1)}
	// if (true) push I32 else push F32; the join point sees both.
	code := asm(
		op(OpLoadTrue),             // 0
		[]byte{byte(OpJmpIf), 6, 0}, // 1: -> 10
		opIdx(OpLoadConstF32, 1),   // 4
		[]byte{byte(OpJmp), 3, 0},  // 7: -> 13
		opIdx(OpLoadConstI32, 0),   // 10
		op(OpPop),                  // 13: merge
		op(OpRetVoid),              // 14
	)
	b.Constants = append(b.Constants, Constant{
		Type:    ConstF32,
		Payload: make([]byte, 4),
	})
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 4, Code: code},
	}
	ref := buildRef(t, b)
	errs := Verify(ref)
	if got := firstRule(errs); got != RuleMergeType {
		t.Fatalf("first rule = %q (%v), want %q", got, errs, RuleMergeType)
	}
	if errs[0].Offset != 13 {
		t.Errorf("merge error offset = %d, want 13", errs[0].Offset)
	}
}

func TestVerifyRejectsMergeDepthMismatch(t *testing.T) {
	b := testBuilder()
	// One branch pushes, the other does not; depths differ at the join.
	code := asm(
		op(OpLoadTrue),             // 0
		[]byte{byte(OpJmpIf), 3, 0}, // 1: -> 7
		opIdx(OpLoadConstI32, 0),   // 4
		op(OpNop),                  // 7: merge
		op(OpRetVoid),              // 8
	)
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 4, Code: code},
	}
	ref := buildRef(t, b)
	if got := firstRule(Verify(ref)); got != RuleMergeDepth {
		t.Fatalf("first rule = %q, want %q", got, RuleMergeDepth)
	}
}

func TestVerifyLoopAccepted(t *testing.T) {
	b := testBuilder()
	// var0 := var0 + 32 repeated while var0 < 10, via a backward
	// conditional jump.
	code := asm(
		opIdx(OpLoadVarI32, 0),     // 0
		opIdx(OpLoadConstI32, 1),   // 3
		op(OpAddI32),               // 6
		opIdx(OpStoreVarI32, 0),    // 7
		opIdx(OpLoadVarI32, 0),     // 10
		opIdx(OpLoadConstI32, 0),   // 13
		op(OpLtI32),                // 16
		[]byte{byte(OpJmpIf), 0xEC, 0xFF}, // 17: -> 0 (disp -20)
		op(OpRetVoid),              // 20
	)
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 2, Code: code},
	}
	ref := buildRef(t, b)
	if errs := Verify(ref); len(errs) != 0 {
		t.Fatalf("Verify rejected a well-formed loop: %v", errs[0])
	}
}

func TestVerifyCallChecks(t *testing.T) {
	// Callee: (I32, I32) -> I32, adds its arguments.
	calleeSig := FunctionSignature{
		FunctionID: 1,
		ReturnType: uint8(TypeI32),
		ParamTypes: []ValueType{TypeI32, TypeI32},
	}
	callee := BuilderFunction{FunctionID: 1, MaxStackDepth: 2, Code: asm(
		op(OpAddI32),
		op(OpRet),
	)}

	t.Run("accepted", func(t *testing.T) {
		b := testBuilder()
		b.Signatures = append(b.Signatures, calleeSig)
		b.Functions = []BuilderFunction{
			{FunctionID: 0, MaxStackDepth: 2, Code: asm(
				opIdx(OpLoadConstI32, 0),
				opIdx(OpLoadConstI32, 1),
				opIdx(OpCall, 1),
				opIdx(OpStoreVarI32, 0),
				op(OpRetVoid),
			)},
			callee,
		}
		ref := buildRef(t, b)
		if errs := Verify(ref); len(errs) != 0 {
			t.Fatalf("Verify rejected a valid call: %v", errs[0])
		}
	})

	t.Run("bad argument type", func(t *testing.T) {
		b := testBuilder()
		b.Constants = append(b.Constants, Constant{
			Type:    ConstF32,
			Payload: make([]byte, 4),
		})
		b.Signatures = append(b.Signatures, calleeSig)
		b.Functions = []BuilderFunction{
			{FunctionID: 0, MaxStackDepth: 2, Code: asm(
				opIdx(OpLoadConstI32, 0),
				opIdx(OpLoadConstF32, 2),
				opIdx(OpCall, 1),
				opIdx(OpStoreVarI32, 0),
				op(OpRetVoid),
			)},
			callee,
		}
		ref := buildRef(t, b)
		if got := firstRule(Verify(ref)); got != RuleCallParamType {
			t.Fatalf("first rule = %q, want %q", got, RuleCallParamType)
		}
	})

	t.Run("recursion rejected", func(t *testing.T) {
		b := testBuilder()
		b.Functions = []BuilderFunction{
			{FunctionID: 0, MaxStackDepth: 2, Code: asm(
				opIdx(OpCall, 0),
				op(OpRetVoid),
			)},
		}
		ref := buildRef(t, b)
		if got := firstRule(Verify(ref)); got != RuleCallCycle {
			t.Fatalf("first rule = %q, want %q", got, RuleCallCycle)
		}
	})

	t.Run("call depth bounded", func(t *testing.T) {
		b := testBuilder()
		b.Params.MaxCallDepth = 2
		voidSig := func(id uint16) FunctionSignature {
			return FunctionSignature{FunctionID: id, ReturnType: VoidType}
		}
		b.Signatures = []FunctionSignature{
			voidSig(0), voidSig(1), voidSig(2),
		}
		callNext := func(id uint16) BuilderFunction {
			return BuilderFunction{FunctionID: id, MaxStackDepth: 1, Code: asm(
				opIdx(OpCall, id+1),
				op(OpRetVoid),
			)}
		}
		b.Functions = []BuilderFunction{
			callNext(0), callNext(1),
			{FunctionID: 2, MaxStackDepth: 1, Code: asm(op(OpRetVoid))},
		}
		ref := buildRef(t, b)
		if got := firstRule(Verify(ref)); got != RuleCallDepth {
			t.Fatalf("first rule = %q, want %q", got, RuleCallDepth)
		}
	})
}

func TestVerifyEmptyFunctionAccepted(t *testing.T) {
	b := testBuilder()
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 0, Code: nil},
	}
	ref := buildRef(t, b)
	if errs := Verify(ref); len(errs) != 0 {
		t.Fatalf("Verify rejected an empty function: %v", errs[0])
	}
}

func TestVerifyConstTypeMismatch(t *testing.T) {
	b := testBuilder()
	// LOAD_CONST_F32 pointed at an I32 pool entry.
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 2, Code: asm(
			opIdx(OpLoadConstF32, 0),
			op(OpPop),
			op(OpRetVoid),
		)},
	}
	ref := buildRef(t, b)
	if got := firstRule(Verify(ref)); got != RuleConstType {
		t.Fatalf("first rule = %q, want %q", got, RuleConstType)
	}
}

func TestVerifyImageRegion(t *testing.T) {
	b := testBuilder()
	b.Params.InputImageSize = 8
	b.Tasks[0].InputImageSize = 8
	b.Functions = []BuilderFunction{
		{FunctionID: 0, MaxStackDepth: 2, Code: asm(
			[]byte{byte(OpLoadInput), 7, 0, 0}, // region 7 undefined
			op(OpPop),
			op(OpRetVoid),
		)},
	}
	ref := buildRef(t, b)
	if got := firstRule(Verify(ref)); got != RuleImageRegion {
		t.Fatalf("first rule = %q, want %q", got, RuleImageRegion)
	}
}
