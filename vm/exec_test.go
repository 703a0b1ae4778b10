// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"testing"

	"github.com/ironplc/iplc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawExec runs a function of an unverified container straight through the
// execute core, bypassing Load's verifier pass. Used to exercise the
// runtime defense in depth that verified programs never reach.
func rawExec(t *testing.T, b *iplc.Builder) (*execCtx, *Trap) {
	t.Helper()
	ref := buildRef(t, b)
	mem := AllocMemory(ref.Header())
	c := &core{
		ref:   ref,
		mem:   mem,
		vars:  NewVariableTable(mem.Vars[:ref.NumVariables()]),
		stack: NewStack(mem.Stack),
	}
	require.NoError(t, c.initVariables())

	x := &execCtx{
		ref:      c.ref,
		stack:    &c.stack,
		vars:     &c.vars,
		arena:    mem.Arena,
		frames:   mem.Frames,
		strPool:  &c.strPool,
		wstrPool: &c.wstrPool,
		scratch:  mem.Scratch,
		input:    mem.InputImage,
		output:   mem.OutputImage,
		mem:      mem.MemoryImage,
		scope: VariableScope{
			SharedGlobalsSize: ref.SharedGlobalsSize(),
			InstanceOffset:    0,
			InstanceCount:     ref.NumVariables(),
		},
	}
	fn, ok := ref.FunctionByID(0)
	require.True(t, ok)
	return x, x.runFunction(fn)
}

// A trap must leave every completed store visible for post-mortem reads.
func TestFaultPreservesVariables(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(42)}, 2, asm(
		opIdx(iplc.OpLoadConstI32, 0),
		opIdx(iplc.OpStoreVarI32, 0),
		[]byte{0xFF},
	))
	x, trap := rawExec(t, b)
	require.NotNil(t, trap)
	assert.Equal(t, TrapInvalidOpcode, trap.Kind)
	assert.Equal(t, byte(0xFF), trap.Opcode)

	v, trapRead := x.vars.Load(0, x.scope)
	require.Nil(t, trapRead)
	assert.Equal(t, int32(42), v.I32())
}

func TestStackUnderflowTrap(t *testing.T) {
	b := freewheelingProgram(1, nil, 2, asm(op(iplc.OpAddI32)))
	_, trap := rawExec(t, b)
	require.NotNil(t, trap)
	assert.Equal(t, TrapStackUnderflow, trap.Kind)
}

func TestStackOverflowTrap(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(1)}, 64, asm(
		opIdx(iplc.OpLoadConstI32, 0),
		[]byte{byte(iplc.OpJmp), 0xFA, 0xFF}, // loop back to the push
	))
	b.Params.MaxStackDepth = 4
	_, trap := rawExec(t, b)
	require.NotNil(t, trap)
	assert.Equal(t, TrapStackOverflow, trap.Kind)
}

func TestArrayBoundsChecked(t *testing.T) {
	buildArray := func(index int32) *iplc.Builder {
		b := freewheelingProgram(1, []iplc.Constant{i32Const(index), i32Const(7)}, 4, asm(
			opIdx(iplc.OpLoadConstI32, 0),
			opIdx(iplc.OpLoadConstI32, 1),
			[]byte{byte(iplc.OpStoreArray), byte(iplc.TypeI32), 0, 0},
			op(iplc.OpRetVoid),
		))
		b.Variables = []iplc.VariableEntry{
			{VarType: iplc.TypeI32, Flags: iplc.VarFlagArray, Extra: 0},
		}
		b.Arrays = []iplc.ArrayDescriptor{
			{ElementType: iplc.TypeI32, LowerBound: -2, UpperBound: 2},
		}
		b.Params.FBInstancePoolSize = 8
		return b
	}

	t.Run("in range", func(t *testing.T) {
		x, trap := rawExec(t, buildArray(-2))
		require.Nil(t, trap)
		assert.Equal(t, int32(7), x.arena[0].I32())
	})
	t.Run("below lower bound", func(t *testing.T) {
		_, trap := rawExec(t, buildArray(-3))
		require.NotNil(t, trap)
		assert.Equal(t, TrapArrayOutOfBounds, trap.Kind)
		assert.Equal(t, int32(-3), trap.ArrayIndex)
		assert.Equal(t, int32(-2), trap.Lower)
		assert.Equal(t, int32(2), trap.Upper)
	})
	t.Run("above upper bound", func(t *testing.T) {
		_, trap := rawExec(t, buildArray(3))
		require.NotNil(t, trap)
		assert.Equal(t, TrapArrayOutOfBounds, trap.Kind)
	})
}

func TestStringStoreTruncates(t *testing.T) {
	lit := iplc.Constant{Type: iplc.ConstString, Payload: []byte("HELLO WORLD")}
	b := freewheelingProgram(1, []iplc.Constant{lit}, 2, asm(
		opIdx(iplc.OpLoadConstStr, 0),
		opIdx(iplc.OpStoreVarStr, 0),
		op(iplc.OpRetVoid),
	))
	b.Variables = []iplc.VariableEntry{
		{VarType: iplc.TypeString, Extra: 5},
	}
	b.Params.NumStringBufs = 3
	b.Params.StringBufCap = 16

	x, trap := rawExec(t, b)
	require.Nil(t, trap)
	assert.Equal(t, "HELLO", string(x.strPool.get(0)))
}

func TestBuiltinConcatAndLen(t *testing.T) {
	a := iplc.Constant{Type: iplc.ConstString, Payload: []byte("AB")}
	c := iplc.Constant{Type: iplc.ConstString, Payload: []byte("CD")}
	b := freewheelingProgram(2, []iplc.Constant{a, c}, 4, asm(
		opIdx(iplc.OpLoadConstStr, 0),
		opIdx(iplc.OpLoadConstStr, 1),
		opIdx(iplc.OpBuiltin, iplc.BuiltinConcatStr),
		op(iplc.OpDup),
		opIdx(iplc.OpBuiltin, iplc.BuiltinLenStr),
		opIdx(iplc.OpStoreVarI32, 1),
		opIdx(iplc.OpStoreVarStr, 0),
		op(iplc.OpRetVoid),
	))
	b.Variables = []iplc.VariableEntry{
		{VarType: iplc.TypeString, Extra: 16},
		{VarType: iplc.TypeI32},
	}
	b.Params.NumStringBufs = 4
	b.Params.StringBufCap = 16

	x, trap := rawExec(t, b)
	require.Nil(t, trap)
	assert.Equal(t, "ABCD", string(x.strPool.get(0)))
	v, trapRead := x.vars.Load(1, x.scope)
	require.Nil(t, trapRead)
	assert.Equal(t, int32(4), v.I32())
}

func TestBuiltinLimit(t *testing.T) {
	b := freewheelingProgram(1,
		[]iplc.Constant{i32Const(0), i32Const(99), i32Const(10)}, 4, asm(
			opIdx(iplc.OpLoadConstI32, 0),  // min
			opIdx(iplc.OpLoadConstI32, 1),  // in
			opIdx(iplc.OpLoadConstI32, 2),  // max
			opIdx(iplc.OpBuiltin, iplc.BuiltinLimitI32),
			opIdx(iplc.OpStoreVarI32, 0),
			op(iplc.OpRetVoid),
		))
	x, trap := rawExec(t, b)
	require.Nil(t, trap)
	v, trapRead := x.vars.Load(0, x.scope)
	require.Nil(t, trapRead)
	assert.Equal(t, int32(10), v.I32())
}

func TestProcessImageRoundtrip(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(0xAB)}, 2, asm(
		opIdx(iplc.OpLoadConstI32, 0),
		[]byte{byte(iplc.OpStoreMemory), iplc.RegionByte, 2, 0},
		[]byte{byte(iplc.OpLoadMemory), iplc.RegionByte, 2, 0},
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	))
	b.Params.MemoryImageSize = 8
	x, trap := rawExec(t, b)
	require.Nil(t, trap)
	v, trapRead := x.vars.Load(0, x.scope)
	require.Nil(t, trapRead)
	assert.Equal(t, int32(0xAB), v.I32())
	assert.Equal(t, byte(0xAB), x.mem[2])
}

func TestUserFunctionCall(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(20), i32Const(22)}, 4, asm(
		opIdx(iplc.OpLoadConstI32, 0),
		opIdx(iplc.OpLoadConstI32, 1),
		opIdx(iplc.OpCall, 1),
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	))
	b.Signatures = append(b.Signatures, iplc.FunctionSignature{
		FunctionID: 1,
		ReturnType: uint8(iplc.TypeI32),
		ParamTypes: []iplc.ValueType{iplc.TypeI32, iplc.TypeI32},
	})
	b.Functions = append(b.Functions, iplc.BuilderFunction{
		FunctionID: 1, MaxStackDepth: 2, Code: asm(
			op(iplc.OpAddI32),
			op(iplc.OpRet),
		),
	})
	x, trap := rawExec(t, b)
	require.Nil(t, trap)
	v, trapRead := x.vars.Load(0, x.scope)
	require.Nil(t, trapRead)
	assert.Equal(t, int32(42), v.I32())
}
