// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/ironplc/iplc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i32Const(v int32) iplc.Constant {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(v))
	return iplc.Constant{Type: iplc.ConstI32, Payload: p[:]}
}

func i64Const(v int64) iplc.Constant {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(v))
	return iplc.Constant{Type: iplc.ConstI64, Payload: p[:]}
}

func f64Const(v float64) iplc.Constant {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], math.Float64bits(v))
	return iplc.Constant{Type: iplc.ConstF64, Payload: p[:]}
}

func asm(frags ...[]byte) []byte {
	var out []byte
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}

func op(o iplc.Opcode) []byte { return []byte{byte(o)} }

func opIdx(o iplc.Opcode, idx uint16) []byte {
	return []byte{byte(o), byte(idx), byte(idx >> 8)}
}

// freewheelingProgram builds a single-task single-instance container over
// I32 variables.
func freewheelingProgram(numVars uint16, consts []iplc.Constant,
	maxStack uint16, code []byte) *iplc.Builder {

	vars := make([]iplc.VariableEntry, numVars)
	for i := range vars {
		vars[i] = iplc.VariableEntry{VarType: iplc.TypeI32}
	}
	return &iplc.Builder{
		Params: iplc.RuntimeParams{
			MaxStackDepth: 16,
			MaxCallDepth:  4,
		},
		Variables: vars,
		Signatures: []iplc.FunctionSignature{
			{FunctionID: 0, ReturnType: iplc.VoidType},
		},
		SharedGlobalsSize: numVars,
		Tasks: []iplc.TaskEntry{
			{TaskID: 0, Type: iplc.TaskFreewheeling},
		},
		Instances: []iplc.ProgramInstance{
			{InstanceID: 0, TaskID: 0, EntryFunctionID: 0,
				VarTableOffset: 0, VarTableCount: numVars},
		},
		Constants: consts,
		Functions: []iplc.BuilderFunction{
			{FunctionID: 0, MaxStackDepth: maxStack, Code: code},
		},
	}
}

func buildRef(t *testing.T, b *iplc.Builder) *iplc.ContainerRef {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	file, err := iplc.NewBytes(data, &iplc.Options{Fast: true})
	require.NoError(t, err)
	require.NoError(t, file.ParseHeader())
	ref, err := iplc.FromSlice(data, make([]uint32, iplc.OffsetBufLen(&file.Header)))
	require.NoError(t, err)
	return ref
}

func startVM(t *testing.T, b *iplc.Builder, cfg *Config) *VMRunning {
	t.Helper()
	ref := buildRef(t, b)
	ready, err := New(cfg).Load(ref, AllocMemory(ref.Header()))
	require.NoError(t, err)
	return ready.Start()
}

func readI32(t *testing.T, read func(uint16) (Slot, bool), i uint16) int32 {
	t.Helper()
	v, ok := read(i)
	require.True(t, ok)
	return v.I32()
}

func TestSteelThread(t *testing.T) {
	b := freewheelingProgram(2,
		[]iplc.Constant{i32Const(10), i32Const(32)}, 2, asm(
			opIdx(iplc.OpLoadConstI32, 0),
			opIdx(iplc.OpStoreVarI32, 0),
			opIdx(iplc.OpLoadConstI32, 1),
			opIdx(iplc.OpLoadVarI32, 0),
			op(iplc.OpAddI32),
			opIdx(iplc.OpStoreVarI32, 1),
			op(iplc.OpRetVoid),
		))
	running := startVM(t, b, nil)

	_, fault := running.RunRound(0)
	require.Nil(t, fault)

	stopped := running.Stop()
	assert.Equal(t, int32(10), readI32(t, stopped.ReadVariable, 0))
	assert.Equal(t, int32(42), readI32(t, stopped.ReadVariable, 1))
	assert.Equal(t, uint64(1), stopped.ScanCount())
}

func TestCounterAcrossScans(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(1)}, 2, asm(
		opIdx(iplc.OpLoadVarI32, 0),
		opIdx(iplc.OpLoadConstI32, 0),
		op(iplc.OpAddI32),
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	))
	running := startVM(t, b, nil)

	for i := 0; i < 10; i++ {
		_, fault := running.RunRound(uint64(i))
		require.Nil(t, fault)
	}
	stopped := running.Stop()
	assert.Equal(t, int32(10), readI32(t, stopped.ReadVariable, 0))
	assert.Equal(t, uint64(10), stopped.ScanCount())
}

func TestOverflowPolicies(t *testing.T) {
	program := func() *iplc.Builder {
		return freewheelingProgram(1,
			[]iplc.Constant{i32Const(math.MaxInt32), i32Const(1)}, 2, asm(
				opIdx(iplc.OpLoadConstI32, 0),
				opIdx(iplc.OpLoadConstI32, 1),
				op(iplc.OpAddI32),
				opIdx(iplc.OpStoreVarI32, 0),
				op(iplc.OpRetVoid),
			))
	}

	t.Run("wrap", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowWrap})
		_, fault := running.RunRound(0)
		require.Nil(t, fault)
		assert.Equal(t, int32(math.MinInt32),
			readI32(t, running.Stop().ReadVariable, 0))
	})
	t.Run("saturate", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowSaturate})
		_, fault := running.RunRound(0)
		require.Nil(t, fault)
		assert.Equal(t, int32(math.MaxInt32),
			readI32(t, running.Stop().ReadVariable, 0))
	})
	t.Run("fault", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowFault})
		_, fault := running.RunRound(0)
		require.NotNil(t, fault)
		assert.Equal(t, TrapIntegerOverflow, fault.Trap.Kind)
	})
}

func TestTwoTaskPriorityOrdering(t *testing.T) {
	store := func(constIdx, varIdx uint16) []byte {
		return asm(
			opIdx(iplc.OpLoadConstI32, constIdx),
			opIdx(iplc.OpStoreVarI32, varIdx),
		)
	}
	b := &iplc.Builder{
		Params: iplc.RuntimeParams{MaxStackDepth: 8, MaxCallDepth: 2},
		Variables: []iplc.VariableEntry{
			{VarType: iplc.TypeI32}, {VarType: iplc.TypeI32},
			{VarType: iplc.TypeI32}, {VarType: iplc.TypeI32},
		},
		Signatures: []iplc.FunctionSignature{
			{FunctionID: 0, ReturnType: iplc.VoidType},
			{FunctionID: 1, ReturnType: iplc.VoidType},
		},
		SharedGlobalsSize: 4,
		Tasks: []iplc.TaskEntry{
			{TaskID: 0, Priority: 5, Type: iplc.TaskFreewheeling},
			{TaskID: 1, Priority: 0, Type: iplc.TaskFreewheeling},
		},
		Instances: []iplc.ProgramInstance{
			{InstanceID: 0, TaskID: 0, EntryFunctionID: 0, VarTableCount: 4},
			{InstanceID: 1, TaskID: 1, EntryFunctionID: 1, VarTableCount: 4},
		},
		Constants: []iplc.Constant{
			i32Const(10), i32Const(20), i32Const(100), i32Const(200),
		},
		Functions: []iplc.BuilderFunction{
			// Task 0 program: var0 := 10, marker := 100.
			{FunctionID: 0, MaxStackDepth: 1, Code: asm(
				store(0, 0), store(2, 3), op(iplc.OpRetVoid))},
			// Task 1 program: var2 := 20, marker := 200.
			{FunctionID: 1, MaxStackDepth: 1, Code: asm(
				store(1, 2), store(3, 3), op(iplc.OpRetVoid))},
		},
	}
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)

	stopped := running.Stop()
	assert.Equal(t, int32(10), readI32(t, stopped.ReadVariable, 0))
	assert.Equal(t, int32(20), readI32(t, stopped.ReadVariable, 2))
	// Priority 0 ran first, priority 5 overwrote the marker last.
	assert.Equal(t, int32(100), readI32(t, stopped.ReadVariable, 3))
}

func TestVariableScopeTrap(t *testing.T) {
	b := freewheelingProgram(4, nil, 2, asm(
		opIdx(iplc.OpLoadVarI32, 0),
		op(iplc.OpPop),
		op(iplc.OpRetVoid),
	))
	// Scope the instance to [2, 4) with no shared globals; touching
	// var 0 must trap at runtime even though it verifies statically.
	b.SharedGlobalsSize = 0
	b.Instances[0].VarTableOffset = 2
	b.Instances[0].VarTableCount = 2

	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.NotNil(t, fault)
	assert.Equal(t, TrapInvalidVariableIndex, fault.Trap.Kind)
	assert.Equal(t, uint16(0), fault.Trap.Index)
	assert.Equal(t, uint16(0), fault.TaskID)
	assert.Equal(t, uint16(0), fault.InstanceID)
}

func TestWatchdogTimeout(t *testing.T) {
	b := freewheelingProgram(1, []iplc.Constant{i32Const(1)}, 2, asm(
		opIdx(iplc.OpLoadConstI32, 0),
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	))
	b.Tasks[0].WatchdogUS = 1

	// A fake clock that advances 10us per reading makes any task exceed
	// a 1us watchdog deterministically.
	fake := uint64(0)
	clock := func() uint64 {
		fake += 10
		return fake
	}
	running := startVM(t, b, &Config{Clock: clock})
	_, fault := running.RunRound(0)
	require.NotNil(t, fault)
	assert.Equal(t, TrapWatchdogTimeout, fault.Trap.Kind)
	assert.Equal(t, uint16(0), fault.Trap.Index)

	faulted := running.Fault(fault)
	assert.Equal(t, TrapWatchdogTimeout, faulted.Trap().Kind)
}

func TestNegBoundary(t *testing.T) {
	program := func() *iplc.Builder {
		return freewheelingProgram(1,
			[]iplc.Constant{i32Const(math.MinInt32)}, 2, asm(
				opIdx(iplc.OpLoadConstI32, 0),
				op(iplc.OpNegI32),
				opIdx(iplc.OpStoreVarI32, 0),
				op(iplc.OpRetVoid),
			))
	}
	t.Run("wrap yields min", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowWrap})
		_, fault := running.RunRound(0)
		require.Nil(t, fault)
		assert.Equal(t, int32(math.MinInt32),
			readI32(t, running.Stop().ReadVariable, 0))
	})
	t.Run("saturate yields max", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowSaturate})
		_, fault := running.RunRound(0)
		require.Nil(t, fault)
		assert.Equal(t, int32(math.MaxInt32),
			readI32(t, running.Stop().ReadVariable, 0))
	})
	t.Run("fault traps", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowFault})
		_, fault := running.RunRound(0)
		require.NotNil(t, fault)
		assert.Equal(t, TrapIntegerOverflow, fault.Trap.Kind)
	})
}

func TestDivMinByMinusOne(t *testing.T) {
	program := func() *iplc.Builder {
		return freewheelingProgram(1,
			[]iplc.Constant{i32Const(math.MinInt32), i32Const(-1)}, 2, asm(
				opIdx(iplc.OpLoadConstI32, 0),
				opIdx(iplc.OpLoadConstI32, 1),
				op(iplc.OpDivI32),
				opIdx(iplc.OpStoreVarI32, 0),
				op(iplc.OpRetVoid),
			))
	}
	t.Run("wrap yields min", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowWrap})
		_, fault := running.RunRound(0)
		require.Nil(t, fault)
		assert.Equal(t, int32(math.MinInt32),
			readI32(t, running.Stop().ReadVariable, 0))
	})
	t.Run("fault traps", func(t *testing.T) {
		running := startVM(t, program(), &Config{OverflowPolicy: OverflowFault})
		_, fault := running.RunRound(0)
		require.NotNil(t, fault)
		assert.Equal(t, TrapIntegerOverflow, fault.Trap.Kind)
	})
}

func TestDivisionByZeroTraps(t *testing.T) {
	b := freewheelingProgram(1,
		[]iplc.Constant{i32Const(7), i32Const(0)}, 2, asm(
			opIdx(iplc.OpLoadConstI32, 0),
			opIdx(iplc.OpLoadConstI32, 1),
			op(iplc.OpDivI32),
			opIdx(iplc.OpStoreVarI32, 0),
			op(iplc.OpRetVoid),
		))
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.NotNil(t, fault)
	assert.Equal(t, TrapDivisionByZero, fault.Trap.Kind)
}

func TestShiftByWidthEqualsShiftByZero(t *testing.T) {
	b := freewheelingProgram(1,
		[]iplc.Constant{i32Const(0x1234), i32Const(32)}, 2, asm(
			opIdx(iplc.OpLoadConstI32, 0),
			opIdx(iplc.OpLoadConstI32, 1),
			op(iplc.OpShlI32),
			opIdx(iplc.OpStoreVarI32, 0),
			op(iplc.OpRetVoid),
		))
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)
	assert.Equal(t, int32(0x1234), readI32(t, running.Stop().ReadVariable, 0))
}

func TestNaNComparisons(t *testing.T) {
	nan := f64Const(math.NaN())
	// var0 := (NaN != NaN), var1 := (NaN < NaN), var2 := (NaN == NaN)
	b := freewheelingProgram(3, []iplc.Constant{nan}, 2, asm(
		opIdx(iplc.OpLoadConstF64, 0),
		opIdx(iplc.OpLoadConstF64, 0),
		op(iplc.OpNeF64),
		opIdx(iplc.OpStoreVarI32, 0),
		opIdx(iplc.OpLoadConstF64, 0),
		opIdx(iplc.OpLoadConstF64, 0),
		op(iplc.OpLtF64),
		opIdx(iplc.OpStoreVarI32, 1),
		opIdx(iplc.OpLoadConstF64, 0),
		opIdx(iplc.OpLoadConstF64, 0),
		op(iplc.OpEqF64),
		opIdx(iplc.OpStoreVarI32, 2),
		op(iplc.OpRetVoid),
	))
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)
	stopped := running.Stop()
	assert.Equal(t, int32(1), readI32(t, stopped.ReadVariable, 0), "NaN != NaN")
	assert.Equal(t, int32(0), readI32(t, stopped.ReadVariable, 1), "NaN < NaN")
	assert.Equal(t, int32(0), readI32(t, stopped.ReadVariable, 2), "NaN == NaN")
}

func TestEmptyFunctionCompletes(t *testing.T) {
	b := freewheelingProgram(1, nil, 0, nil)
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)
	assert.Equal(t, uint64(1), running.ScanCount())
}

func TestTimeArithmetic(t *testing.T) {
	vars := []iplc.VariableEntry{{VarType: iplc.TypeTime}}
	b := freewheelingProgram(1,
		[]iplc.Constant{i64Const(1500), i64Const(500)}, 4, asm(
			opIdx(iplc.OpLoadConstI64, 0),
			op(iplc.OpI64ToTime),
			opIdx(iplc.OpLoadConstI64, 1),
			op(iplc.OpI64ToTime),
			op(iplc.OpTimeSub),
			opIdx(iplc.OpStoreVarI64, 0),
			op(iplc.OpRetVoid),
		))
	b.Variables = vars
	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)
	v, ok := running.Stop().ReadVariable(0)
	require.True(t, ok)
	assert.Equal(t, int64(1000), v.I64())
}

func TestRequestStopFlag(t *testing.T) {
	b := freewheelingProgram(1, nil, 0, nil)
	running := startVM(t, b, nil)
	assert.False(t, running.StopRequested())
	running.RequestStop()
	assert.True(t, running.StopRequested())
}
