// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"testing"

	"github.com/ironplc/iplc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// incrementProgram bumps var0 by one each scan.
func incrementProgram() ([]iplc.Constant, []byte) {
	return []iplc.Constant{i32Const(1)}, asm(
		opIdx(iplc.OpLoadVarI32, 0),
		opIdx(iplc.OpLoadConstI32, 0),
		op(iplc.OpAddI32),
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	)
}

func TestCyclicDeadlines(t *testing.T) {
	consts, code := incrementProgram()
	b := freewheelingProgram(1, consts, 2, code)
	b.Tasks[0].Type = iplc.TaskCyclic
	b.Tasks[0].IntervalUS = 100

	running := startVM(t, b, nil)

	// Due immediately at start.
	_, fault := running.RunRound(0)
	require.Nil(t, fault)
	st, ok := running.TaskState(0)
	require.True(t, ok)
	assert.Equal(t, uint64(100), st.NextDueUS)
	assert.Equal(t, uint64(1), st.ScanCount)

	// Not due yet: the round reports the deadline as a sleep hint.
	next, fault := running.RunRound(50)
	require.Nil(t, fault)
	assert.Equal(t, uint64(100), next)
	st, _ = running.TaskState(0)
	assert.Equal(t, uint64(1), st.ScanCount)

	// On-time execution advances by one interval.
	_, fault = running.RunRound(100)
	require.Nil(t, fault)
	st, _ = running.TaskState(0)
	assert.Equal(t, uint64(200), st.NextDueUS)
	assert.Equal(t, uint64(0), st.OverrunCount)

	// Late execution records an overrun and realigns to now.
	_, fault = running.RunRound(350)
	require.Nil(t, fault)
	st, _ = running.TaskState(0)
	assert.Equal(t, uint64(450), st.NextDueUS)
	assert.Equal(t, uint64(1), st.OverrunCount)

	assert.Equal(t, int32(3), readI32(t, running.Stop().ReadVariable, 0))
}

func TestEventTaskRisingEdge(t *testing.T) {
	b := &iplc.Builder{
		Params: iplc.RuntimeParams{MaxStackDepth: 8, MaxCallDepth: 2},
		Variables: []iplc.VariableEntry{
			{VarType: iplc.TypeI32}, // trigger
			{VarType: iplc.TypeI32}, // event counter
		},
		Signatures: []iplc.FunctionSignature{
			{FunctionID: 0, ReturnType: iplc.VoidType},
			{FunctionID: 1, ReturnType: iplc.VoidType},
		},
		SharedGlobalsSize: 2,
		Tasks: []iplc.TaskEntry{
			{TaskID: 0, Priority: 1, Type: iplc.TaskFreewheeling},
			{TaskID: 1, Priority: 0, Type: iplc.TaskEvent, SingleVarIndex: 0},
		},
		Instances: []iplc.ProgramInstance{
			{InstanceID: 0, TaskID: 0, EntryFunctionID: 0, VarTableCount: 2},
			{InstanceID: 1, TaskID: 1, EntryFunctionID: 1, VarTableCount: 2},
		},
		Constants: []iplc.Constant{i32Const(1)},
		Functions: []iplc.BuilderFunction{
			// Freewheeler raises the trigger.
			{FunctionID: 0, MaxStackDepth: 1, Code: asm(
				op(iplc.OpLoadTrue),
				opIdx(iplc.OpStoreVarI32, 0),
				op(iplc.OpRetVoid),
			)},
			// Event program counts its activations.
			{FunctionID: 1, MaxStackDepth: 2, Code: asm(
				opIdx(iplc.OpLoadVarI32, 1),
				opIdx(iplc.OpLoadConstI32, 0),
				op(iplc.OpAddI32),
				opIdx(iplc.OpStoreVarI32, 1),
				op(iplc.OpRetVoid),
			)},
		},
	}
	running := startVM(t, b, nil)

	// Round 1: trigger still low at collection time.
	// Round 2: rising edge fires the event task once.
	// Round 3: level stays high; no new edge.
	for i := 0; i < 3; i++ {
		_, fault := running.RunRound(uint64(i))
		require.Nil(t, fault)
	}
	assert.Equal(t, int32(1), readI32(t, running.Stop().ReadVariable, 1))
}

func TestIdleRoundReturnsEarliestDeadline(t *testing.T) {
	consts, code := incrementProgram()
	b := freewheelingProgram(1, consts, 2, code)
	b.Tasks[0].Type = iplc.TaskCyclic
	b.Tasks[0].IntervalUS = 1000

	running := startVM(t, b, nil)
	_, fault := running.RunRound(0)
	require.Nil(t, fault)

	next, fault := running.RunRound(1)
	require.Nil(t, fault)
	assert.Equal(t, uint64(1000), next)
	// An idle round does not advance the scan counter.
	assert.Equal(t, uint64(1), running.ScanCount())
}
