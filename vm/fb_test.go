// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"testing"

	"github.com/ironplc/iplc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTONTimer(t *testing.T) {
	fb := make([]Slot, timerSlots)
	fb[timerFieldPT] = timeSlot(1000)

	// IN low: everything stays off.
	runIntrinsic(iplc.FBTypeTON, fb, 0)
	assert.False(t, fb[timerFieldQ].Bool())

	// IN rises; Q holds off until PT elapses.
	fb[timerFieldIN] = boolSlot(true)
	runIntrinsic(iplc.FBTypeTON, fb, 100)
	assert.False(t, fb[timerFieldQ].Bool())
	runIntrinsic(iplc.FBTypeTON, fb, 600)
	assert.False(t, fb[timerFieldQ].Bool())
	assert.Equal(t, int64(500), fb[timerFieldET].I64())

	runIntrinsic(iplc.FBTypeTON, fb, 1200)
	assert.True(t, fb[timerFieldQ].Bool())
	assert.Equal(t, int64(1000), fb[timerFieldET].I64())

	// IN drops: Q and ET reset.
	fb[timerFieldIN] = boolSlot(false)
	runIntrinsic(iplc.FBTypeTON, fb, 1300)
	assert.False(t, fb[timerFieldQ].Bool())
	assert.Equal(t, int64(0), fb[timerFieldET].I64())
}

func TestTOFTimer(t *testing.T) {
	fb := make([]Slot, timerSlots)
	fb[timerFieldPT] = timeSlot(1000)

	fb[timerFieldIN] = boolSlot(true)
	runIntrinsic(iplc.FBTypeTOF, fb, 0)
	assert.True(t, fb[timerFieldQ].Bool())

	// IN drops: Q holds for PT.
	fb[timerFieldIN] = boolSlot(false)
	runIntrinsic(iplc.FBTypeTOF, fb, 100)
	assert.True(t, fb[timerFieldQ].Bool())
	runIntrinsic(iplc.FBTypeTOF, fb, 900)
	assert.True(t, fb[timerFieldQ].Bool())
	runIntrinsic(iplc.FBTypeTOF, fb, 1200)
	assert.False(t, fb[timerFieldQ].Bool())
}

func TestTPPulse(t *testing.T) {
	fb := make([]Slot, timerSlots)
	fb[timerFieldPT] = timeSlot(500)

	fb[timerFieldIN] = boolSlot(true)
	runIntrinsic(iplc.FBTypeTP, fb, 0)
	assert.True(t, fb[timerFieldQ].Bool())

	// Pulse holds regardless of IN while PT runs.
	fb[timerFieldIN] = boolSlot(false)
	runIntrinsic(iplc.FBTypeTP, fb, 300)
	assert.True(t, fb[timerFieldQ].Bool())

	runIntrinsic(iplc.FBTypeTP, fb, 600)
	assert.False(t, fb[timerFieldQ].Bool())
}

func TestCTUCounter(t *testing.T) {
	fb := make([]Slot, ctrSlots)
	fb[ctrFieldPV] = i32Slot(2)

	pulse := func(level bool) {
		fb[ctrFieldTrig] = boolSlot(level)
		runIntrinsic(iplc.FBTypeCTU, fb, 0)
	}

	pulse(true)
	pulse(false)
	assert.Equal(t, int32(1), fb[ctrFieldCV].I32())
	assert.False(t, fb[ctrFieldQ].Bool())

	// A held-high input counts once, not every call.
	pulse(true)
	pulse(true)
	assert.Equal(t, int32(2), fb[ctrFieldCV].I32())
	assert.True(t, fb[ctrFieldQ].Bool())

	fb[ctrFieldCtl] = boolSlot(true) // RESET
	runIntrinsic(iplc.FBTypeCTU, fb, 0)
	assert.Equal(t, int32(0), fb[ctrFieldCV].I32())
}

func TestCTDCounter(t *testing.T) {
	fb := make([]Slot, ctrSlots)
	fb[ctrFieldPV] = i32Slot(2)

	fb[ctrFieldCtl] = boolSlot(true) // LOAD
	runIntrinsic(iplc.FBTypeCTD, fb, 0)
	assert.Equal(t, int32(2), fb[ctrFieldCV].I32())
	fb[ctrFieldCtl] = boolSlot(false)

	pulse := func(level bool) {
		fb[ctrFieldTrig] = boolSlot(level)
		runIntrinsic(iplc.FBTypeCTD, fb, 0)
	}
	pulse(true)
	pulse(false)
	pulse(true)
	assert.Equal(t, int32(0), fb[ctrFieldCV].I32())
	assert.True(t, fb[ctrFieldQ].Bool())
}

func TestEdgeDetectors(t *testing.T) {
	fb := make([]Slot, trigSlots)

	fb[trigFieldCLK] = boolSlot(true)
	runIntrinsic(iplc.FBTypeRTrig, fb, 0)
	assert.True(t, fb[trigFieldQ].Bool())
	runIntrinsic(iplc.FBTypeRTrig, fb, 0)
	assert.False(t, fb[trigFieldQ].Bool(), "no second pulse on a held level")

	fb = make([]Slot, trigSlots)
	fb[trigFieldCLK] = boolSlot(true)
	runIntrinsic(iplc.FBTypeFTrig, fb, 0)
	assert.False(t, fb[trigFieldQ].Bool())
	fb[trigFieldCLK] = boolSlot(false)
	runIntrinsic(iplc.FBTypeFTrig, fb, 0)
	assert.True(t, fb[trigFieldQ].Bool())
}

// TON driven through bytecode: FB instance variable, parameter protocol,
// FB_CALL dispatch and result readback.
func TestTONThroughBytecode(t *testing.T) {
	b := freewheelingProgram(2, []iplc.Constant{i64Const(100)}, 4, asm(
		// ton.IN := TRUE; ton.PT := T#100us; ton();
		opIdx(iplc.OpFBLoadInstance, 0),
		op(iplc.OpLoadTrue),
		[]byte{byte(iplc.OpFBStoreParam), byte(iplc.TypeI32), timerFieldIN, 0},
		opIdx(iplc.OpLoadConstI64, 0),
		op(iplc.OpI64ToTime),
		[]byte{byte(iplc.OpFBStoreParam), byte(iplc.TypeTime), timerFieldPT, 0},
		opIdx(iplc.OpFBCall, uint16(iplc.FBTypeTON)),
		// var1 := ton.Q
		opIdx(iplc.OpFBLoadInstance, 0),
		[]byte{byte(iplc.OpFBLoadParam), byte(iplc.TypeI32), timerFieldQ, 0},
		opIdx(iplc.OpStoreVarI32, 1),
		op(iplc.OpRetVoid),
	))
	b.Variables = []iplc.VariableEntry{
		{VarType: iplc.TypeFBInstance, Extra: uint16(iplc.FBTypeTON)},
		{VarType: iplc.TypeI32},
	}
	b.Params.FBInstancePoolSize = uint16(timerSlots)

	running := startVM(t, b, nil)

	_, fault := running.RunRound(0)
	require.Nil(t, fault)

	// Second scan lands past PT; the timer output must be high.
	_, fault = running.RunRound(500)
	require.Nil(t, fault)
	assert.Equal(t, int32(1), readI32(t, running.Stop().ReadVariable, 1))
}
