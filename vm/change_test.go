// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"testing"

	"github.com/ironplc/iplc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adderProgram increments var0 by the given constant each scan; layout is
// identical across step values, only the constant pool differs.
func adderProgram(step int32) *iplc.Builder {
	return freewheelingProgram(1, []iplc.Constant{i32Const(step)}, 2, asm(
		opIdx(iplc.OpLoadVarI32, 0),
		opIdx(iplc.OpLoadConstI32, 0),
		op(iplc.OpAddI32),
		opIdx(iplc.OpStoreVarI32, 0),
		op(iplc.OpRetVoid),
	))
}

func TestOnlineChangeKeepsVariables(t *testing.T) {
	running := startVM(t, adderProgram(1), nil)
	for i := 0; i < 3; i++ {
		_, fault := running.RunRound(uint64(i))
		require.Nil(t, fault)
	}

	// Swap in logic that adds 2; variable memory must survive.
	newRef := buildRef(t, adderProgram(2))
	require.NoError(t, running.ApplyProgramChange(newRef))

	for i := 3; i < 5; i++ {
		_, fault := running.RunRound(uint64(i))
		require.Nil(t, fault)
	}
	assert.Equal(t, int32(3+2*2), readI32(t, running.Stop().ReadVariable, 0))
}

func TestOnlineChangeRejectsLayoutChange(t *testing.T) {
	running := startVM(t, adderProgram(1), nil)

	// A second variable changes the layout hash.
	changed := adderProgram(1)
	changed.Variables = append(changed.Variables,
		iplc.VariableEntry{VarType: iplc.TypeI32})
	changed.Instances[0].VarTableCount = 2
	newRef := buildRef(t, changed)

	err := running.ApplyProgramChange(newRef)
	assert.ErrorIs(t, err, ErrLayoutIncompatible)
}

func TestOnlineChangeRejectsBadBytecode(t *testing.T) {
	running := startVM(t, adderProgram(1), nil)

	bad := adderProgram(1)
	bad.Functions[0].Code = asm(op(iplc.Opcode(0xFF)))
	newRef := buildRef(t, bad)

	err := running.ApplyProgramChange(newRef)
	assert.ErrorIs(t, err, ErrVerifierRejected)
}
