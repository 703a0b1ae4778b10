// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

// Package vm executes verified IronPLC bytecode containers under cyclic
// PLC scan semantics: a cooperative priority scheduler runs program
// instances bound to tasks, one round at a time, over caller-provided
// working memory. The VM lifecycle is modeled as distinct state values
// (Ready, Running, Stopped, Faulted) so an illegal transition is a
// compile-time error.
package vm

import "fmt"

// TrapKind discriminates the structured runtime faults the execute core
// can raise.
type TrapKind uint8

// Trap kinds.
const (
	TrapInvalidOpcode TrapKind = iota + 1
	TrapStackOverflow
	TrapStackUnderflow
	TrapInvalidConstantIndex
	TrapInvalidVariableIndex
	TrapInvalidFunctionID
	TrapDivisionByZero
	TrapArrayOutOfBounds
	TrapWatchdogTimeout
	TrapIntegerOverflow
	TrapCallDepthExceeded
	TrapImageOutOfBounds
	TrapStringPoolExhausted
)

// Trap is a structured runtime fault. A trap terminates the current round
// and drives the VM into the Faulted state; it is never recovered inside
// the VM.
type Trap struct {
	Kind TrapKind `json:"kind"`

	// Opcode is the offending byte for InvalidOpcode.
	Opcode byte `json:"opcode,omitempty"`

	// Index is the offending constant/variable/function index, or the
	// task ID for WatchdogTimeout.
	Index uint16 `json:"index,omitempty"`

	// Array bounds context for ArrayOutOfBounds.
	ArrayIndex int32 `json:"array_index,omitempty"`
	Lower      int32 `json:"lower,omitempty"`
	Upper      int32 `json:"upper,omitempty"`
}

// Error implements error.
func (t Trap) Error() string {
	switch t.Kind {
	case TrapInvalidOpcode:
		return fmt.Sprintf("invalid opcode 0x%02x", t.Opcode)
	case TrapStackOverflow:
		return "stack overflow"
	case TrapStackUnderflow:
		return "stack underflow"
	case TrapInvalidConstantIndex:
		return fmt.Sprintf("invalid constant index %d", t.Index)
	case TrapInvalidVariableIndex:
		return fmt.Sprintf("invalid variable index %d", t.Index)
	case TrapInvalidFunctionID:
		return fmt.Sprintf("invalid function id %d", t.Index)
	case TrapDivisionByZero:
		return "division by zero"
	case TrapArrayOutOfBounds:
		return fmt.Sprintf("array index %d outside [%d, %d]",
			t.ArrayIndex, t.Lower, t.Upper)
	case TrapWatchdogTimeout:
		return fmt.Sprintf("watchdog timeout on task %d", t.Index)
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapCallDepthExceeded:
		return "call depth exceeded"
	case TrapImageOutOfBounds:
		return "process image access out of bounds"
	case TrapStringPoolExhausted:
		return "string buffer pool exhausted"
	default:
		return "unknown trap"
	}
}

// FaultContext is a trap plus the task and program instance that were
// executing when it fired. Produced by a round, consumed by the
// transition to Faulted.
type FaultContext struct {
	Trap       Trap   `json:"trap"`
	TaskID     uint16 `json:"task_id"`
	InstanceID uint16 `json:"instance_id"`
}

// Error implements error.
func (c *FaultContext) Error() string {
	return fmt.Sprintf("VM trap: %v (task %d, instance %d)",
		c.Trap, c.TaskID, c.InstanceID)
}
