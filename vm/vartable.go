// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

// VariableScope is the window of the global variable table a program
// instance may touch: the shared-globals prefix plus its own partition.
// It is the runtime defense in depth behind the verifier's static bounds
// check; with a verified container the trap is unreachable.
type VariableScope struct {
	SharedGlobalsSize uint16
	InstanceOffset    uint16
	InstanceCount     uint16
}

// Contains reports whether index i is accessible under the scope.
func (sc VariableScope) Contains(i uint16) bool {
	if i < sc.SharedGlobalsSize {
		return true
	}
	return i >= sc.InstanceOffset && i < sc.InstanceOffset+sc.InstanceCount
}

// VariableTable is the typed variable storage of a loaded program: a
// caller-provided slice of slots partitioned into a shared-globals prefix
// and per-instance regions. Array variables own a run of element slots in
// the separate element arena, addressed through their descriptor.
type VariableTable struct {
	slots []Slot
}

// NewVariableTable wraps a backing slice.
func NewVariableTable(backing []Slot) VariableTable {
	return VariableTable{slots: backing}
}

// Len returns the table length.
func (t *VariableTable) Len() int {
	return len(t.slots)
}

// Load reads slot i under the scope.
func (t *VariableTable) Load(i uint16, sc VariableScope) (Slot, *Trap) {
	if int(i) >= len(t.slots) || !sc.Contains(i) {
		return Slot{}, &Trap{Kind: TrapInvalidVariableIndex, Index: i}
	}
	return t.slots[i], nil
}

// Store writes slot i under the scope.
func (t *VariableTable) Store(i uint16, v Slot, sc VariableScope) *Trap {
	if int(i) >= len(t.slots) || !sc.Contains(i) {
		return &Trap{Kind: TrapInvalidVariableIndex, Index: i}
	}
	t.slots[i] = v
	return nil
}

// Peek reads slot i without scope enforcement; post-mortem readers and
// the event-task edge detector use it.
func (t *VariableTable) Peek(i uint16) (Slot, bool) {
	if int(i) >= len(t.slots) {
		return Slot{}, false
	}
	return t.slots[i], true
}
