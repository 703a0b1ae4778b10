// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package iplc

import (
	"encoding/binary"
	"errors"
)

// Task entry sizes on the wire.
const (
	TaskTableHeaderSize = 8
	TaskEntrySize       = 32
	ProgramInstanceSize = 16
)

var (
	// ErrTaskBinding is returned when a program instance names a task
	// that does not exist.
	ErrTaskBinding = errors.New("program instance bound to undefined task")

	// ErrVarPartition is returned when a program instance's variable
	// partition lies outside the global variable range.
	ErrVarPartition = errors.New("program instance variable partition out of range")
)

// TaskEntry is one immutable task table record. Fixed 32 bytes on the wire.
type TaskEntry struct {
	// TaskID identifies the task; ties in priority break by ascending ID.
	TaskID uint16 `json:"task_id"`

	// Priority orders execution within a round, ascending.
	Priority uint8 `json:"priority"`

	// Type selects the scheduling discipline.
	Type TaskType `json:"type"`

	// Flags is reserved.
	Flags uint16 `json:"flags"`

	// SingleVarIndex is the variable monitored by event tasks.
	SingleVarIndex uint16 `json:"single_var_index"`

	// IntervalUS is the cyclic period in microseconds.
	IntervalUS uint32 `json:"interval_us"`

	// WatchdogUS bounds one execution of the task; zero disables the
	// watchdog.
	WatchdogUS uint32 `json:"watchdog_us"`

	// Process image windows assigned to the task.
	InputImageOffset  uint16 `json:"input_image_offset"`
	InputImageSize    uint16 `json:"input_image_size"`
	OutputImageOffset uint16 `json:"output_image_offset"`
	OutputImageSize   uint16 `json:"output_image_size"`

	Reserved [8]byte `json:"-"`
}

// ProgramInstance binds an entry function to a variable partition under a
// task. Fixed 16 bytes on the wire.
type ProgramInstance struct {
	InstanceID      uint16 `json:"instance_id"`
	TaskID          uint16 `json:"task_id"`
	EntryFunctionID uint16 `json:"entry_function_id"`

	// Variable partition of the instance: [VarTableOffset,
	// VarTableOffset+VarTableCount) in the global variable table.
	VarTableOffset uint16 `json:"var_table_offset"`
	VarTableCount  uint16 `json:"var_table_count"`

	// FB instance arena partition of the instance.
	FBInstanceOffset uint16 `json:"fb_instance_offset"`
	FBInstanceCount  uint16 `json:"fb_instance_count"`

	Reserved uint16 `json:"-"`
}

// TaskTable is the parsed task table section.
type TaskTable struct {
	// SharedGlobalsSize is the number of variable table slots at the head
	// of the table visible to every program instance.
	SharedGlobalsSize uint16 `json:"shared_globals_size"`

	Tasks     []TaskEntry       `json:"tasks"`
	Instances []ProgramInstance `json:"instances"`
}

// TaskByID returns the task with the given ID.
func (t *TaskTable) TaskByID(id uint16) (TaskEntry, bool) {
	for _, task := range t.Tasks {
		if task.TaskID == id {
			return task, true
		}
	}
	return TaskEntry{}, false
}

// ParseTaskTable parses and validates the task table section.
func (f *File) ParseTaskTable() error {
	data := f.SectionBytes(SectionTaskTable)
	if data == nil {
		return ErrMissingSection
	}
	if len(data) < TaskTableHeaderSize {
		return ErrInsufficientBytes
	}

	numTasks := int(binary.LittleEndian.Uint16(data))
	numInstances := int(binary.LittleEndian.Uint16(data[2:]))
	shared := binary.LittleEndian.Uint16(data[4:])

	want := TaskTableHeaderSize + numTasks*TaskEntrySize + numInstances*ProgramInstanceSize
	if len(data) < want {
		return ErrInsufficientBytes
	}

	tt := TaskTable{
		SharedGlobalsSize: shared,
		Tasks:             make([]TaskEntry, numTasks),
		Instances:         make([]ProgramInstance, numInstances),
	}

	pos := TaskTableHeaderSize
	for i := 0; i < numTasks; i++ {
		e := data[pos : pos+TaskEntrySize]
		task := TaskEntry{
			TaskID:            binary.LittleEndian.Uint16(e),
			Priority:          e[2],
			Type:              TaskType(e[3]),
			Flags:             binary.LittleEndian.Uint16(e[4:]),
			SingleVarIndex:    binary.LittleEndian.Uint16(e[6:]),
			IntervalUS:        binary.LittleEndian.Uint32(e[8:]),
			WatchdogUS:        binary.LittleEndian.Uint32(e[12:]),
			InputImageOffset:  binary.LittleEndian.Uint16(e[16:]),
			InputImageSize:    binary.LittleEndian.Uint16(e[18:]),
			OutputImageOffset: binary.LittleEndian.Uint16(e[20:]),
			OutputImageSize:   binary.LittleEndian.Uint16(e[22:]),
		}
		if !task.Type.IsValid() {
			return InvalidTaskTypeError{Value: uint8(task.Type)}
		}
		tt.Tasks[i] = task
		pos += TaskEntrySize
	}

	for i := 0; i < numInstances; i++ {
		e := data[pos : pos+ProgramInstanceSize]
		inst := ProgramInstance{
			InstanceID:       binary.LittleEndian.Uint16(e),
			TaskID:           binary.LittleEndian.Uint16(e[2:]),
			EntryFunctionID:  binary.LittleEndian.Uint16(e[4:]),
			VarTableOffset:   binary.LittleEndian.Uint16(e[6:]),
			VarTableCount:    binary.LittleEndian.Uint16(e[8:]),
			FBInstanceOffset: binary.LittleEndian.Uint16(e[10:]),
			FBInstanceCount:  binary.LittleEndian.Uint16(e[12:]),
		}
		if _, ok := taskByID(tt.Tasks, inst.TaskID); !ok {
			return ErrTaskBinding
		}
		end := uint32(inst.VarTableOffset) + uint32(inst.VarTableCount)
		if end > uint32(f.Header.Params.NumVariables) {
			return ErrVarPartition
		}
		tt.Instances[i] = inst
		pos += ProgramInstanceSize
	}

	f.TaskTable = tt
	return nil
}

func taskByID(tasks []TaskEntry, id uint16) (TaskEntry, bool) {
	for _, t := range tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskEntry{}, false
}
