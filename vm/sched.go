// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"github.com/ironplc/iplc"
)

// TaskState is the mutable runtime state of one task, kept apart from the
// immutable task table entry in the container.
type TaskState struct {
	// Enabled tasks participate in scheduling. All tasks start enabled.
	Enabled bool

	// NextDueUS is the next deadline of a cyclic task.
	NextDueUS uint64

	// ScanCount counts completed executions.
	ScanCount uint64

	// LastExecuteUS and MaxExecuteUS track observed execution time.
	LastExecuteUS uint64
	MaxExecuteUS  uint64

	// OverrunCount counts deadline overruns of a cyclic task.
	OverrunCount uint64

	// lastEventLevel is the edge detector memory of an event task.
	lastEventLevel bool
}

// InstanceState is the resolved runtime binding of one program instance:
// its entry function and variable scope, cached at load so rounds do not
// re-resolve them.
type InstanceState struct {
	InstanceID uint16
	TaskID     uint16
	Entry      iplc.FunctionEntry
	Scope      VariableScope
}

// scheduler selects ready tasks each round and keeps per-task timing
// state. It is a routine of the VM's single execution thread; nothing
// here is safe for concurrent use.
type scheduler struct {
	ref    *iplc.ContainerRef
	states []TaskState
	ready  []uint16
}

// collectReady fills the ready buffer with the indices of tasks ready at
// nowUS, ordered by ascending priority then ascending task ID, and
// returns the ready count plus the earliest upcoming deadline (0 when no
// cyclic task is pending).
func (s *scheduler) collectReady(nowUS uint64, vars *VariableTable) (int, uint64) {
	n := 0
	var nextDue uint64

	for i := uint16(0); i < s.ref.NumTasks(); i++ {
		task := s.ref.Task(i)
		st := &s.states[i]
		if !st.Enabled {
			continue
		}

		ready := false
		switch task.Type {
		case iplc.TaskFreewheeling:
			ready = true
		case iplc.TaskCyclic:
			if nowUS >= st.NextDueUS {
				ready = true
			} else if nextDue == 0 || st.NextDueUS < nextDue {
				nextDue = st.NextDueUS
			}
		case iplc.TaskEvent:
			// Ready on a rising edge of the monitored variable since
			// the last check.
			level := false
			if v, ok := vars.Peek(task.SingleVarIndex); ok {
				level = v.Bool()
			}
			ready = level && !st.lastEventLevel
			st.lastEventLevel = level
		}
		if ready {
			s.ready[n] = i
			n++
		}
	}

	// Insertion sort by (priority, task id); the ready set is small and
	// the buffer is caller-provided, so no allocation.
	for i := 1; i < n; i++ {
		for j := i; j > 0; j-- {
			a := s.ref.Task(s.ready[j-1])
			b := s.ref.Task(s.ready[j])
			if a.Priority < b.Priority ||
				(a.Priority == b.Priority && a.TaskID <= b.TaskID) {
				break
			}
			s.ready[j-1], s.ready[j] = s.ready[j], s.ready[j-1]
		}
	}
	return n, nextDue
}

// finishCyclic advances a cyclic task's deadline after execution. An
// execution that completes past its next deadline records an overrun and
// realigns to now, so deadlines never run away.
func (s *scheduler) finishCyclic(taskIdx uint16, nowUS uint64) {
	task := s.ref.Task(taskIdx)
	if task.Type != iplc.TaskCyclic {
		return
	}
	st := &s.states[taskIdx]
	st.NextDueUS += uint64(task.IntervalUS)
	if st.NextDueUS <= nowUS {
		st.OverrunCount++
		st.NextDueUS = nowUS + uint64(task.IntervalUS)
	}
}

// recordExecution updates the execution statistics of a task.
func (s *scheduler) recordExecution(taskIdx uint16, elapsedUS uint64) {
	st := &s.states[taskIdx]
	st.ScanCount++
	st.LastExecuteUS = elapsedUS
	if elapsedUS > st.MaxExecuteUS {
		st.MaxExecuteUS = elapsedUS
	}
}

// initStates seeds the runtime task state from the task table: every task
// enabled, cyclic deadlines due at start.
func (s *scheduler) initStates(startUS uint64) {
	for i := range s.states[:s.ref.NumTasks()] {
		task := s.ref.Task(uint16(i))
		s.states[i] = TaskState{Enabled: true}
		if task.Type == iplc.TaskCyclic {
			s.states[i].NextDueUS = startUS
		}
	}
}
