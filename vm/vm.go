// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"errors"
	"os"

	"github.com/ironplc/iplc"
	"github.com/ironplc/iplc/log"
)

var (
	// ErrVerifierRejected is returned by Load when the static verifier
	// rejects the bytecode; the underlying rule errors are logged.
	ErrVerifierRejected = errors.New("bytecode rejected by verifier")

	// ErrEntryFunctionMissing is returned by Load when a program
	// instance names an entry function with no body.
	ErrEntryFunctionMissing = errors.New("program instance entry function missing")

	// ErrStringBufsExhausted is returned by Load when the string-typed
	// variables outnumber the declared buffer pool.
	ErrStringBufsExhausted = errors.New("string variables exceed declared buffer count")
)

// Config is the VM startup configuration.
type Config struct {
	// OverflowPolicy selects signed overflow behavior; wrap by default.
	OverflowPolicy OverflowPolicy

	// Clock returns monotonic microseconds; used only to measure task
	// execution time for watchdogs. A nil Clock disables watchdogs. The
	// scheduler itself is driven purely by RunRound's time parameter, so
	// the VM stays deterministic and testable.
	Clock func() uint64

	// ReadInputs and WriteOutputs are the process image hooks: called
	// with a task's input window before its instances run and its output
	// window after. Nil hooks leave the images untouched.
	ReadInputs   func(window []byte)
	WriteOutputs func(window []byte)

	// A custom logger.
	Logger log.Logger
}

// VM is the empty machine; Load produces a VMReady from it. Each lifecycle
// state is a distinct type with its own operations: VMStopped and VMFaulted
// have no RunRound, so running a faulted machine through its VMFaulted
// value is a compile-time error. A transition returns the next state value
// and does not invalidate its receiver; the VMRunning that Stop or Fault
// was called on still accepts calls.
type VM struct {
	cfg    Config
	logger *log.Helper
}

// New creates an empty VM.
func New(cfg *Config) *VM {
	v := VM{}
	if cfg != nil {
		v.cfg = *cfg
	}
	var logger log.Logger
	if v.cfg.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		v.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		v.logger = log.NewHelper(v.cfg.Logger)
	}
	return &v
}

// VMReady is a loaded machine that has not started.
type VMReady struct {
	core *core
}

// VMRunning executes scheduling rounds.
type VMRunning struct {
	core    *core
	stopReq bool
	scans   uint64
}

// VMStopped is a cleanly halted machine; variables remain readable.
type VMStopped struct {
	core  *core
	scans uint64
}

// VMFaulted is a trapped machine, preserved for post-mortem inspection.
type VMFaulted struct {
	core *core
	ctx  FaultContext
}

// core carries the state shared by every lifecycle stage.
type core struct {
	cfg    Config
	logger *log.Helper

	ref   *iplc.ContainerRef
	mem   *Memory
	vars  VariableTable
	stack Stack
	sched scheduler

	strPool  bufferPool
	wstrPool bufferPool
}

// Load validates the caller-provided memory against the container header,
// verifies the bytecode, zero-fills the variable table, lays out FB
// instances and arrays in the arena, and populates the runtime task and
// instance state. A failed load leaves no partial state behind.
func (v *VM) Load(ref *iplc.ContainerRef, mem *Memory) (*VMReady, error) {
	hdr := ref.Header()
	if err := mem.validate(hdr); err != nil {
		return nil, err
	}

	if errs := iplc.Verify(ref); len(errs) > 0 {
		for _, e := range errs {
			v.logger.Errorf("verifier: %v", e)
		}
		return nil, ErrVerifierRejected
	}

	c := &core{
		cfg:    v.cfg,
		logger: v.logger,
		ref:    ref,
		mem:    mem,
		vars:   NewVariableTable(mem.Vars[:hdr.Params.NumVariables]),
		stack:  NewStack(mem.Stack[:hdr.Params.MaxStackDepth]),
		sched: scheduler{
			ref:    ref,
			states: mem.TaskStates,
			ready:  mem.ReadyBuf,
		},
	}

	if err := c.initVariables(); err != nil {
		return nil, err
	}
	if err := c.initInstances(); err != nil {
		return nil, err
	}

	for i := range mem.InputImage {
		mem.InputImage[i] = 0
	}
	for i := range mem.OutputImage {
		mem.OutputImage[i] = 0
	}
	for i := range mem.MemoryImage {
		mem.MemoryImage[i] = 0
	}

	return &VMReady{core: c}, nil
}

// initVariables zero-fills the variable table and assigns string buffers
// and arena regions. Index order makes the layout deterministic: two
// loads of one container agree slot for slot.
func (c *core) initVariables() error {
	hdr := c.ref.Header()

	numStrVars, numWStrVars := 0, 0
	for i := uint16(0); i < c.ref.NumVariables(); i++ {
		switch c.ref.Variable(i).VarType {
		case iplc.TypeString:
			numStrVars++
		case iplc.TypeWString:
			numWStrVars++
		}
	}
	if numStrVars > int(hdr.Params.NumStringBufs) ||
		numWStrVars > int(hdr.Params.NumWStringBufs) {
		return ErrStringBufsExhausted
	}

	c.strPool = newBufferPool(c.mem.StrBufs, int(hdr.Params.StringBufCap),
		int(hdr.Params.NumStringBufs), numStrVars)
	c.wstrPool = newBufferPool(c.mem.WStrBufs, int(hdr.Params.WStringBufCap),
		int(hdr.Params.NumWStringBufs), numWStrVars)
	c.strPool.reset()
	c.wstrPool.reset()

	arena := c.mem.Arena[:hdr.Params.FBInstancePoolSize]
	for i := range arena {
		arena[i] = Slot{}
	}
	alloc := arenaAllocator{ref: c.ref, size: len(arena)}

	nextStr, nextWStr := uint16(0), uint16(0)
	for i := uint16(0); i < c.ref.NumVariables(); i++ {
		entry := c.ref.Variable(i)
		var slot Slot
		switch {
		case entry.IsArray():
			base, ok := alloc.allocArray(entry.Extra)
			if !ok {
				return ErrArenaExhausted
			}
			slot = Slot{Tag: iplc.TagU32, Bits: uint64(base)}
		case entry.VarType == iplc.TypeFBInstance:
			base, ok := alloc.allocFB(entry.Extra)
			if !ok {
				return ErrArenaExhausted
			}
			slot = fbRefSlot(uint16(base))
		case entry.VarType == iplc.TypeString:
			slot = strBufSlot(nextStr)
			nextStr++
		case entry.VarType == iplc.TypeWString:
			slot = wstrBufSlot(nextWStr)
			nextWStr++
		default:
			slot = Slot{Tag: tagFor(entry.VarType)}
		}
		c.mem.Vars[i] = slot
	}

	for _, init := range alloc.slotInit {
		arena[init.offset] = init.value
	}
	return nil
}

// initInstances resolves every program instance binding once, at load.
func (c *core) initInstances() error {
	shared := c.ref.SharedGlobalsSize()
	for i := uint16(0); i < c.ref.NumInstances(); i++ {
		inst := c.ref.Instance(i)
		entry, ok := c.ref.FunctionByID(inst.EntryFunctionID)
		if !ok {
			return ErrEntryFunctionMissing
		}
		c.mem.Instances[i] = InstanceState{
			InstanceID: inst.InstanceID,
			TaskID:     inst.TaskID,
			Entry:      entry,
			Scope: VariableScope{
				SharedGlobalsSize: shared,
				InstanceOffset:    inst.VarTableOffset,
				InstanceCount:     inst.VarTableCount,
			},
		}
	}
	return nil
}

// Start transitions to Running: the scan counter resets and cyclic tasks
// become due immediately.
func (r *VMReady) Start() *VMRunning {
	r.core.sched.initStates(0)
	return &VMRunning{core: r.core}
}

// RequestStop sets the cooperative stop flag. The round loop of the host
// checks it between rounds only; effective latency is one round.
func (r *VMRunning) RequestStop() {
	r.stopReq = true
}

// StopRequested reports the cooperative stop flag.
func (r *VMRunning) StopRequested() bool {
	return r.stopReq
}

// ScanCount returns the number of completed rounds that ran at least one
// task.
func (r *VMRunning) ScanCount() uint64 {
	return r.scans
}

// RunRound executes one scheduling round at nowUS: collect ready tasks,
// run each task's program instances in priority order, enforce watchdogs
// and update timing state. When no task is ready it returns the earliest
// upcoming deadline as a sleep hint. A non-nil FaultContext means the
// round trapped; the caller must transition with Fault and stop calling
// RunRound.
func (r *VMRunning) RunRound(nowUS uint64) (uint64, *FaultContext) {
	c := r.core
	n, nextDue := c.sched.collectReady(nowUS, &c.vars)
	if n == 0 {
		return nextDue, nil
	}

	for k := 0; k < n; k++ {
		taskIdx := c.sched.ready[k]
		task := c.ref.Task(taskIdx)

		// Input freeze: present the task's input window to the host hook
		// before any of its instances read it.
		if c.cfg.ReadInputs != nil {
			if win := window(c.mem.InputImage, task.InputImageOffset,
				task.InputImageSize); win != nil {
				c.cfg.ReadInputs(win)
			}
		}

		var started uint64
		if c.cfg.Clock != nil {
			started = c.cfg.Clock()
		}

		for i := uint16(0); i < c.ref.NumInstances(); i++ {
			inst := &c.mem.Instances[i]
			if inst.TaskID != task.TaskID {
				continue
			}
			x := execCtx{
				ref:      c.ref,
				stack:    &c.stack,
				vars:     &c.vars,
				arena:    c.mem.Arena,
				frames:   c.mem.Frames,
				strPool:  &c.strPool,
				wstrPool: &c.wstrPool,
				scratch:  c.mem.Scratch,
				input:    c.mem.InputImage,
				output:   c.mem.OutputImage,
				mem:      c.mem.MemoryImage,
				task:     task,
				scope:    inst.Scope,
				policy:   c.cfg.OverflowPolicy,
				nowUS:    nowUS,
			}
			if trap := x.runFunction(inst.Entry); trap != nil {
				return 0, &FaultContext{
					Trap:       *trap,
					TaskID:     task.TaskID,
					InstanceID: inst.InstanceID,
				}
			}
		}

		var elapsed uint64
		if c.cfg.Clock != nil {
			elapsed = c.cfg.Clock() - started
		}
		if task.WatchdogUS > 0 && c.cfg.Clock != nil &&
			elapsed > uint64(task.WatchdogUS) {
			return 0, &FaultContext{
				Trap:   Trap{Kind: TrapWatchdogTimeout, Index: task.TaskID},
				TaskID: task.TaskID,
			}
		}

		c.sched.recordExecution(taskIdx, elapsed)
		c.sched.finishCyclic(taskIdx, nowUS)

		// Output flush: hand the task's output window to the host hook.
		if c.cfg.WriteOutputs != nil {
			if win := window(c.mem.OutputImage, task.OutputImageOffset,
				task.OutputImageSize); win != nil {
				c.cfg.WriteOutputs(win)
			}
		}
	}

	r.scans++
	return nextDue, nil
}

func window(img []byte, off, size uint16) []byte {
	end := int(off) + int(size)
	if size == 0 || end > len(img) {
		return nil
	}
	return img[off:end]
}

// Stop transitions to Stopped. Variables and counters stay readable.
func (r *VMRunning) Stop() *VMStopped {
	return &VMStopped{core: r.core, scans: r.scans}
}

// Fault transitions to Faulted after a trapped round, preserving the
// variable table for post-mortem inspection.
func (r *VMRunning) Fault(ctx *FaultContext) *VMFaulted {
	return &VMFaulted{core: r.core, ctx: *ctx}
}

// TaskState returns a copy of the runtime state of task index i.
func (r *VMRunning) TaskState(i uint16) (TaskState, bool) {
	if i >= r.core.ref.NumTasks() {
		return TaskState{}, false
	}
	return r.core.sched.states[i], true
}

// NumVariables returns the variable table length.
func (s *VMStopped) NumVariables() uint16 {
	return s.core.ref.NumVariables()
}

// ReadVariable reads variable i for inspection.
func (s *VMStopped) ReadVariable(i uint16) (Slot, bool) {
	return s.core.vars.Peek(i)
}

// ScanCount returns the number of completed rounds.
func (s *VMStopped) ScanCount() uint64 {
	return s.scans
}

// Trap returns the trap that faulted the machine.
func (f *VMFaulted) Trap() Trap {
	return f.ctx.Trap
}

// TaskID returns the task that was executing when the trap fired.
func (f *VMFaulted) TaskID() uint16 {
	return f.ctx.TaskID
}

// InstanceID returns the program instance that trapped.
func (f *VMFaulted) InstanceID() uint16 {
	return f.ctx.InstanceID
}

// NumVariables returns the variable table length.
func (f *VMFaulted) NumVariables() uint16 {
	return f.core.ref.NumVariables()
}

// ReadVariable reads variable i for post-mortem inspection.
func (f *VMFaulted) ReadVariable(i uint16) (Slot, bool) {
	return f.core.vars.Peek(i)
}
