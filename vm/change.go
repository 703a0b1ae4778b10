// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"bytes"
	"errors"

	"github.com/ironplc/iplc"
)

// ErrLayoutIncompatible is returned when an online program change carries
// a different layout hash; the caller must stop and load fresh.
var ErrLayoutIncompatible = errors.New("layout hash differs; online change rejected")

// ApplyProgramChange swaps in a new container while Running, keeping
// variable memory intact. Legal only between rounds — the caller invokes
// it from its round loop, where the VM is at a consistent scan cycle
// boundary. The new container must carry the same layout hash (same
// variables, FB layouts and arrays); only logic and constants may differ.
func (r *VMRunning) ApplyProgramChange(newRef *iplc.ContainerRef) error {
	cur := r.core.ref.Header()
	nxt := newRef.Header()

	if !bytes.Equal(cur.LayoutHash[:], nxt.LayoutHash[:]) {
		return ErrLayoutIncompatible
	}
	// The scheduler and instance state survive the swap, so the task
	// topology must match too.
	if cur.Params.NumTasks != nxt.Params.NumTasks ||
		cur.Params.NumProgramInstances != nxt.Params.NumProgramInstances {
		return ErrLayoutIncompatible
	}
	if err := r.core.mem.validate(nxt); err != nil {
		return err
	}

	if errs := iplc.Verify(newRef); len(errs) > 0 {
		for _, e := range errs {
			r.core.logger.Errorf("online change verifier: %v", e)
		}
		return ErrVerifierRejected
	}

	// Every instance binding must resolve in the new code section before
	// anything is swapped.
	for i := uint16(0); i < newRef.NumInstances(); i++ {
		if _, ok := newRef.FunctionByID(newRef.Instance(i).EntryFunctionID); !ok {
			return ErrEntryFunctionMissing
		}
	}

	// Atomic at the round boundary: swap every reference, then re-resolve
	// the bindings against the new code section.
	r.core.ref = newRef
	r.core.sched.ref = newRef
	return r.core.initInstances()
}
