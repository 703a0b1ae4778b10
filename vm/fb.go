// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package vm

import (
	"github.com/ironplc/iplc"
)

// FB instances live in a contiguous slot arena; an fb_ref on the stack is
// an offset into it. Field access adds a compile-time field index to the
// offset, so no pointer graph exists and cycles are impossible by
// construction. Intrinsic FBs keep hidden state in extra slots past their
// declared fields.

// Field indices of the timer intrinsics (TON/TOF/TP share a layout).
const (
	timerFieldIN = iota
	timerFieldPT
	timerFieldQ
	timerFieldET
	timerHiddenStart
	timerHiddenRunning
	timerSlots
)

// Field indices of the counter intrinsics.
const (
	ctrFieldTrig = iota // CU or CD
	ctrFieldCtl         // RESET or LOAD
	ctrFieldPV
	ctrFieldQ
	ctrFieldCV
	ctrHiddenPrev
	ctrSlots
)

// Field indices of the edge detector intrinsics.
const (
	trigFieldCLK = iota
	trigFieldQ
	trigHiddenPrev
	trigSlots
)

// intrinsicSlots returns the arena footprint of an intrinsic FB type.
func intrinsicSlots(typeID uint16) int {
	switch typeID {
	case iplc.FBTypeTON, iplc.FBTypeTOF, iplc.FBTypeTP:
		return timerSlots
	case iplc.FBTypeCTU, iplc.FBTypeCTD:
		return ctrSlots
	case iplc.FBTypeRTrig, iplc.FBTypeFTrig:
		return trigSlots
	default:
		return 0
	}
}

// runIntrinsic executes one invocation of a standard function block over
// its arena window. nowUS is the round's time parameter; the timers are
// as deterministic as the caller's clock.
func runIntrinsic(typeID uint16, fb []Slot, nowUS uint64) {
	switch typeID {
	case iplc.FBTypeTON:
		runTON(fb, nowUS)
	case iplc.FBTypeTOF:
		runTOF(fb, nowUS)
	case iplc.FBTypeTP:
		runTP(fb, nowUS)
	case iplc.FBTypeCTU:
		runCTU(fb)
	case iplc.FBTypeCTD:
		runCTD(fb)
	case iplc.FBTypeRTrig:
		q := fb[trigFieldCLK].Bool() && !fb[trigHiddenPrev].Bool()
		fb[trigHiddenPrev] = fb[trigFieldCLK]
		fb[trigFieldQ] = boolSlot(q)
	case iplc.FBTypeFTrig:
		q := !fb[trigFieldCLK].Bool() && fb[trigHiddenPrev].Bool()
		fb[trigHiddenPrev] = fb[trigFieldCLK]
		fb[trigFieldQ] = boolSlot(q)
	}
}

// runTON implements the on-delay timer: Q rises PT after IN rises and
// falls with IN.
func runTON(fb []Slot, nowUS uint64) {
	in := fb[timerFieldIN].Bool()
	pt := fb[timerFieldPT].I64()

	if !in {
		fb[timerFieldQ] = boolSlot(false)
		fb[timerFieldET] = timeSlot(0)
		fb[timerHiddenRunning] = boolSlot(false)
		return
	}
	if !fb[timerHiddenRunning].Bool() {
		fb[timerHiddenStart] = u64Slot(nowUS)
		fb[timerHiddenRunning] = boolSlot(true)
	}
	et := int64(nowUS - fb[timerHiddenStart].U64())
	if et >= pt {
		et = pt
		fb[timerFieldQ] = boolSlot(true)
	} else {
		fb[timerFieldQ] = boolSlot(false)
	}
	fb[timerFieldET] = timeSlot(et)
}

// runTOF implements the off-delay timer: Q follows IN up and holds for PT
// after IN falls.
func runTOF(fb []Slot, nowUS uint64) {
	in := fb[timerFieldIN].Bool()
	pt := fb[timerFieldPT].I64()

	if in {
		fb[timerFieldQ] = boolSlot(true)
		fb[timerFieldET] = timeSlot(0)
		fb[timerHiddenRunning] = boolSlot(false)
		return
	}
	if !fb[timerHiddenRunning].Bool() {
		// Falling edge: remember when IN dropped. A timer that never saw
		// IN high stays off.
		if fb[timerFieldQ].Bool() {
			fb[timerHiddenStart] = u64Slot(nowUS)
			fb[timerHiddenRunning] = boolSlot(true)
		} else {
			return
		}
	}
	et := int64(nowUS - fb[timerHiddenStart].U64())
	if et >= pt {
		et = pt
		fb[timerFieldQ] = boolSlot(false)
	}
	fb[timerFieldET] = timeSlot(et)
}

// runTP implements the pulse timer: a rising edge on IN emits a Q pulse
// of exactly PT; the pulse is not retriggerable while running.
func runTP(fb []Slot, nowUS uint64) {
	in := fb[timerFieldIN].Bool()
	pt := fb[timerFieldPT].I64()
	running := fb[timerHiddenRunning].Bool()

	if running {
		et := int64(nowUS - fb[timerHiddenStart].U64())
		if et >= pt {
			fb[timerFieldQ] = boolSlot(false)
			fb[timerFieldET] = timeSlot(pt)
			if !in {
				fb[timerHiddenRunning] = boolSlot(false)
				fb[timerFieldET] = timeSlot(0)
			}
		} else {
			fb[timerFieldET] = timeSlot(et)
		}
		return
	}
	if in && !fb[timerFieldQ].Bool() {
		fb[timerHiddenStart] = u64Slot(nowUS)
		fb[timerHiddenRunning] = boolSlot(true)
		fb[timerFieldQ] = boolSlot(true)
		fb[timerFieldET] = timeSlot(0)
	}
}

func runCTU(fb []Slot) {
	cu := fb[ctrFieldTrig].Bool()
	reset := fb[ctrFieldCtl].Bool()
	pv := fb[ctrFieldPV].I32()
	cv := fb[ctrFieldCV].I32()

	if reset {
		cv = 0
	} else if cu && !fb[ctrHiddenPrev].Bool() && cv < pv {
		cv++
	}
	fb[ctrHiddenPrev] = boolSlot(cu)
	fb[ctrFieldCV] = i32Slot(cv)
	fb[ctrFieldQ] = boolSlot(cv >= pv)
}

func runCTD(fb []Slot) {
	cd := fb[ctrFieldTrig].Bool()
	load := fb[ctrFieldCtl].Bool()
	pv := fb[ctrFieldPV].I32()
	cv := fb[ctrFieldCV].I32()

	if load {
		cv = pv
	} else if cd && !fb[ctrHiddenPrev].Bool() && cv > 0 {
		cv--
	}
	fb[ctrHiddenPrev] = boolSlot(cd)
	fb[ctrFieldCV] = i32Slot(cv)
	fb[ctrFieldQ] = boolSlot(cv <= 0)
}

// arenaAllocator assigns arena offsets to every FB instance and array
// variable, walking the variable table in index order so two loads of the
// same container always produce the same layout. Nested FB fields
// allocate immediately after their parent.
type arenaAllocator struct {
	ref      *iplc.ContainerRef
	next     int
	size     int
	slotInit []arenaInit
}

func (a *arenaAllocator) allocFB(typeID uint16) (int, bool) {
	if typeID >= iplc.IntrinsicFBBase {
		return a.take(intrinsicSlots(typeID))
	}
	idx, ok := a.ref.FBDescriptorIndex(typeID)
	if !ok {
		return 0, false
	}
	numFields := int(a.ref.FBNumFields(idx))
	base, ok := a.take(numFields)
	if !ok {
		return 0, false
	}
	for j := 0; j < numFields; j++ {
		fld := a.ref.FBFieldAt(idx, uint16(j))
		if fld.FieldType == iplc.TypeFBInstance {
			nested, ok := a.allocFB(fld.FieldExtra)
			if !ok {
				return 0, false
			}
			// The parent field holds the nested instance's offset.
			a.slotInit = append(a.slotInit, arenaInit{
				offset: base + j,
				value:  fbRefSlot(uint16(nested)),
			})
		}
	}
	return base, true
}

func (a *arenaAllocator) allocArray(descIdx uint16) (int, bool) {
	if descIdx >= a.ref.NumArrayDescs() {
		return 0, false
	}
	return a.take(a.ref.ArrayDesc(descIdx).Len())
}

func (a *arenaAllocator) take(n int) (int, bool) {
	if a.next+n > a.size {
		return 0, false
	}
	base := a.next
	a.next += n
	return base, true
}

// arenaInit records an arena slot that must be pre-set after zero-fill
// (nested fb_ref fields).
type arenaInit struct {
	offset int
	value  Slot
}
