package scheduler

import (
	"github.com/sarchlab/o3sim/insts"
)

// MemDepUnit tracks memory-order dependencies between loads and stores.
// The scheduler hands every memory reference to the unit at insertion and
// expects the unit to call Scheduler.MarkMemDepDone once the instruction's
// memory ordering is resolved.
type MemDepUnit interface {
	Insert(inst *insts.DynInst)
	InsertNonSpec(inst *insts.DynInst)
}

// passThroughMemDep resolves every memory dependence immediately. It is
// the default unit when no external one is attached.
type passThroughMemDep struct {
	sched *Scheduler
}

func (m *passThroughMemDep) Insert(inst *insts.DynInst) {
	m.sched.MarkMemDepDone(inst)
}

func (m *passThroughMemDep) InsertNonSpec(inst *insts.DynInst) {
	inst.SetMemDepDone()
}
