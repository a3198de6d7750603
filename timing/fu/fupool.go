// Package fu provides a minimal functional-unit pool for driving the
// scheduler end to end.
//
// The pool pulls issued instructions from the scheduler, counts down their
// advertised latency, raises the bypass notification one cycle before the
// register-file write, and retires instructions through the writeback
// wake-up. Loads can be forced to miss through the ShouldLoadMiss hook,
// which triggers the scheduler's cancel-replay path instead of the bypass.
package fu

import (
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/scheduler"
)

type entry struct {
	inst      *insts.DynInst
	remaining int
}

// Pool models the execution stage behind the scheduler's issue ports.
type Pool struct {
	sched    *scheduler.Scheduler
	inflight []*entry

	// ShouldLoadMiss, when set, is consulted as a load's result would hit
	// the bypass network; returning true turns the load into an L1 miss.
	ShouldLoadMiss func(inst *insts.DynInst) bool

	// OnRetire, when set, observes every instruction at writeback.
	OnRetire func(inst *insts.DynInst)

	// Retired counts completed instructions.
	Retired uint64
}

// NewPool creates a pool attached to the scheduler.
func NewPool(sched *scheduler.Scheduler) *Pool {
	return &Pool{sched: sched}
}

// Busy returns the number of in-flight instructions.
func (p *Pool) Busy() int { return len(p.inflight) }

// Tick advances execution one cycle. Call it before Scheduler.Tick so
// bypass and writeback notifications precede wake-up and selection.
func (p *Pool) Tick() {
	kept := p.inflight[:0]
	for _, e := range p.inflight {
		e.remaining--
		switch {
		case e.remaining == 0:
			if e.inst.IsLoad() && p.ShouldLoadMiss != nil && p.ShouldLoadMiss(e.inst) {
				// data did not arrive; consumers must be canceled
				p.sched.LoadCancel(e.inst)
				continue
			}
			p.sched.BypassWriteback(e.inst)
			kept = append(kept, e)
		case e.remaining < 0:
			p.sched.WritebackWakeup(e.inst)
			p.Retired++
			if p.OnRetire != nil {
				p.OnRetire(e.inst)
			}
		default:
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.inflight); i++ {
		p.inflight[i] = nil
	}
	p.inflight = kept
}

// Collect pulls every instruction the scheduler issued this cycle. Call
// it after Scheduler.IssueAndSelect.
func (p *Pool) Collect() {
	for {
		inst := p.sched.GetInstToFU()
		if inst == nil {
			return
		}
		p.inflight = append(p.inflight, &entry{
			inst:      inst,
			remaining: p.sched.CorrectedOpLatency(inst),
		})
	}
}
