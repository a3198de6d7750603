package scheduler

import (
	"container/heap"

	"github.com/sarchlab/o3sim/insts"
)

// specWakeupEvent is a tagged future-time message: wake the dependents of
// inst in the destination queue at fireCycle. A producer canceled or
// squashed before the event fires renders it a no-op.
type specWakeupEvent struct {
	fireCycle uint64
	seq       uint64
	inst      *insts.DynInst
	to        *IssueQueue
}

// wakeupHeap orders events by fire cycle; same-cycle events fire in
// schedule order.
type wakeupHeap []*specWakeupEvent

func (h wakeupHeap) Len() int { return len(h) }
func (h wakeupHeap) Less(i, j int) bool {
	if h[i].fireCycle != h[j].fireCycle {
		return h[i].fireCycle < h[j].fireCycle
	}
	return h[i].seq < h[j].seq
}
func (h wakeupHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *wakeupHeap) Push(x interface{}) { *h = append(*h, x.(*specWakeupEvent)) }
func (h *wakeupHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// scheduleWakeup enqueues a speculative wake-up for a future cycle.
func (s *Scheduler) scheduleWakeup(inst *insts.DynInst, to *IssueQueue, delay int) {
	ev := &specWakeupEvent{
		fireCycle: s.cycle + uint64(delay),
		seq:       s.eventSeq,
		inst:      inst,
		to:        to,
	}
	s.eventSeq++
	heap.Push(&s.events, ev)
}

// fireWakeups delivers every event due this cycle. It runs at the top of
// Tick so wake-ups are visible to this cycle's select stage.
func (s *Scheduler) fireWakeups() {
	for len(s.events) > 0 && s.events[0].fireCycle <= s.cycle {
		ev := heap.Pop(&s.events).(*specWakeupEvent)
		ev.to.wakeUpDependents(ev.inst, true)
	}
}
