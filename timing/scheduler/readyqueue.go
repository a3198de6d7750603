package scheduler

import (
	"container/heap"

	"github.com/sarchlab/o3sim/insts"
)

// readyQueue orders ready instructions by seqNum ascending, so the oldest
// instruction is always selected first.
type readyQueue struct {
	entries readyHeap
}

type readyHeap []*insts.DynInst

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].SeqNum < h[j].SeqNum }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*insts.DynInst)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	inst := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return inst
}

func newReadyQueue() *readyQueue {
	return &readyQueue{}
}

func (q *readyQueue) push(inst *insts.DynInst) {
	heap.Push(&q.entries, inst)
}

func (q *readyQueue) pop() *insts.DynInst {
	return heap.Pop(&q.entries).(*insts.DynInst)
}

func (q *readyQueue) top() *insts.DynInst {
	return q.entries[0]
}

func (q *readyQueue) empty() bool {
	return len(q.entries) == 0
}

func (q *readyQueue) size() int {
	return len(q.entries)
}

// removeSquashed drops squashed entries, used by the squash path so no
// stale instruction survives in any queue structure.
func (q *readyQueue) removeSquashed() {
	kept := q.entries[:0]
	for _, inst := range q.entries {
		if inst.Squashed() {
			inst.ClearInReadyQ()
			continue
		}
		kept = append(kept, inst)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	heap.Init(&q.entries)
}
