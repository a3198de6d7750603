package scheduler

import (
	"github.com/sarchlab/o3sim/insts"
)

// issueStreamSlots bounds the number of instructions a queue can move from
// schedule toward the functional units in one cycle.
const issueStreamSlots = 8

// IssueStream is one stage of the delay pipeline: the instructions that
// entered it in a single cycle.
type IssueStream struct {
	size  int
	insts [issueStreamSlots]*insts.DynInst
}

// Push appends an instruction to the stream.
func (s *IssueStream) Push(inst *insts.DynInst) {
	if s.size >= issueStreamSlots {
		panic("issue stream overflow")
	}
	s.insts[s.size] = inst
	s.size++
}

// Pop removes and returns the last instruction. Slots nulled by squash or
// cancel return nil.
func (s *IssueStream) Pop() *insts.DynInst {
	if s.size <= 0 {
		panic("pop from empty issue stream")
	}
	s.size--
	return s.insts[s.size]
}

// Size returns the number of occupied slots, including nulled ones.
func (s *IssueStream) Size() int { return s.size }

// TimeBuffer is the fixed-depth conveyor carrying issue streams from the
// schedule stage to the functional-unit input. It behaves like a shift
// register advanced once per cycle: At(0) is the slot written this cycle,
// At(-n) the slot written n cycles ago.
type TimeBuffer struct {
	depth int
	base  int
	slots []IssueStream
}

// NewTimeBuffer creates a time buffer spanning offsets 0..-depth.
func NewTimeBuffer(depth int) *TimeBuffer {
	return &TimeBuffer{
		depth: depth,
		slots: make([]IssueStream, depth+1),
	}
}

// Depth returns the buffer depth.
func (tb *TimeBuffer) Depth() int { return tb.depth }

// At returns the stream at the given offset; 0 is the current write slot,
// negative offsets reach older stages.
func (tb *TimeBuffer) At(offset int) *IssueStream {
	if offset > 0 || offset < -tb.depth {
		panic("time buffer offset out of range")
	}
	n := len(tb.slots)
	idx := ((tb.base+offset)%n + n) % n
	return &tb.slots[idx]
}

// Advance shifts the buffer one cycle: the old write slot ages by one and
// a cleared slot becomes the new write slot.
func (tb *TimeBuffer) Advance() {
	tb.base = (tb.base + 1) % len(tb.slots)
	tb.slots[tb.base] = IssueStream{}
}
