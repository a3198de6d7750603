package insts

import (
	"fmt"
	"strings"
)

// DynInst is a renamed, in-flight dynamic instruction.
//
// The zero values of IssueQueID and IssuePortID are not meaningful; use
// NewDynInst, which initializes both to -1.
type DynInst struct {
	// SeqNum is the monotonically increasing age id; lower is older.
	SeqNum uint64

	// Op selects the functional-unit kind and latency.
	Op OpClass

	// Srcs and Dsts are the renamed operands.
	Srcs []*PhysRegID
	Dsts []*PhysRegID

	// NonSpeculative marks instructions that must wait for the ROB head
	// before issuing.
	NonSpeculative bool

	// IssueQueID is the id of the issue queue holding the instruction,
	// -1 when unplaced.
	IssueQueID int

	// IssuePortID is the output port the instruction was selected on,
	// -1 until selected.
	IssuePortID int

	readySrc []bool

	inIQ        bool
	inReadyQ    bool
	issued      bool
	canceled    bool
	squashed    bool
	arbFailed   bool
	memDepDone  bool
	writtenBack bool
	canCommit   bool
}

// NewDynInst creates a dynamic instruction with all sources pending.
func NewDynInst(seqNum uint64, op OpClass, srcs, dsts []*PhysRegID) *DynInst {
	return &DynInst{
		SeqNum:      seqNum,
		Op:          op,
		Srcs:        srcs,
		Dsts:        dsts,
		IssueQueID:  -1,
		IssuePortID: -1,
		readySrc:    make([]bool, len(srcs)),
	}
}

// IsLoad reports whether the instruction reads memory.
func (d *DynInst) IsLoad() bool { return d.Op.IsLoad() }

// IsStore reports whether the instruction writes memory.
func (d *DynInst) IsStore() bool { return d.Op.IsStore() }

// IsMemRef reports whether the instruction accesses memory.
func (d *DynInst) IsMemRef() bool { return d.Op.IsMemRef() }

// IsInteger reports whether the instruction executes on an integer unit.
func (d *DynInst) IsInteger() bool { return d.Op.IsInteger() }

// IsVector reports whether the instruction executes on a vector unit.
func (d *DynInst) IsVector() bool { return d.Op.IsVector() }

// ReadySrc reports whether source i has its value available (or promised
// by a speculative wake-up).
func (d *DynInst) ReadySrc(i int) bool { return d.readySrc[i] }

// MarkSrcReady marks source i ready.
func (d *DynInst) MarkSrcReady(i int) { d.readySrc[i] = true }

// ClearSrcReady clears source i, used when a speculative wake-up is
// canceled.
func (d *DynInst) ClearSrcReady(i int) { d.readySrc[i] = false }

// ReadyToIssue reports whether every non-fixed source is ready.
func (d *DynInst) ReadyToIssue() bool {
	for i, src := range d.Srcs {
		if src.FixedMapping {
			continue
		}
		if !d.readySrc[i] {
			return false
		}
	}
	return true
}

// InIQ reports whether the instruction currently occupies an issue queue.
func (d *DynInst) InIQ() bool { return d.inIQ }

// SetInIQ marks the instruction as resident in an issue queue.
func (d *DynInst) SetInIQ() { d.inIQ = true }

// ClearInIQ clears the issue queue residency flag.
func (d *DynInst) ClearInIQ() { d.inIQ = false }

// InReadyQ reports whether the instruction sits in a ready queue.
func (d *DynInst) InReadyQ() bool { return d.inReadyQ }

// SetInReadyQ marks the instruction as enqueued on a ready queue.
func (d *DynInst) SetInReadyQ() { d.inReadyQ = true }

// ClearInReadyQ clears the ready queue flag.
func (d *DynInst) ClearInReadyQ() { d.inReadyQ = false }

// Issued reports whether the instruction was handed to a functional unit.
func (d *DynInst) Issued() bool { return d.issued }

// SetIssued marks the instruction as issued.
func (d *DynInst) SetIssued() { d.issued = true }

// Canceled reports whether a load miss invalidated the instruction's
// speculative readiness.
func (d *DynInst) Canceled() bool { return d.canceled }

// SetCancel marks the instruction canceled.
func (d *DynInst) SetCancel() { d.canceled = true }

// ClearCancel clears the canceled flag when the instruction becomes ready
// again.
func (d *DynInst) ClearCancel() { d.canceled = false }

// Squashed reports whether the instruction was removed by a pipeline
// squash.
func (d *DynInst) Squashed() bool { return d.squashed }

// SetSquashed marks the instruction squashed.
func (d *DynInst) SetSquashed() { d.squashed = true }

// ArbFailed reports whether the instruction lost read-port arbitration
// this cycle.
func (d *DynInst) ArbFailed() bool { return d.arbFailed }

// SetArbFailed marks an arbitration loss.
func (d *DynInst) SetArbFailed() { d.arbFailed = true }

// ClearArbFailed clears the arbitration loss flag.
func (d *DynInst) ClearArbFailed() { d.arbFailed = false }

// MemDepDone reports whether the memory dependence unit released the
// instruction.
func (d *DynInst) MemDepDone() bool { return d.memDepDone }

// SetMemDepDone marks the memory dependence as resolved.
func (d *DynInst) SetMemDepDone() { d.memDepDone = true }

// WrittenBack reports whether the result reached the register file.
func (d *DynInst) WrittenBack() bool { return d.writtenBack }

// SetWrittenBack marks the register file write complete.
func (d *DynInst) SetWrittenBack() { d.writtenBack = true }

// CanCommit reports whether the ROB may retire the instruction.
func (d *DynInst) CanCommit() bool { return d.canCommit }

// SetCanCommit marks the instruction retirable.
func (d *DynInst) SetCanCommit() { d.canCommit = true }

// Disassemble renders the instruction for traces and stat dumps, e.g.
// "IntAlu [sn:42] d[p7] s[p3 p5]".
func (d *DynInst) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [sn:%d]", d.Op, d.SeqNum)
	if len(d.Dsts) > 0 {
		sb.WriteString(" d[")
		for i, r := range d.Dsts {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s%d", r.Class, r.FlatIdx)
		}
		sb.WriteByte(']')
	}
	if len(d.Srcs) > 0 {
		sb.WriteString(" s[")
		for i, r := range d.Srcs {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s%d", r.Class, r.FlatIdx)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
