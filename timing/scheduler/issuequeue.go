package scheduler

import (
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// IssueQueue is one scheduling window: it holds renamed instructions until
// their operands are ready, selects the oldest ready instruction per
// output port, and carries winners through the delay pipeline to the
// functional-unit input.
type IssueQueue struct {
	name                string
	id                  int
	inports             int
	outports            int
	sharedSelector      bool
	size                int
	replayQSize         int
	scheduleToExecDelay int

	sched *Scheduler

	ports       []*issuePort
	opPipelined [insts.NumOpClasses]bool

	// readyQs[p] is the ready queue feeding port p; when every port has
	// the same op-class mask, all ports share one queue and one selector.
	readyQs []*readyQueue
	// readyQClassify routes an op class to the ready queue of the port
	// that executes it.
	readyQClassify [insts.NumOpClasses]*readyQueue

	selectQ []selectEntry

	// inflight carries scheduled instructions toward the FU input over
	// scheduleToExecDelay cycles.
	inflight *TimeBuffer

	instList      []*insts.DynInst
	instNum       int
	instNumInsert int
	opNum         [insts.NumOpClasses]int

	replayQ []*insts.DynInst

	// depGraph[p] lists (source index, consumer) pairs waiting on
	// physical register p.
	depGraph [][]depGraphEntry

	portBusy []int64

	stats *IssueQueStats
}

type selectEntry struct {
	port int
	inst *insts.DynInst
}

type depGraphEntry struct {
	srcIdx int
	inst   *insts.DynInst
}

func newIssueQueue(spec IssueQueSpec) (*IssueQueue, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("issue queue with empty name")
	}
	if spec.Size <= 0 {
		return nil, fmt.Errorf("%s: queue size must be > 0", spec.Name)
	}
	if spec.InPorts <= 0 {
		return nil, fmt.Errorf("%s: inPorts must be > 0", spec.Name)
	}
	if spec.ScheduleToExecDelay < 1 {
		return nil, fmt.Errorf("%s: scheduleToExecDelay must be >= 1", spec.Name)
	}
	if len(spec.OutPorts) == 0 {
		return nil, fmt.Errorf("%s: issue queue has no output ports", spec.Name)
	}
	if len(spec.OutPorts) > issueStreamSlots {
		return nil, fmt.Errorf("%s: outports > %d is not supported",
			spec.Name, issueStreamSlots)
	}

	replayQSize := spec.ReplayQueueSize
	if replayQSize == 0 {
		replayQSize = DefaultReplayQueueSize
	}

	iq := &IssueQueue{
		name:                spec.Name,
		id:                  -1,
		inports:             spec.InPorts,
		outports:            len(spec.OutPorts),
		size:                spec.Size,
		replayQSize:         replayQSize,
		scheduleToExecDelay: spec.ScheduleToExecDelay,
		inflight:            NewTimeBuffer(spec.ScheduleToExecDelay),
		portBusy:            make([]int64, len(spec.OutPorts)),
	}
	iq.stats = newIssueQueStats(iq.inports, iq.outports)

	hasFU := false
	for _, ps := range spec.OutPorts {
		port, err := newIssuePort(spec.Name, ps)
		if err != nil {
			return nil, err
		}
		for _, fu := range port.fus {
			if len(fu.Ops) > 0 {
				hasFU = true
			}
		}
		iq.ports = append(iq.ports, port)
	}
	if !hasFU {
		return nil, fmt.Errorf("%s: issue queue has no functional units", spec.Name)
	}

	// All ports share one selector only when every port has the same mask.
	// Otherwise each port has its own selector and no op class may appear
	// on more than one port.
	sameFU := true
	for i := 0; i < iq.outports; i++ {
		for j := i + 1; j < iq.outports; j++ {
			if !iq.ports[i].sameMask(iq.ports[j]) {
				sameFU = false
			}
			if !sameFU && iq.ports[i].overlaps(iq.ports[j]) {
				return nil, fmt.Errorf(
					"%s: conflicting op class between ports %d and %d",
					spec.Name, i, j)
			}
		}
	}

	iq.sharedSelector = sameFU && iq.outports > 1
	iq.readyQs = make([]*readyQueue, iq.outports)
	if sameFU {
		shared := newReadyQueue()
		for i := range iq.readyQs {
			iq.readyQs[i] = shared
		}
	} else {
		for i := range iq.readyQs {
			iq.readyQs[i] = newReadyQueue()
		}
	}

	selectorPorts := iq.outports
	if sameFU {
		selectorPorts = 1
	}
	for pi := 0; pi < selectorPorts; pi++ {
		for _, fu := range iq.ports[pi].fus {
			for _, op := range fu.Ops {
				if iq.readyQClassify[op.Op] != nil {
					return nil, fmt.Errorf(
						"%s: conflicting op class in different FU: %s",
						spec.Name, op.Op)
				}
				iq.readyQClassify[op.Op] = iq.readyQs[pi]
				iq.opPipelined[op.Op] = op.Pipelined
			}
		}
	}

	return iq, nil
}

// Name returns the queue name.
func (iq *IssueQueue) Name() string { return iq.name }

// ID returns the queue's index in the scheduler.
func (iq *IssueQueue) ID() int { return iq.id }

// IssueStages returns the schedule-to-execute delay.
func (iq *IssueQueue) IssueStages() int { return iq.scheduleToExecDelay }

// InstCount returns the number of counted resident instructions.
func (iq *IssueQueue) InstCount() int { return iq.instNum }

// OpCount returns the number of resident instructions of one op class.
func (iq *IssueQueue) OpCount(op insts.OpClass) int { return iq.opNum[op] }

// EmptyEntries returns the free capacity.
func (iq *IssueQueue) EmptyEntries() int { return iq.size - iq.instNum }

// Stats returns the queue's telemetry counters.
func (iq *IssueQueue) Stats() *IssueQueStats { return iq.stats }

// Insts returns a snapshot of the resident instruction list, oldest first.
func (iq *IssueQueue) Insts() []*insts.DynInst {
	out := make([]*insts.DynInst, len(iq.instList))
	copy(out, iq.instList)
	return out
}

// ClearBusy clears the busy countdown of an output port.
func (iq *IssueQueue) ClearBusy(port int) {
	iq.portBusy[port] = 0
}

func (iq *IssueQueue) resetDepGraph(numPhysRegs int) {
	iq.depGraph = make([][]depGraphEntry, numPhysRegs)
}

// popInst retires an instruction from the occupancy counters. FMAMul
// micro-ops share their parent's slot and are not counted.
func (iq *IssueQueue) popInst(inst *insts.DynInst) {
	if inst.Op == insts.FMAMul {
		return
	}
	if iq.instNum == 0 || iq.opNum[inst.Op] == 0 {
		panic(fmt.Sprintf("%s: occupancy underflow on %s", iq.name, inst.Disassemble()))
	}
	iq.opNum[inst.Op]--
	iq.instNum--
}

// ready reports whether the queue can accept one more instruction this
// cycle: a free slot and remaining input-port bandwidth.
func (iq *IssueQueue) ready() bool {
	if iq.instNumInsert >= iq.inports {
		iq.sched.log.Debugf("%s: can't insert more, inports exhausted", iq.name)
		return false
	}
	return !iq.full()
}

// full reports whether the queue is out of slots.
func (iq *IssueQueue) full() bool {
	full := iq.instNumInsert+iq.instNum >= iq.size
	full = full || len(iq.replayQ) > iq.replayQSize
	return full
}

// insert places a renamed instruction in the queue, wiring unready
// sources into the dependency graph.
func (iq *IssueQueue) insert(inst *insts.DynInst) {
	if inst.Op != insts.FMAMul {
		if iq.instNum >= iq.size {
			panic(fmt.Sprintf("%s: insert into full issue queue", iq.name))
		}
		iq.opNum[inst.Op]++
		iq.instNum++
		iq.instNumInsert++
	}

	iq.sched.log.Debugf("%s: insert %s", iq.name, inst.Disassemble())
	inst.IssueQueID = iq.id
	iq.instList = append(iq.instList, inst)

	addedToDepGraph := false
	for i, src := range inst.Srcs {
		if inst.ReadySrc(i) || src.FixedMapping {
			continue
		}
		if iq.sched.scoreboard[src.FlatIdx] {
			inst.MarkSrcReady(i)
		} else {
			if iq.sched.earlyScoreboard[src.FlatIdx] {
				inst.MarkSrcReady(i)
			}
			iq.depGraph[src.FlatIdx] = append(iq.depGraph[src.FlatIdx],
				depGraphEntry{srcIdx: i, inst: inst})
			addedToDepGraph = true
		}
	}

	if !addedToDepGraph && !inst.ReadyToIssue() {
		panic(fmt.Sprintf("%s: %s has no pending source but is not ready",
			iq.name, inst.Disassemble()))
	}

	if inst.IsMemRef() {
		iq.sched.memDep.Insert(inst)
	} else {
		iq.addIfReady(inst)
	}
}

// insertNonSpec places a non-speculative instruction: it bypasses the
// dependency graph and waits for the ROB to release it.
func (iq *IssueQueue) insertNonSpec(inst *insts.DynInst) {
	iq.sched.log.Debugf("%s: insertNonSpec %s", iq.name, inst.Disassemble())
	inst.IssueQueID = iq.id
	if inst.IsMemRef() {
		iq.sched.memDep.InsertNonSpec(inst)
	}
}

// wakeUpDependents marks consumers of inst's destinations ready. A
// speculative wake-up from a canceled producer is a no-op; a writeback
// wake-up is authoritative and clears the dependency edges.
func (iq *IssueQueue) wakeUpDependents(inst *insts.DynInst, speculative bool) {
	if speculative && inst.Canceled() {
		return
	}
	for _, dst := range inst.Dsts {
		if dst.FixedMapping || dst.PinnedWritesToComplete != 1 {
			continue
		}

		for _, entry := range iq.depGraph[dst.FlatIdx] {
			consumer := entry.inst
			if consumer.ReadySrc(entry.srcIdx) {
				continue
			}
			consumer.MarkSrcReady(entry.srcIdx)
			iq.sched.log.Debugf("%s: [sn:%d] src%d woken by p%d",
				iq.name, consumer.SeqNum, entry.srcIdx, dst.FlatIdx)
			iq.addIfReady(consumer)
		}

		if !speculative {
			iq.depGraph[dst.FlatIdx] = nil
		}
	}
}

// addIfReady pushes an instruction whose sources are all ready onto the
// ready queue of its op class.
func (iq *IssueQueue) addIfReady(inst *insts.DynInst) {
	if !inst.ReadyToIssue() {
		return
	}

	if inst.IsMemRef() && !inst.MemDepDone() {
		return
	}

	inst.ClearCancel()
	if !inst.InReadyQ() {
		inst.SetInReadyQ()
		rq := iq.readyQClassify[inst.Op]
		if rq == nil {
			panic(fmt.Sprintf("%s: no port for op class %s", iq.name, inst.Op))
		}
		rq.push(inst)
	}
}

// markMemDepDone releases a memory reference whose ordering is resolved.
func (iq *IssueQueue) markMemDepDone(inst *insts.DynInst) {
	if !inst.IsMemRef() {
		panic(fmt.Sprintf("%s: markMemDepDone on non-mem %s", iq.name, inst.Disassemble()))
	}
	inst.SetMemDepDone()
	iq.addIfReady(inst)
}

// retryMem queues an already-issued memory instruction for replay.
func (iq *IssueQueue) retryMem(inst *insts.DynInst) {
	iq.stats.RetryMem++
	iq.sched.log.Debugf("%s: retry %s", iq.name, inst.Disassemble())
	iq.replayQ = append(iq.replayQ, inst)
}

// hasWork reports whether any ready or replayable instruction is pending.
func (iq *IssueQueue) hasWork() bool {
	seen := map[*readyQueue]bool{}
	for _, rq := range iq.readyQs {
		if seen[rq] {
			continue
		}
		seen[rq] = true
		if rq.size() > 0 {
			return true
		}
	}
	return len(iq.replayQ) > 0
}

// selectInst picks the oldest ready instruction per output port and
// tentatively claims its register-file read ports.
func (iq *IssueQueue) selectInst() {
	iq.selectQ = iq.selectQ[:0]
	for pi := 0; pi < iq.outports; pi++ {
		rq := iq.readyQs[pi]
		for !rq.empty() {
			top := rq.top()
			if !top.Canceled() {
				break
			}
			top.ClearInReadyQ()
			rq.pop()
		}
		if rq.empty() {
			continue
		}

		inst := rq.top()
		iq.sched.log.Debugf("%s: [sn:%d] selected on port %d", iq.name, inst.SeqNum, pi)

		port := iq.ports[pi]
		for i, src := range inst.Srcs {
			switch src.Class {
			case insts.IntRegClass:
				if i < len(port.intClaims) {
					claim := port.intClaims[i]
					iq.sched.useRegfilePort(inst, src, claim.typePortID, claim.priority)
				}
			case insts.FloatRegClass:
				if i < len(port.fpClaims) {
					claim := port.fpClaims[i]
					iq.sched.useRegfilePort(inst, src, claim.typePortID, claim.priority)
				}
			}
		}

		iq.selectQ = append(iq.selectQ, selectEntry{port: pi, inst: inst})
		inst.ClearInReadyQ()
		rq.pop()
	}
}

// scheduleInst promotes last cycle's selection winners into the delay
// pipeline and triggers their speculative wake-ups. Arbitration losers
// return to the ready queue.
func (iq *IssueQueue) scheduleInst() {
	toIssue := iq.inflight.At(0)
	for _, entry := range iq.selectQ {
		inst := entry.inst
		switch {
		case inst.Canceled():
			iq.sched.log.Debugf("%s: [sn:%d] was canceled", iq.name, inst.SeqNum)
		case inst.ArbFailed():
			iq.stats.ArbFailed++
			iq.sched.log.Debugf("%s: [sn:%d] arbitration failed, retry", iq.name, inst.SeqNum)
			if !inst.ReadyToIssue() {
				panic(fmt.Sprintf("%s: arb-failed %s no longer ready",
					iq.name, inst.Disassemble()))
			}
			inst.SetInReadyQ()
			iq.readyQClassify[inst.Op].push(inst)
		default:
			iq.stats.PortIssued[entry.port]++
			inst.ClearInIQ()
			inst.IssuePortID = entry.port
			toIssue.Push(inst)
			iq.sched.specWakeUpDependents(inst, iq)
		}
		inst.ClearArbFailed()
	}
	iq.selectQ = iq.selectQ[:0]
}

// tick advances the queue one cycle: sample stats, age the busy counters,
// promote winners, and shift the delay pipeline.
func (iq *IssueQueue) tick() {
	iq.stats.sampleInsts(iq.instNum)
	if iq.instNumInsert > 0 {
		iq.stats.InsertDist[iq.instNumInsert]++
	}
	iq.instNumInsert = 0

	for i, busy := range iq.portBusy {
		if busy > 0 {
			iq.portBusy[i] = busy - 1
		}
	}

	iq.scheduleInst()
	iq.inflight.Advance()
}

// checkScoreboard verifies that every source's value is on the bypass
// network. A missing value means a producing load missed the cache: the
// producer is canceled and the instruction is dropped for replay.
func (iq *IssueQueue) checkScoreboard(inst *insts.DynInst) bool {
	for i, src := range inst.Srcs {
		if src.FixedMapping {
			continue
		}
		if iq.sched.bypassScoreboard[src.FlatIdx] {
			continue
		}
		producer := iq.sched.GetInstByDstReg(src.FlatIdx)
		if producer == nil || !producer.IsLoad() {
			panic(fmt.Sprintf(
				"%s: [sn:%d] src%d p%d unavailable on bypass and producer is not a load",
				iq.name, inst.SeqNum, i, src.FlatIdx))
		}
		iq.sched.LoadCancel(producer)
		iq.sched.log.Debugf("%s: [sn:%d] can't get p%d from bypass, producer [sn:%d]",
			iq.name, inst.SeqNum, src.FlatIdx, producer.SeqNum)
		return false
	}
	return true
}

// addToFu hands an instruction to the functional-unit pool.
func (iq *IssueQueue) addToFu(inst *insts.DynInst) {
	if inst.Issued() {
		panic(fmt.Sprintf("%s: %s has already been issued", iq.name, inst.Disassemble()))
	}
	inst.SetIssued()
	iq.sched.addToFU(inst)
	iq.popInst(inst)
}

// issueToFu drains the head of the delay pipeline into the FU pool, then
// spends leftover port bandwidth on memory replays.
func (iq *IssueQueue) issueToFu() {
	toFu := iq.inflight.At(-iq.scheduleToExecDelay)
	size := toFu.Size()
	issued := 0
	for i := 0; i < size; i++ {
		inst := toFu.Pop()
		if inst == nil {
			continue
		}
		if iq.portBusy[inst.IssuePortID] > 0 {
			iq.stats.PortBusy[inst.IssuePortID]++
			iq.sched.log.Debugf("%s: port %d busy, retry [sn:%d]",
				iq.name, inst.IssuePortID, inst.SeqNum)
			inst.SetInReadyQ()
			iq.readyQClassify[inst.Op].push(inst)
			continue
		}
		if !iq.checkScoreboard(inst) {
			continue
		}
		iq.addToFu(inst)
		issued++
		if !iq.opPipelined[inst.Op] {
			iq.portBusy[inst.IssuePortID] = int64(iq.sched.OpLatency(inst) - 1)
		}
	}

	for len(iq.replayQ) > 0 && issued < iq.outports {
		inst := iq.replayQ[0]
		iq.replayQ = iq.replayQ[1:]
		iq.sched.addToFU(inst)
		issued++
	}

	if issued > 0 {
		iq.stats.IssueDist[issued]++
	}
}

// doCommit retires the committed prefix of the instruction list.
func (iq *IssueQueue) doCommit(seqNum uint64) {
	i := 0
	for ; i < len(iq.instList) && iq.instList[i].SeqNum <= seqNum; i++ {
		if !iq.instList[i].Issued() {
			panic(fmt.Sprintf("%s: committing unissued %s",
				iq.name, iq.instList[i].Disassemble()))
		}
	}
	if i > 0 {
		iq.instList = append(iq.instList[:0], iq.instList[i:]...)
	}
}

// doSquash removes every instruction younger than seqNum from the queue's
// structures: the instruction list, the delay pipeline, the dependency
// graph, the ready queues and the replay queue.
func (iq *IssueQueue) doSquash(seqNum uint64) {
	kept := iq.instList[:0]
	for _, inst := range iq.instList {
		if inst.SeqNum <= seqNum {
			kept = append(kept, inst)
			continue
		}
		inst.SetSquashed()
		inst.SetCanCommit()
		inst.ClearInIQ()
		inst.SetCancel()
		if !inst.Issued() {
			iq.popInst(inst)
			inst.SetIssued()
		} else if inst.IssuePortID >= 0 {
			iq.portBusy[inst.IssuePortID] = 0
		}
	}
	for i := len(kept); i < len(iq.instList); i++ {
		iq.instList[i] = nil
	}
	iq.instList = kept

	for i := 0; i <= iq.scheduleToExecDelay; i++ {
		stream := iq.inflight.At(-i)
		for j := 0; j < stream.size; j++ {
			if stream.insts[j] != nil && stream.insts[j].Squashed() {
				stream.insts[j] = nil
			}
		}
	}

	for reg, entries := range iq.depGraph {
		keptEntries := entries[:0]
		for _, e := range entries {
			if !e.inst.Squashed() {
				keptEntries = append(keptEntries, e)
			}
		}
		for i := len(keptEntries); i < len(entries); i++ {
			entries[i] = depGraphEntry{}
		}
		iq.depGraph[reg] = keptEntries
	}

	seen := map[*readyQueue]bool{}
	for _, rq := range iq.readyQs {
		if seen[rq] {
			continue
		}
		seen[rq] = true
		rq.removeSquashed()
	}

	keptReplay := iq.replayQ[:0]
	for _, inst := range iq.replayQ {
		if !inst.Squashed() {
			keptReplay = append(keptReplay, inst)
		}
	}
	for i := len(keptReplay); i < len(iq.replayQ); i++ {
		iq.replayQ[i] = nil
	}
	iq.replayQ = keptReplay
}
