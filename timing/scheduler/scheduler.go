// Package scheduler implements the dynamic instruction scheduler of an
// out-of-order superscalar CPU model.
//
// The scheduler owns a set of issue queues. Renamed instructions are
// dispatched into one queue, wait there until their operands are ready,
// compete for register-file read ports, and travel through a fixed-depth
// delay pipeline to the functional-unit input. Producers wake consumers
// speculatively ahead of their result so dependent instructions can issue
// back to back; a load that turns out to miss the cache cancels its
// speculative wake-up chain transitively.
//
// The model is a synchronous cycle simulation. The surrounding pipeline
// drives each cycle as:
//
//	writeback/bypass notifications   (external FU stage)
//	Scheduler.Tick                   (wakeups fire, winners enter the delay pipeline)
//	Scheduler.IssueAndSelect         (FU handoff, then per-port selection)
package scheduler

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/internal/logging"
)

// rfOccupant records the instruction holding a read port this cycle.
type rfOccupant struct {
	inst     *insts.DynInst
	priority int
}

// Scheduler coordinates dispatch, wake-up, selection, arbitration and
// cancellation across all issue queues.
type Scheduler struct {
	issueQues []*IssueQueue

	dispTable  [insts.NumOpClasses][]*IssueQueue
	wakeMatrix [][]*IssueQueue

	opLat        [insts.NumOpClasses]int
	opPipelined  [insts.NumOpClasses]bool
	opConfigured [insts.NumOpClasses]bool
	warnedOp     [insts.NumOpClasses]bool

	numPhysRegs      int
	loadWakeupAdjust int
	vecOnesRegIdx    int

	// scoreboard: value retired to the register file.
	// bypassScoreboard: value on the forwarding network.
	// earlyScoreboard: value promised by a speculative wake-up.
	scoreboard       []bool
	bypassScoreboard []bool
	earlyScoreboard  []bool

	rfPortOccupancy []rfOccupant
	rfMaxTypePortID int
	arbFailedInsts  []*insts.DynInst

	regCache *regCache

	instsToFu []*insts.DynInst

	memDep MemDepUnit

	events   wakeupHeap
	eventSeq uint64
	cycle    uint64

	dfs []*insts.DynInst

	rng *rand.Rand
	log *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the trace logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithSeed seeds the dispatch shuffle for non-integer op classes.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithMemDepUnit attaches an external memory-dependence unit.
func WithMemDepUnit(m MemDepUnit) Option {
	return func(s *Scheduler) { s.memDep = m }
}

// NewScheduler builds the scheduler described by cfg.
func NewScheduler(cfg *Config, opts ...Option) (*Scheduler, error) {
	if len(cfg.IQs) == 0 {
		return nil, fmt.Errorf("no issue queues configured")
	}
	if cfg.NumPhysRegs <= 0 {
		return nil, fmt.Errorf("numPhysRegs must be > 0")
	}

	regCacheCap := cfg.RegCacheCapacity
	if regCacheCap == 0 {
		regCacheCap = DefaultRegCacheCapacity
	}

	s := &Scheduler{
		numPhysRegs:      cfg.NumPhysRegs,
		loadWakeupAdjust: cfg.LoadWakeupAdjust,
		vecOnesRegIdx:    cfg.VecOnesRegIdx,
		regCache:         newRegCache(regCacheCap),
		rng:              rand.New(rand.NewSource(1)),
		log:              logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.memDep == nil {
		s.memDep = &passThroughMemDep{sched: s}
	}

	byName := map[string]*IssueQueue{}
	maxTypePortID := 0
	for i, spec := range cfg.IQs {
		iq, err := newIssueQueue(spec)
		if err != nil {
			return nil, err
		}
		if byName[iq.name] != nil {
			return nil, fmt.Errorf("duplicate issue queue name: %s", iq.name)
		}
		byName[iq.name] = iq
		iq.id = i
		iq.sched = s
		s.issueQues = append(s.issueQues, iq)
		if iq.sharedSelector {
			s.log.Warnf("%s: one selector drives %d identical ports",
				iq.name, iq.outports)
		}

		for _, port := range iq.ports {
			for _, fu := range port.fus {
				for _, op := range fu.Ops {
					if op.Latency <= 0 {
						return nil, fmt.Errorf("%s: op class %s latency must be > 0",
							iq.name, op.Op)
					}
					s.opLat[op.Op] = op.Latency
					s.opPipelined[op.Op] = op.Pipelined
					s.opConfigured[op.Op] = true
					s.dispTable[op.Op] = append(s.dispTable[op.Op], iq)
				}
			}
			for _, claim := range port.intClaims {
				if claim.typePortID > maxTypePortID {
					maxTypePortID = claim.typePortID
				}
			}
			for _, claim := range port.fpClaims {
				if claim.typePortID > maxTypePortID {
					maxTypePortID = claim.typePortID
				}
			}
		}
	}
	s.rfMaxTypePortID = maxTypePortID + 1
	s.rfPortOccupancy = make([]rfOccupant, s.rfMaxTypePortID)

	for op := 1; op < insts.NumOpClasses; op++ {
		if !s.opConfigured[op] {
			s.log.Warnf("no issue queue configured for op class %s", insts.OpClass(op))
		}
	}

	s.wakeMatrix = make([][]*IssueQueue, len(s.issueQues))
	if cfg.XBarWakeup {
		for _, src := range s.issueQues {
			for _, dst := range s.issueQues {
				s.wakeMatrix[src.id] = append(s.wakeMatrix[src.id], dst)
			}
		}
	} else {
		for _, ch := range cfg.SpecWakeupNetwork {
			src := byName[ch.SrcIQ]
			if src == nil {
				s.log.Warnf("spec wakeup channel: unknown source queue %s", ch.SrcIQ)
				continue
			}
			for _, dstName := range ch.DstIQs {
				dst := byName[dstName]
				if dst == nil {
					s.log.Warnf("spec wakeup channel: unknown destination queue %s", dstName)
					continue
				}
				s.wakeMatrix[src.id] = append(s.wakeMatrix[src.id], dst)
			}
		}
	}

	s.scoreboard = make([]bool, cfg.NumPhysRegs)
	s.bypassScoreboard = make([]bool, cfg.NumPhysRegs)
	s.earlyScoreboard = make([]bool, cfg.NumPhysRegs)
	for i := range s.scoreboard {
		s.scoreboard[i] = true
		s.bypassScoreboard[i] = true
		s.earlyScoreboard[i] = true
	}
	for _, iq := range s.issueQues {
		iq.resetDepGraph(cfg.NumPhysRegs)
	}

	return s, nil
}

// Cycle returns the current cycle number.
func (s *Scheduler) Cycle() uint64 { return s.cycle }

// IssueQueues returns the scheduler's issue queues in id order.
func (s *Scheduler) IssueQueues() []*IssueQueue { return s.issueQues }

// IssueQueueByName returns the named queue, or nil.
func (s *Scheduler) IssueQueueByName(name string) *IssueQueue {
	for _, iq := range s.issueQues {
		if iq.name == name {
			return iq
		}
	}
	return nil
}

// Tick advances the scheduler one cycle: due speculative wake-ups fire,
// then every queue promotes last cycle's winners into its delay pipeline.
func (s *Scheduler) Tick() {
	s.fireWakeups()
	for _, iq := range s.issueQues {
		iq.tick()
	}
}

// IssueAndSelect drains the delay pipelines into the FU pool, then runs
// per-port selection and read-port arbitration for the next cycle.
func (s *Scheduler) IssueAndSelect() {
	for _, iq := range s.issueQues {
		iq.issueToFu()
	}
	// selection must observe a fully drained cycle
	for _, iq := range s.issueQues {
		iq.selectInst()
	}

	for _, inst := range s.arbFailedInsts {
		inst.SetArbFailed()
	}
	s.arbFailedInsts = s.arbFailedInsts[:0]
	for i := range s.rfPortOccupancy {
		s.rfPortOccupancy[i] = rfOccupant{}
	}

	s.cycle++
}

// Ready reports whether some issue queue can accept the instruction this
// cycle.
func (s *Scheduler) Ready(inst *insts.DynInst) bool {
	iqs := s.dispTable[inst.Op]
	if len(iqs) == 0 {
		if !s.warnedOp[inst.Op] {
			s.warnedOp[inst.Op] = true
			s.log.Warnf("no issue queue accepts op class %s", inst.Op)
		}
		return false
	}
	for _, iq := range iqs {
		if iq.ready() {
			return true
		}
	}
	return false
}

// Full reports whether every candidate queue is out of capacity.
func (s *Scheduler) Full(inst *insts.DynInst) bool {
	for _, iq := range s.dispTable[inst.Op] {
		if !iq.full() {
			return false
		}
	}
	return true
}

// AddProducer registers the instruction's destinations as pending at
// dispatch, flipping all three scoreboards.
func (s *Scheduler) AddProducer(inst *insts.DynInst) {
	for _, dst := range inst.Dsts {
		if dst.FixedMapping {
			continue
		}
		s.scoreboard[dst.FlatIdx] = false
		s.bypassScoreboard[dst.FlatIdx] = false
		s.earlyScoreboard[dst.FlatIdx] = false
	}
}

// Insert places the instruction into one candidate queue. Integer op
// classes pick the queue with the fewest residents of the same class;
// other classes pick among candidates at random. The caller must have
// checked Ready.
func (s *Scheduler) Insert(inst *insts.DynInst) {
	inst.SetInIQ()
	iqs := s.dispTable[inst.Op]

	if inst.IsInteger() {
		sort.SliceStable(iqs, func(a, b int) bool {
			return iqs[a].opNum[inst.Op] < iqs[b].opNum[inst.Op]
		})
	} else {
		s.rng.Shuffle(len(iqs), func(a, b int) {
			iqs[a], iqs[b] = iqs[b], iqs[a]
		})
	}

	for _, iq := range iqs {
		if iq.ready() {
			iq.insert(inst)
			return
		}
	}

	panic(fmt.Sprintf("no issue queue can hold %s; caller must check Ready",
		inst.Disassemble()))
}

// InsertNonSpec places a non-speculative instruction; it will only issue
// once the ROB releases it.
func (s *Scheduler) InsertNonSpec(inst *insts.DynInst) {
	inst.SetInIQ()
	for _, iq := range s.dispTable[inst.Op] {
		if iq.ready() {
			iq.insertNonSpec(inst)
			return
		}
	}
}

// specWakeUpDependents propagates a selection to the queues in the wake
// matrix, immediately or as a future event, so consumers become ready
// when the producer's result will be on the bypass network. The delay is
// never shortened below zero, so a consumer queue whose pipeline is deeper
// than the remaining latency receives the value later than that.
func (s *Scheduler) specWakeUpDependents(inst *insts.DynInst, from *IssueQueue) {
	if !s.opPipelined[inst.Op] || len(inst.Dsts) == 0 ||
		(inst.IsVector() && inst.IsLoad()) {
		return
	}

	for _, to := range s.wakeMatrix[from.id] {
		wakeDelay := s.CorrectedOpLatency(inst) - 1
		diff := from.scheduleToExecDelay - to.scheduleToExecDelay
		if diff > 0 {
			wakeDelay += diff
		} else if wakeDelay >= -diff {
			wakeDelay += diff
		}

		s.log.Debugf("[sn:%d] %s wakes %s in %d cycles",
			inst.SeqNum, from.name, to.name, wakeDelay)
		if wakeDelay == 0 {
			to.wakeUpDependents(inst, true)
			for _, dst := range inst.Dsts {
				if dst.FixedMapping {
					continue
				}
				s.earlyScoreboard[dst.FlatIdx] = true
			}
		} else {
			s.scheduleWakeup(inst, to, wakeDelay)
		}
	}
}

// addToFU queues an instruction for the execution stage.
func (s *Scheduler) addToFU(inst *insts.DynInst) {
	s.log.Debugf("[sn:%d] %s to FUs", inst.SeqNum, inst.Op)
	s.instsToFu = append(s.instsToFu, inst)
}

// GetInstToFU pops the next instruction bound for a functional unit, or
// nil.
func (s *Scheduler) GetInstToFU() *insts.DynInst {
	if len(s.instsToFu) == 0 {
		return nil
	}
	inst := s.instsToFu[len(s.instsToFu)-1]
	s.instsToFu = s.instsToFu[:len(s.instsToFu)-1]
	return inst
}

// CheckRfPortBusy reports whether a read port can still be claimed at the
// given priority this cycle.
func (s *Scheduler) CheckRfPortBusy(typePortID, priority int) bool {
	occ := s.rfPortOccupancy[typePortID]
	return occ.inst == nil || occ.priority < priority
}

// useRegfilePort claims a register-file read port for one source operand.
// Integer reads consult the register cache first: a hit is free. On
// conflict the claimant with higher priority keeps the port; equal
// priority keeps the earlier claimant.
func (s *Scheduler) useRegfilePort(inst *insts.DynInst, reg *insts.PhysRegID,
	typePortID, priority int) {
	if reg.Class == insts.IntRegClass && s.regCache.lookupOrInsert(reg.FlatIdx) {
		return
	}

	occ := s.rfPortOccupancy[typePortID]
	if occ.inst != nil {
		if occ.priority >= priority {
			s.arbFailedInsts = append(s.arbFailedInsts, inst)
			s.log.Debugf("[sn:%d] lost port %d to [sn:%d]",
				inst.SeqNum, typePortID, occ.inst.SeqNum)
			return
		}
		s.arbFailedInsts = append(s.arbFailedInsts, occ.inst)
		s.log.Debugf("[sn:%d] lost port %d to [sn:%d]",
			occ.inst.SeqNum, typePortID, inst.SeqNum)
	}
	s.rfPortOccupancy[typePortID] = rfOccupant{inst: inst, priority: priority}
}

// GetInstByDstReg scans the issue queues for the producer of a physical
// register, comparing only each instruction's first destination. The
// FU-input check uses it to find the load to cancel.
func (s *Scheduler) GetInstByDstReg(flatIdx int) *insts.DynInst {
	for _, iq := range s.issueQues {
		for _, inst := range iq.instList {
			if len(inst.Dsts) > 0 && inst.Dsts[0].FlatIdx == flatIdx {
				return inst
			}
		}
	}
	return nil
}

// LoadCancel invalidates the speculative wake-up chain rooted at a load
// whose data turned out to be unavailable. Every transitive consumer that
// consumed the speculative readiness is canceled and must wait for the
// authoritative writeback wake-up; delay pipeline slots holding canceled
// instructions are nulled.
func (s *Scheduler) LoadCancel(inst *insts.DynInst) {
	if inst.Canceled() {
		return
	}
	s.log.Debugf("[sn:%d] %s cache miss, cancel consumers", inst.SeqNum, inst.Op)
	inst.SetCancel()
	if inst.IssueQueID >= 0 {
		s.issueQues[inst.IssueQueID].stats.Loadmiss++
	}

	s.dfs = append(s.dfs[:0], inst)
	for len(s.dfs) > 0 {
		top := s.dfs[len(s.dfs)-1]
		s.dfs = s.dfs[:len(s.dfs)-1]
		for _, dst := range top.Dsts {
			if dst.FixedMapping {
				continue
			}
			s.earlyScoreboard[dst.FlatIdx] = false
			for _, iq := range s.issueQues {
				for _, entry := range iq.depGraph[dst.FlatIdx] {
					consumer := entry.inst
					if !consumer.ReadySrc(entry.srcIdx) {
						continue
					}
					if s.vecOnesRegIdx >= 0 &&
						consumer.Srcs[entry.srcIdx].FlatIdx == s.vecOnesRegIdx {
						continue
					}
					if consumer.Issued() {
						panic(fmt.Sprintf(
							"canceling issued consumer %s", consumer.Disassemble()))
					}
					s.log.Debugf("cancel [sn:%d], clear src p%d",
						consumer.SeqNum, consumer.Srcs[entry.srcIdx].FlatIdx)
					consumer.SetCancel()
					iq.stats.CanceledInst++
					consumer.ClearSrcReady(entry.srcIdx)
					s.dfs = append(s.dfs, consumer)
				}
			}
		}
	}

	for _, iq := range s.issueQues {
		for i := 0; i <= iq.scheduleToExecDelay; i++ {
			stream := iq.inflight.At(-i)
			for j := 0; j < stream.size; j++ {
				if stream.insts[j] != nil && stream.insts[j].Canceled() {
					stream.insts[j] = nil
				}
			}
		}
	}
}

// WritebackWakeup is the authoritative wake: the value reached the
// register file.
func (s *Scheduler) WritebackWakeup(inst *insts.DynInst) {
	s.log.Debugf("[sn:%d] writeback", inst.SeqNum)
	inst.SetWrittenBack()
	for _, dst := range inst.Dsts {
		if dst.FixedMapping {
			continue
		}
		s.scoreboard[dst.FlatIdx] = true
	}
	for _, iq := range s.issueQues {
		iq.wakeUpDependents(inst, false)
	}
}

// BypassWriteback marks the value available on the forwarding network,
// one cycle ahead of the register-file write, and frees the producer's
// issue port.
func (s *Scheduler) BypassWriteback(inst *insts.DynInst) {
	if inst.IssuePortID >= 0 && inst.IssueQueID >= 0 {
		s.issueQues[inst.IssueQueID].ClearBusy(inst.IssuePortID)
	}
	s.log.Debugf("[sn:%d] bypass write", inst.SeqNum)
	for _, dst := range inst.Dsts {
		if dst.FixedMapping {
			continue
		}
		s.bypassScoreboard[dst.FlatIdx] = true
	}
}

// MarkMemDepDone releases a memory reference whose ordering is resolved.
func (s *Scheduler) MarkMemDepDone(inst *insts.DynInst) {
	if inst.IssueQueID < 0 {
		inst.SetMemDepDone()
		return
	}
	s.issueQues[inst.IssueQueID].markMemDepDone(inst)
}

// RetryMem queues an already-issued memory instruction for replay.
func (s *Scheduler) RetryMem(inst *insts.DynInst) {
	if inst.NonSpeculative {
		panic(fmt.Sprintf("retryMem on non-speculative %s", inst.Disassemble()))
	}
	s.issueQues[inst.IssueQueID].retryMem(inst)
}

// OpLatency returns the advertised execution latency of the instruction.
func (s *Scheduler) OpLatency(inst *insts.DynInst) int {
	return s.opLat[inst.Op]
}

// CorrectedOpLatency returns the latency used for speculative wake-up;
// loads carry an empirical adjustment for the cache access.
func (s *Scheduler) CorrectedOpLatency(inst *insts.DynInst) int {
	lat := s.opLat[inst.Op]
	if inst.IsLoad() {
		lat += s.loadWakeupAdjust
	}
	return lat
}

// HasReadyInsts reports whether any queue has ready or replayable work.
func (s *Scheduler) HasReadyInsts() bool {
	for _, iq := range s.issueQues {
		if iq.hasWork() {
			return true
		}
	}
	return false
}

// IsDrained reports whether every queue's instruction list is empty.
func (s *Scheduler) IsDrained() bool {
	for _, iq := range s.issueQues {
		if len(iq.instList) > 0 {
			return false
		}
	}
	return true
}

// IQInsts returns the total counted occupancy across all queues.
func (s *Scheduler) IQInsts() int {
	total := 0
	for _, iq := range s.issueQues {
		total += iq.instNum
	}
	return total
}

// DoCommit retires every instruction at or below seqNum.
func (s *Scheduler) DoCommit(seqNum uint64) {
	for _, iq := range s.issueQues {
		iq.doCommit(seqNum)
	}
}

// DoSquash removes every instruction younger than seqNum.
func (s *Scheduler) DoSquash(seqNum uint64) {
	s.log.Debugf("squash younger than [sn:%d]", seqNum)
	for _, iq := range s.issueQues {
		iq.doSquash(seqNum)
	}
}
