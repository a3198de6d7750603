// Package main provides the o3sched driver.
// It builds the default out-of-order scheduler machine, feeds it a seeded
// random instruction trace, and prints the telemetry counters.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/internal/logging"
	"github.com/sarchlab/o3sim/timing/fu"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/scheduler"
)

var (
	numInsts   = flag.Uint64("insts", 100000, "Number of instructions to run")
	maxCycles  = flag.Uint64("cycles", 10000000, "Cycle limit")
	seed       = flag.Int64("seed", 1, "Trace random seed")
	missRate   = flag.Float64("missrate", 0.05, "L1 load miss probability")
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	verbose    = flag.Bool("v", false, "Verbose output")
	debug      = flag.Bool("d", false, "Enable schedule trace logging")
)

const (
	numPhysRegs   = 256
	intRegBase    = 0
	fpRegBase     = 128
	regsPerClass  = 128
	loadMissRetry = 20 // cycles before a missed load replays
	commitWindow  = 64 // in-flight instruction limit
	dispatchWidth = 4
)

var opMix = []struct {
	op     insts.OpClass
	weight int
}{
	{insts.IntAlu, 50},
	{insts.IntMult, 8},
	{insts.IntDiv, 2},
	{insts.FloatAdd, 8},
	{insts.FloatMult, 6},
	{insts.MemRead, 16},
	{insts.MemWrite, 10},
}

func pickOp(rng *rand.Rand) insts.OpClass {
	total := 0
	for _, m := range opMix {
		total += m.weight
	}
	n := rng.Intn(total)
	for _, m := range opMix {
		if n < m.weight {
			return m.op
		}
		n -= m.weight
	}
	return insts.IntAlu
}

// traceGen produces a random renamed instruction stream with a strict
// free list per register class, so no register ever has two in-flight
// producers.
type traceGen struct {
	rng     *rand.Rand
	nextSeq uint64
	freeInt []int
	freeFP  []int
	liveInt []int
	liveFP  []int
}

func newTraceGen(rng *rand.Rand) *traceGen {
	g := &traceGen{rng: rng, nextSeq: 1}
	for i := 1; i < regsPerClass; i++ {
		g.freeInt = append(g.freeInt, intRegBase+i)
		g.freeFP = append(g.freeFP, fpRegBase+i)
	}
	g.liveInt = append(g.liveInt, intRegBase)
	g.liveFP = append(g.liveFP, fpRegBase)
	return g
}

func (g *traceGen) pickSrc(class insts.RegClass) *insts.PhysRegID {
	live := g.liveInt
	if class == insts.FloatRegClass {
		live = g.liveFP
	}
	return insts.NewPhysRegID(class, live[g.rng.Intn(len(live))])
}

func (g *traceGen) allocDst(class insts.RegClass) *insts.PhysRegID {
	free := &g.freeInt
	live := &g.liveInt
	if class == insts.FloatRegClass {
		free = &g.freeFP
		live = &g.liveFP
	}
	if len(*free) == 0 {
		return nil
	}
	idx := (*free)[len(*free)-1]
	*free = (*free)[:len(*free)-1]
	*live = append(*live, idx)
	return insts.NewPhysRegID(class, idx)
}

func (g *traceGen) release(reg *insts.PhysRegID) {
	if reg.Class == insts.FloatRegClass {
		g.freeFP = append(g.freeFP, reg.FlatIdx)
		return
	}
	g.freeInt = append(g.freeInt, reg.FlatIdx)
}

// next builds one instruction, or nil when the free lists are exhausted.
func (g *traceGen) next() *insts.DynInst {
	op := pickOp(g.rng)

	srcClass := insts.IntRegClass
	dstClass := insts.IntRegClass
	switch op {
	case insts.FloatAdd, insts.FloatMult:
		srcClass = insts.FloatRegClass
		dstClass = insts.FloatRegClass
	case insts.MemRead, insts.MemWrite:
		// integer address, integer data
	}

	var srcs []*insts.PhysRegID
	var dsts []*insts.PhysRegID
	numSrcs := 2
	if op == insts.MemRead {
		numSrcs = 1
	}
	for i := 0; i < numSrcs; i++ {
		srcs = append(srcs, g.pickSrc(srcClass))
	}
	if op != insts.MemWrite {
		dst := g.allocDst(dstClass)
		if dst == nil {
			return nil
		}
		dsts = append(dsts, dst)
	}

	inst := insts.NewDynInst(g.nextSeq, op, srcs, dsts)
	g.nextSeq++
	return inst
}

func run() int {
	table := latency.NewTable()
	if *configPath != "" {
		cfg, err := latency.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 1
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
			return 1
		}
		table = latency.NewTableWithConfig(cfg)
	}

	if *debug {
		logging.SetDefault(logging.New(os.Stderr, logging.LevelDebug))
	}

	cfg := scheduler.DefaultConfig(table)
	cfg.NumPhysRegs = numPhysRegs
	sched, err := scheduler.NewScheduler(cfg, scheduler.WithSeed(*seed))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building scheduler: %v\n", err)
		return 1
	}

	rng := rand.New(rand.NewSource(*seed))
	gen := newTraceGen(rng)
	pool := fu.NewPool(sched)

	missedOnce := map[uint64]bool{}
	type retry struct {
		inst  *insts.DynInst
		cycle uint64
	}
	var retries []retry
	pool.ShouldLoadMiss = func(inst *insts.DynInst) bool {
		if missedOnce[inst.SeqNum] {
			return false
		}
		if rng.Float64() < *missRate {
			missedOnce[inst.SeqNum] = true
			retries = append(retries, retry{inst: inst, cycle: sched.Cycle() + loadMissRetry})
			return true
		}
		return false
	}

	retired := map[uint64]bool{}
	pool.OnRetire = func(inst *insts.DynInst) {
		retired[inst.SeqNum] = true
	}

	var (
		dispatched uint64
		committed  uint64
		nextCommit uint64 = 1
		pending    *insts.DynInst
		inFlight   = map[uint64]*insts.DynInst{}
	)

	cycle := uint64(0)
	for ; cycle < *maxCycles; cycle++ {
		// 1. execution stage: bypass, writeback, load-miss cancels
		pool.Tick()

		// replay loads whose miss has been serviced
		keptRetries := retries[:0]
		for _, r := range retries {
			if r.cycle <= sched.Cycle() {
				sched.RetryMem(r.inst)
			} else {
				keptRetries = append(keptRetries, r)
			}
		}
		retries = keptRetries

		// 2. scheduler cycle
		sched.Tick()

		// 3. dispatch
		for slot := 0; slot < dispatchWidth && dispatched < *numInsts; slot++ {
			if uint64(len(inFlight)) >= commitWindow {
				break
			}
			if pending == nil {
				pending = gen.next()
			}
			if pending == nil || !sched.Ready(pending) {
				break
			}
			sched.AddProducer(pending)
			sched.Insert(pending)
			inFlight[pending.SeqNum] = pending
			dispatched++
			pending = nil
		}

		// 4. issue and select
		sched.IssueAndSelect()
		pool.Collect()

		// 5. in-order commit of the retired prefix
		for retired[nextCommit] {
			inst := inFlight[nextCommit]
			sched.DoCommit(nextCommit)
			for _, dst := range inst.Dsts {
				gen.release(dst)
			}
			delete(inFlight, nextCommit)
			delete(retired, nextCommit)
			delete(missedOnce, nextCommit)
			nextCommit++
			committed++
		}

		if committed >= *numInsts {
			cycle++
			break
		}
	}

	fmt.Printf("cycles:     %d\n", cycle)
	fmt.Printf("committed:  %d\n", committed)
	if cycle > 0 {
		fmt.Printf("IPC:        %.3f\n", float64(committed)/float64(cycle))
	}
	for _, iq := range sched.IssueQueues() {
		st := iq.Stats()
		fmt.Printf("%s: avgInsts=%.2f retryMem=%d canceled=%d loadmiss=%d arbFailed=%d\n",
			iq.Name(), st.AvgInsts(), st.RetryMem, st.CanceledInst,
			st.Loadmiss, st.ArbFailed)
		if *verbose {
			fmt.Printf("  insertDist=%v issueDist=%v portIssued=%v portBusy=%v\n",
				st.InsertDist, st.IssueDist, st.PortIssued, st.PortBusy)
		}
	}
	if committed < *numInsts {
		fmt.Fprintf(os.Stderr, "cycle limit reached before trace completion\n")
		return 1
	}
	return 0
}

func main() {
	flag.Parse()
	os.Exit(run())
}
