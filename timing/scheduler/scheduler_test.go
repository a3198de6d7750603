package scheduler_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/scheduler"
)

func defaultTestConfig() *scheduler.Config {
	return scheduler.DefaultConfig(latency.NewTable())
}

func intReg(idx int) *insts.PhysRegID {
	return insts.NewPhysRegID(insts.IntRegClass, idx)
}

func aluPortSpec(alu scheduler.FUDesc, basePort, priority int) scheduler.IssuePortSpec {
	return scheduler.IssuePortSpec{
		FUs: []scheduler.FUDesc{alu},
		ReadPorts: []scheduler.ReadPortDesc{
			{TypeID: scheduler.RFTypeInt, PortID: basePort, Priority: priority},
			{TypeID: scheduler.RFTypeInt, PortID: basePort + 1, Priority: priority},
		},
	}
}

// step advances one full scheduler cycle and returns the instructions
// handed to the functional units.
func step(s *scheduler.Scheduler) []*insts.DynInst {
	s.Tick()
	s.IssueAndSelect()
	var out []*insts.DynInst
	for inst := s.GetInstToFU(); inst != nil; inst = s.GetInstToFU() {
		out = append(out, inst)
	}
	return out
}

// stepN collects issued instructions over n cycles, indexed by cycle.
func stepN(s *scheduler.Scheduler, n int) [][]*insts.DynInst {
	out := make([][]*insts.DynInst, n)
	for i := 0; i < n; i++ {
		out[i] = step(s)
	}
	return out
}

var aluFU = scheduler.FUDesc{
	Name: "ALU",
	Ops:  []scheduler.OpDesc{{Op: insts.IntAlu, Latency: 1, Pipelined: true}},
}

func singleALUConfig() *scheduler.Config {
	return &scheduler.Config{
		IQs: []scheduler.IssueQueSpec{
			{
				Name:                "intIQ",
				Size:                8,
				InPorts:             4,
				ScheduleToExecDelay: 1,
				OutPorts:            []scheduler.IssuePortSpec{aluPortSpec(aluFU, 0, 2)},
			},
		},
		XBarWakeup:       true,
		NumPhysRegs:      64,
		LoadWakeupAdjust: scheduler.DefaultLoadWakeupAdjust,
		VecOnesRegIdx:    -1,
	}
}

var _ = Describe("Scheduler", func() {
	Describe("construction", func() {
		It("rejects an empty machine", func() {
			_, err := scheduler.NewScheduler(&scheduler.Config{NumPhysRegs: 8})
			Expect(err).To(HaveOccurred())
		})

		It("rejects duplicate queue names", func() {
			cfg := singleALUConfig()
			cfg.IQs = append(cfg.IQs, cfg.IQs[0])
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(MatchError(ContainSubstring("duplicate")))
		})

		It("rejects a queue without output ports", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts = nil
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("rejects more than eight output ports", func() {
			cfg := singleALUConfig()
			for i := 0; i < 9; i++ {
				cfg.IQs[0].OutPorts = append(cfg.IQs[0].OutPorts,
					aluPortSpec(aluFU, 0, 2))
			}
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(MatchError(ContainSubstring("outports")))
		})

		It("rejects an unknown register file type", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts[0].ReadPorts[0].TypeID = 3
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(MatchError(ContainSubstring("unknown RF type")))
		})

		It("rejects an out-of-range read port id", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts[0].ReadPorts[0].PortID = 16
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an out-of-range priority", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts[0].ReadPorts[0].Priority = 4
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an op class shared by non-identical ports", func() {
			divFU := scheduler.FUDesc{
				Name: "Div",
				Ops: []scheduler.OpDesc{
					{Op: insts.IntAlu, Latency: 1, Pipelined: true},
					{Op: insts.IntDiv, Latency: 8, Pipelined: false},
				},
			}
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts = append(cfg.IQs[0].OutPorts,
				scheduler.IssuePortSpec{FUs: []scheduler.FUDesc{divFU}})
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(MatchError(ContainSubstring("conflicting op class")))
		})

		It("rejects a zero schedule-to-exec delay", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].ScheduleToExecDelay = 0
			_, err := scheduler.NewScheduler(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("shares one selector across identical ports", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts = append(cfg.IQs[0].OutPorts, aluPortSpec(aluFU, 2, 2))
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			// two identical ports select the two oldest ready instructions
			a := insts.NewDynInst(1, insts.IntAlu, nil, []*insts.PhysRegID{intReg(10)})
			b := insts.NewDynInst(2, insts.IntAlu, nil, []*insts.PhysRegID{intReg(11)})
			s.AddProducer(a)
			s.Insert(a)
			s.AddProducer(b)
			s.Insert(b)

			step(s)
			issued := step(s)
			Expect(issued).To(ConsistOf(a, b))
		})
	})

	Describe("back-to-back dependent ALU ops", func() {
		It("issues producer and consumer on consecutive cycles", func() {
			s, err := scheduler.NewScheduler(singleALUConfig())
			Expect(err).NotTo(HaveOccurred())

			add := insts.NewDynInst(1, insts.IntAlu,
				[]*insts.PhysRegID{intReg(2), intReg(3)},
				[]*insts.PhysRegID{intReg(1)})
			sub := insts.NewDynInst(2, insts.IntAlu,
				[]*insts.PhysRegID{intReg(1), intReg(5)},
				[]*insts.PhysRegID{intReg(4)})

			s.AddProducer(add)
			s.Insert(add)
			s.AddProducer(sub)
			s.Insert(sub)

			Expect(step(s)).To(BeEmpty()) // select only
			Expect(step(s)).To(Equal([]*insts.DynInst{add}))

			s.BypassWriteback(add)
			Expect(step(s)).To(Equal([]*insts.DynInst{sub}))
			Expect(sub.Issued()).To(BeTrue())
		})

		It("issues an independent instruction within delayStages+1 cycles", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].ScheduleToExecDelay = 3
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			add := insts.NewDynInst(1, insts.IntAlu,
				[]*insts.PhysRegID{intReg(2)}, []*insts.PhysRegID{intReg(1)})
			s.AddProducer(add)
			s.Insert(add)

			cycles := stepN(s, 4)
			Expect(cycles[0]).To(BeEmpty())
			Expect(cycles[1]).To(BeEmpty())
			Expect(cycles[2]).To(BeEmpty())
			Expect(cycles[3]).To(Equal([]*insts.DynInst{add}))
		})
	})

	Describe("read-port arbitration", func() {
		It("lets the higher-priority claimant win and retries the loser", func() {
			cfg := &scheduler.Config{
				IQs: []scheduler.IssueQueSpec{
					{
						Name: "iqA", Size: 8, InPorts: 4, ScheduleToExecDelay: 1,
						OutPorts: []scheduler.IssuePortSpec{
							{
								FUs: []scheduler.FUDesc{aluFU},
								ReadPorts: []scheduler.ReadPortDesc{
									{TypeID: scheduler.RFTypeInt, PortID: 0, Priority: 2},
									{TypeID: scheduler.RFTypeInt, PortID: 1, Priority: 2},
								},
							},
						},
					},
					{
						Name: "iqB", Size: 8, InPorts: 4, ScheduleToExecDelay: 1,
						OutPorts: []scheduler.IssuePortSpec{
							{
								FUs: []scheduler.FUDesc{aluFU},
								ReadPorts: []scheduler.ReadPortDesc{
									{TypeID: scheduler.RFTypeInt, PortID: 0, Priority: 1},
									{TypeID: scheduler.RFTypeInt, PortID: 2, Priority: 1},
								},
							},
						},
					},
				},
				XBarWakeup:    true,
				NumPhysRegs:   64,
				VecOnesRegIdx: -1,
			}
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			x := insts.NewDynInst(1, insts.IntAlu,
				[]*insts.PhysRegID{intReg(2), intReg(3)},
				[]*insts.PhysRegID{intReg(10)})
			y := insts.NewDynInst(2, insts.IntAlu,
				[]*insts.PhysRegID{intReg(4), intReg(5)},
				[]*insts.PhysRegID{intReg(11)})

			s.AddProducer(x)
			s.Insert(x) // balances to iqA
			s.AddProducer(y)
			s.Insert(y) // balances to iqB

			Expect(step(s)).To(BeEmpty())
			Expect(step(s)).To(Equal([]*insts.DynInst{x}))
			Expect(step(s)).To(Equal([]*insts.DynInst{y}))

			iqB := s.IssueQueueByName("iqB")
			Expect(iqB.Stats().ArbFailed).To(Equal(uint64(1)))
			Expect(s.IssueQueueByName("iqA").Stats().ArbFailed).To(BeZero())
		})
	})

	Describe("non-pipelined functional units", func() {
		It("holds the port busy for the full occupancy", func() {
			divFU := scheduler.FUDesc{
				Name: "Div",
				Ops:  []scheduler.OpDesc{{Op: insts.IntDiv, Latency: 4, Pipelined: false}},
			}
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts = []scheduler.IssuePortSpec{
				{
					FUs: []scheduler.FUDesc{divFU},
					ReadPorts: []scheduler.ReadPortDesc{
						{TypeID: scheduler.RFTypeInt, PortID: 0, Priority: 2},
						{TypeID: scheduler.RFTypeInt, PortID: 1, Priority: 2},
					},
				},
			}
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			div1 := insts.NewDynInst(1, insts.IntDiv,
				[]*insts.PhysRegID{intReg(2), intReg(3)},
				[]*insts.PhysRegID{intReg(10)})
			div2 := insts.NewDynInst(2, insts.IntDiv,
				[]*insts.PhysRegID{intReg(4), intReg(5)},
				[]*insts.PhysRegID{intReg(11)})

			s.AddProducer(div1)
			s.Insert(div1)
			s.AddProducer(div2)
			s.Insert(div2)

			cycles := stepN(s, 5)
			Expect(cycles[0]).To(BeEmpty())
			Expect(cycles[1]).To(Equal([]*insts.DynInst{div1}))
			Expect(cycles[2]).To(BeEmpty()) // port busy, retried
			Expect(cycles[3]).To(BeEmpty())
			Expect(cycles[4]).To(Equal([]*insts.DynInst{div2}))

			st := s.IssueQueues()[0].Stats()
			Expect(st.PortBusy[0]).To(Equal(uint64(2)))
		})
	})

	Describe("load-miss cancellation", func() {
		var (
			s        *scheduler.Scheduler
			ld, add  *insts.DynInst
			iqL, iqA *scheduler.IssueQueue
		)

		BeforeEach(func() {
			cfg := &scheduler.Config{
				IQs: []scheduler.IssueQueSpec{
					{
						Name: "iqL", Size: 8, InPorts: 4, ScheduleToExecDelay: 1,
						OutPorts: []scheduler.IssuePortSpec{
							{
								FUs: []scheduler.FUDesc{{
									Name: "LoadUnit",
									Ops: []scheduler.OpDesc{
										{Op: insts.MemRead, Latency: 3, Pipelined: true},
									},
								}},
								ReadPorts: []scheduler.ReadPortDesc{
									{TypeID: scheduler.RFTypeInt, PortID: 6, Priority: 2},
								},
							},
						},
					},
					{
						Name: "iqA", Size: 8, InPorts: 4, ScheduleToExecDelay: 1,
						OutPorts: []scheduler.IssuePortSpec{aluPortSpec(aluFU, 0, 2)},
					},
				},
				XBarWakeup:       true,
				NumPhysRegs:      64,
				LoadWakeupAdjust: 2,
				VecOnesRegIdx:    -1,
			}
			var err error
			s, err = scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())
			iqL = s.IssueQueueByName("iqL")
			iqA = s.IssueQueueByName("iqA")

			ld = insts.NewDynInst(1, insts.MemRead,
				[]*insts.PhysRegID{intReg(2)}, []*insts.PhysRegID{intReg(1)})
			add = insts.NewDynInst(2, insts.IntAlu,
				[]*insts.PhysRegID{intReg(1), intReg(4)},
				[]*insts.PhysRegID{intReg(5)})

			s.AddProducer(ld)
			s.Insert(ld)
			s.AddProducer(add)
			s.Insert(add)
		})

		It("wakes the consumer at the corrected latency", func() {
			Expect(step(s)).To(BeEmpty())
			Expect(step(s)).To(Equal([]*insts.DynInst{ld}))

			// advertised latency 3 + load adjust 2: consumer selected at
			// cycle 5, so nothing reaches the FU before then
			Expect(step(s)).To(BeEmpty()) // cycle 2
			Expect(step(s)).To(BeEmpty()) // cycle 3
			Expect(step(s)).To(BeEmpty()) // cycle 4
			Expect(step(s)).To(BeEmpty()) // cycle 5: ADD selected

			s.BypassWriteback(ld)
			Expect(step(s)).To(Equal([]*insts.DynInst{add})) // cycle 6
		})

		It("cancels the chain when the bypass value never arrives", func() {
			stepN(s, 6) // LD issues, spec wake fires, ADD selected at cycle 5

			// cycle 6: ADD reaches the FU input without bypass data
			Expect(step(s)).To(BeEmpty())

			Expect(add.Issued()).To(BeFalse())
			Expect(add.Canceled()).To(BeTrue())
			Expect(ld.Canceled()).To(BeTrue())
			Expect(iqL.Stats().Loadmiss).To(Equal(uint64(1)))
			Expect(iqA.Stats().CanceledInst).To(Equal(uint64(1)))

			// the memory system replays the load and this time it hits
			s.RetryMem(ld)
			Expect(step(s)).To(Equal([]*insts.DynInst{ld}))
			Expect(iqL.Stats().RetryMem).To(Equal(uint64(1)))

			s.BypassWriteback(ld)
			s.WritebackWakeup(ld)

			Expect(step(s)).To(BeEmpty()) // ADD re-selected
			Expect(step(s)).To(Equal([]*insts.DynInst{add}))
			Expect(add.Issued()).To(BeTrue())
		})
	})

	Describe("squash", func() {
		It("removes younger instructions from every structure", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].ScheduleToExecDelay = 2
			cfg.IQs[0].OutPorts = append(cfg.IQs[0].OutPorts, aluPortSpec(aluFU, 2, 2))
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())
			iq := s.IssueQueues()[0]

			var trio []*insts.DynInst
			for i := 0; i < 3; i++ {
				inst := insts.NewDynInst(uint64(10+i), insts.IntAlu,
					[]*insts.PhysRegID{intReg(2 + i)},
					[]*insts.PhysRegID{intReg(20 + i)})
				s.AddProducer(inst)
				s.Insert(inst)
				trio = append(trio, inst)
			}

			// sn 10 and 11 enter the delay pipeline, sn 12 is selected
			Expect(step(s)).To(BeEmpty())
			Expect(step(s)).To(BeEmpty())

			s.DoSquash(10)

			Expect(iq.Insts()).To(Equal([]*insts.DynInst{trio[0]}))
			Expect(trio[1].Squashed()).To(BeTrue())
			Expect(trio[2].Squashed()).To(BeTrue())

			// only the survivor ever reaches a functional unit
			var issued []*insts.DynInst
			for i := 0; i < 4; i++ {
				issued = append(issued, step(s)...)
			}
			Expect(issued).To(Equal([]*insts.DynInst{trio[0]}))

			s.WritebackWakeup(trio[0])
			s.DoCommit(10)
			Expect(s.IsDrained()).To(BeTrue())
		})
	})

	Describe("commit", func() {
		It("is idempotent", func() {
			s, err := scheduler.NewScheduler(singleALUConfig())
			Expect(err).NotTo(HaveOccurred())
			iq := s.IssueQueues()[0]

			inst := insts.NewDynInst(1, insts.IntAlu,
				[]*insts.PhysRegID{intReg(2)}, []*insts.PhysRegID{intReg(10)})
			s.AddProducer(inst)
			s.Insert(inst)
			stepN(s, 2)
			Expect(inst.Issued()).To(BeTrue())

			s.DoCommit(1)
			Expect(iq.Insts()).To(BeEmpty())
			s.DoCommit(1)
			Expect(iq.Insts()).To(BeEmpty())
			Expect(s.IsDrained()).To(BeTrue())
		})
	})

	Describe("writeback wakeup", func() {
		It("is idempotent on the scoreboards", func() {
			s, err := scheduler.NewScheduler(singleALUConfig())
			Expect(err).NotTo(HaveOccurred())

			producer := insts.NewDynInst(1, insts.IntAlu,
				[]*insts.PhysRegID{intReg(2)}, []*insts.PhysRegID{intReg(10)})
			consumer := insts.NewDynInst(2, insts.IntAlu,
				[]*insts.PhysRegID{intReg(10)}, []*insts.PhysRegID{intReg(11)})

			s.AddProducer(producer)
			s.AddProducer(consumer)
			s.Insert(consumer) // waits on p10

			s.BypassWriteback(producer)
			s.WritebackWakeup(producer)
			s.WritebackWakeup(producer)

			var issued []*insts.DynInst
			for i := 0; i < 4; i++ {
				issued = append(issued, step(s)...)
			}
			Expect(issued).To(Equal([]*insts.DynInst{consumer}))
		})
	})

	Describe("dispatch", func() {
		It("balances integer op classes by residency", func() {
			cfg := singleALUConfig()
			cfg.IQs = append(cfg.IQs, cfg.IQs[0])
			cfg.IQs[1].Name = "intIQ1"
			cfg.IQs[1].OutPorts = []scheduler.IssuePortSpec{aluPortSpec(aluFU, 2, 2)}
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 6; i++ {
				inst := insts.NewDynInst(uint64(1+i), insts.IntAlu,
					[]*insts.PhysRegID{intReg(2)},
					[]*insts.PhysRegID{intReg(10 + i)})
				s.AddProducer(inst)
				Expect(s.Ready(inst)).To(BeTrue())
				s.Insert(inst)
			}

			a := s.IssueQueueByName("intIQ")
			b := s.IssueQueueByName("intIQ1")
			Expect(a.OpCount(insts.IntAlu)).To(Equal(3))
			Expect(b.OpCount(insts.IntAlu)).To(Equal(3))
			// the first instruction lands in the first table entry
			Expect(a.Insts()[0].SeqNum).To(Equal(uint64(1)))
		})

		It("panics when inserting without capacity", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].Size = 1
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			first := insts.NewDynInst(1, insts.IntAlu, nil, []*insts.PhysRegID{intReg(10)})
			s.AddProducer(first)
			s.Insert(first)

			second := insts.NewDynInst(2, insts.IntAlu, nil, []*insts.PhysRegID{intReg(11)})
			Expect(s.Ready(second)).To(BeFalse())
			Expect(s.Full(second)).To(BeTrue())
			Expect(func() { s.Insert(second) }).To(Panic())
		})

		It("limits insertions to the input port bandwidth", func() {
			cfg := singleALUConfig()
			cfg.IQs[0].InPorts = 2
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 2; i++ {
				inst := insts.NewDynInst(uint64(1+i), insts.IntAlu,
					nil, []*insts.PhysRegID{intReg(10 + i)})
				s.AddProducer(inst)
				s.Insert(inst)
			}
			extra := insts.NewDynInst(3, insts.IntAlu, nil, []*insts.PhysRegID{intReg(13)})
			Expect(s.Ready(extra)).To(BeFalse())

			// bandwidth refreshes on the next cycle
			step(s)
			Expect(s.Ready(extra)).To(BeTrue())
		})

		It("refuses unconfigured op classes", func() {
			s, err := scheduler.NewScheduler(singleALUConfig())
			Expect(err).NotTo(HaveOccurred())

			vec := insts.NewDynInst(1, insts.VecAlu, nil, nil)
			Expect(s.Ready(vec)).To(BeFalse())
		})
	})

	Describe("FMA multiply micro-ops", func() {
		It("does not count them against queue occupancy", func() {
			fmaFU := scheduler.FUDesc{
				Name: "FMA",
				Ops: []scheduler.OpDesc{
					{Op: insts.FMAMul, Latency: 3, Pipelined: true},
					{Op: insts.FMAAcc, Latency: 3, Pipelined: true},
				},
			}
			cfg := singleALUConfig()
			cfg.IQs[0].OutPorts = []scheduler.IssuePortSpec{
				{FUs: []scheduler.FUDesc{fmaFU}},
			}
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())
			iq := s.IssueQueues()[0]

			mul := insts.NewDynInst(1, insts.FMAMul,
				nil, []*insts.PhysRegID{intReg(10)})
			s.AddProducer(mul)
			s.Insert(mul)
			Expect(iq.InstCount()).To(BeZero())

			acc := insts.NewDynInst(2, insts.FMAAcc,
				nil, []*insts.PhysRegID{intReg(11)})
			s.AddProducer(acc)
			s.Insert(acc)
			Expect(iq.InstCount()).To(Equal(1))
		})
	})

	Describe("default machine", func() {
		It("validates and exposes the configured queues", func() {
			cfg := defaultTestConfig()
			s, err := scheduler.NewScheduler(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.IssueQueues()).To(HaveLen(4))
			Expect(s.IssueQueueByName("memIQ")).NotTo(BeNil())
			Expect(s.IQInsts()).To(BeZero())
			Expect(s.HasReadyInsts()).To(BeFalse())
			Expect(s.IsDrained()).To(BeTrue())
		})
	})
})
