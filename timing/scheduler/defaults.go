package scheduler

import (
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/latency"
)

func opDesc(table *latency.Table, op insts.OpClass) OpDesc {
	return OpDesc{
		Op:        op,
		Latency:   table.Latency(op),
		Pipelined: table.Pipelined(op),
	}
}

// DefaultConfig builds a four-queue machine: two integer ALU queues, one
// floating-point queue and one load/store queue, cross-bar speculative
// wake-up, and read-port assignments that contend on one shared integer
// port.
func DefaultConfig(table *latency.Table) *Config {
	intALU := FUDesc{
		Name: "IntALU",
		Ops: []OpDesc{
			opDesc(table, insts.IntAlu),
			opDesc(table, insts.IntMult),
		},
	}
	intDiv := FUDesc{
		Name: "IntDiv",
		Ops: []OpDesc{
			opDesc(table, insts.IntDiv),
		},
	}
	fpu := FUDesc{
		Name: "FPU",
		Ops: []OpDesc{
			opDesc(table, insts.FloatAdd),
			opDesc(table, insts.FloatCmp),
			opDesc(table, insts.FloatCvt),
			opDesc(table, insts.FloatMult),
			opDesc(table, insts.FloatDiv),
			opDesc(table, insts.FMAMul),
			opDesc(table, insts.FMAAcc),
		},
	}
	ldu := FUDesc{
		Name: "LoadUnit",
		Ops: []OpDesc{
			opDesc(table, insts.MemRead),
			opDesc(table, insts.FloatMemRead),
		},
	}
	stu := FUDesc{
		Name: "StoreUnit",
		Ops: []OpDesc{
			opDesc(table, insts.MemWrite),
			opDesc(table, insts.FloatMemWrite),
		},
	}

	return &Config{
		IQs: []IssueQueSpec{
			{
				Name:                "intIQ0",
				Size:                24,
				InPorts:             4,
				ScheduleToExecDelay: 1,
				OutPorts: []IssuePortSpec{
					{
						FUs: []FUDesc{intALU},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeInt, PortID: 0, Priority: 2},
							{TypeID: RFTypeInt, PortID: 1, Priority: 2},
						},
					},
					{
						FUs: []FUDesc{intDiv},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeInt, PortID: 2, Priority: 1},
							{TypeID: RFTypeInt, PortID: 3, Priority: 1},
						},
					},
				},
			},
			{
				Name:                "intIQ1",
				Size:                24,
				InPorts:             4,
				ScheduleToExecDelay: 1,
				OutPorts: []IssuePortSpec{
					{
						FUs: []FUDesc{intALU},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeInt, PortID: 4, Priority: 2},
							// contends with the load queue's address port
							{TypeID: RFTypeInt, PortID: 6, Priority: 1},
						},
					},
				},
			},
			{
				Name:                "fpIQ",
				Size:                24,
				InPorts:             4,
				ScheduleToExecDelay: 2,
				OutPorts: []IssuePortSpec{
					{
						FUs: []FUDesc{fpu},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeFP, PortID: 0, Priority: 2},
							{TypeID: RFTypeFP, PortID: 1, Priority: 2},
							{TypeID: RFTypeFP, PortID: 2, Priority: 2},
						},
					},
				},
			},
			{
				Name:                "memIQ",
				Size:                16,
				InPorts:             4,
				ScheduleToExecDelay: 1,
				OutPorts: []IssuePortSpec{
					{
						FUs: []FUDesc{ldu},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeInt, PortID: 6, Priority: 2},
						},
					},
					{
						FUs: []FUDesc{stu},
						ReadPorts: []ReadPortDesc{
							{TypeID: RFTypeInt, PortID: 7, Priority: 1},
							{TypeID: RFTypeInt, PortID: 8, Priority: 1},
						},
					},
				},
			},
		},
		XBarWakeup:       true,
		NumPhysRegs:      256,
		RegCacheCapacity: DefaultRegCacheCapacity,
		LoadWakeupAdjust: DefaultLoadWakeupAdjust,
		VecOnesRegIdx:    -1,
	}
}
