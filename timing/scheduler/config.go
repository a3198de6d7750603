package scheduler

import (
	"github.com/sarchlab/o3sim/insts"
)

// Default configuration values.
const (
	DefaultReplayQueueSize  = 32
	DefaultRegCacheCapacity = 24
	DefaultLoadWakeupAdjust = 2
)

// OpDesc declares one op class a functional unit executes.
type OpDesc struct {
	// Op is the op class.
	Op insts.OpClass
	// Latency is the execution latency in cycles.
	Latency int
	// Pipelined selects whether the unit accepts a new operation of this
	// class every cycle.
	Pipelined bool
}

// FUDesc describes a functional unit bound to an issue port.
type FUDesc struct {
	// Name labels the unit in traces.
	Name string
	// Ops lists the op classes the unit executes.
	Ops []OpDesc
}

// IssuePortSpec configures one output port of an issue queue.
type IssuePortSpec struct {
	// FUs are the functional units reachable through this port.
	FUs []FUDesc
	// ReadPorts assigns register-file read ports to the port's source
	// operand positions, in source order, partitioned by register file
	// type.
	ReadPorts []ReadPortDesc
}

// IssueQueSpec configures one issue queue.
type IssueQueSpec struct {
	// Name identifies the queue; must be unique.
	Name string
	// Size is the queue capacity in instructions.
	Size int
	// InPorts bounds insertions per cycle.
	InPorts int
	// ScheduleToExecDelay is the depth of the delay pipeline between the
	// schedule stage and the functional-unit input; at least 1.
	ScheduleToExecDelay int
	// OutPorts lists the queue's output ports, at most 8.
	OutPorts []IssuePortSpec
	// ReplayQueueSize bounds the memory replay queue; 0 selects
	// DefaultReplayQueueSize.
	ReplayQueueSize int
}

// WakeupChannelSpec declares speculative wake-up fan-out from one queue to
// others.
type WakeupChannelSpec struct {
	SrcIQ  string
	DstIQs []string
}

// Config is the scheduler configuration surface.
type Config struct {
	// IQs lists the issue queues.
	IQs []IssueQueSpec

	// SpecWakeupNetwork declares the speculative wake-up channels.
	// Ignored when XBarWakeup is set.
	SpecWakeupNetwork []WakeupChannelSpec

	// XBarWakeup connects every queue to every queue.
	XBarWakeup bool

	// NumPhysRegs sizes the scoreboards and the dependency graph.
	NumPhysRegs int

	// RegCacheCapacity sizes the integer register cache; 0 selects
	// DefaultRegCacheCapacity.
	RegCacheCapacity int

	// LoadWakeupAdjust is added to the advertised latency of loads when
	// computing speculative wake-up delay.
	LoadWakeupAdjust int

	// VecOnesRegIdx is the flat index of the broadcast all-ones vector
	// register, a constant that never reflects a real producer; -1 when
	// absent.
	VecOnesRegIdx int
}
