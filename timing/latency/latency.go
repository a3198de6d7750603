// Package latency provides per-op-class execution timing for the
// out-of-order scheduler model.
//
// Latencies are configurable via TimingConfig and loadable from JSON.
package latency

import (
	"github.com/sarchlab/o3sim/insts"
)

// Table provides op-class latency and pipelining lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a latency table with a custom configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// Latency returns the execution latency in cycles for the given op class.
func (t *Table) Latency(op insts.OpClass) int {
	switch op {
	case insts.IntAlu:
		return t.config.IntAluLatency
	case insts.IntMult:
		return t.config.IntMultLatency
	case insts.IntDiv:
		return t.config.IntDivLatency
	case insts.FloatAdd:
		return t.config.FloatAddLatency
	case insts.FloatCmp:
		return t.config.FloatCmpLatency
	case insts.FloatCvt:
		return t.config.FloatCvtLatency
	case insts.FloatMult:
		return t.config.FloatMultLatency
	case insts.FloatDiv:
		return t.config.FloatDivLatency
	case insts.FMAMul, insts.FMAAcc:
		return t.config.FMALatency
	case insts.MemRead, insts.FloatMemRead:
		return t.config.LoadLatency
	case insts.MemWrite, insts.FloatMemWrite:
		return t.config.StoreLatency
	case insts.VecAlu:
		return t.config.VecAluLatency
	case insts.VecMemRead:
		return t.config.VecLoadLatency
	default:
		return 1
	}
}

// Pipelined reports whether the unit executing the op class accepts a new
// operation every cycle.
func (t *Table) Pipelined(op insts.OpClass) bool {
	switch op {
	case insts.IntDiv:
		return t.config.IntDivPipelined
	case insts.FloatDiv:
		return t.config.FloatDivPipelined
	default:
		return true
	}
}
