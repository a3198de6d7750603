package scheduler

// IssueQueStats holds the telemetry counters of one issue queue.
type IssueQueStats struct {
	// RetryMem counts load/store retries through the replay queue.
	RetryMem uint64
	// CanceledInst counts instructions canceled by load-miss propagation.
	CanceledInst uint64
	// Loadmiss counts loads whose speculative wake-up was canceled.
	Loadmiss uint64
	// ArbFailed counts read-port arbitration losses.
	ArbFailed uint64

	// InsertDist[n] counts cycles with n insertions; cycles without
	// insertions are not counted, so InsertDist[0] stays zero.
	InsertDist []uint64
	// IssueDist[n] counts cycles with n issues; cycles without issues are
	// not counted, so IssueDist[0] stays zero.
	IssueDist []uint64
	// PortIssued[p] counts instructions scheduled on port p.
	PortIssued []uint64
	// PortBusy[p] counts cycles an instruction was rejected because port
	// p's unit was still busy.
	PortBusy []uint64

	instsSum     uint64
	instsSamples uint64
}

func newIssueQueStats(inports, outports int) *IssueQueStats {
	return &IssueQueStats{
		InsertDist: make([]uint64, inports+1),
		IssueDist:  make([]uint64, outports+1),
		PortIssued: make([]uint64, outports),
		PortBusy:   make([]uint64, outports),
	}
}

// sampleInsts records the queue occupancy for the AvgInsts average,
// sampled once per cycle.
func (s *IssueQueStats) sampleInsts(n int) {
	s.instsSum += uint64(n)
	s.instsSamples++
}

// AvgInsts returns the average queue occupancy per cycle.
func (s *IssueQueStats) AvgInsts() float64 {
	if s.instsSamples == 0 {
		return 0
	}
	return float64(s.instsSum) / float64(s.instsSamples)
}
