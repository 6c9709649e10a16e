package ledger

import (
	"sync"
	"sync/atomic"
)

// PipelineStats counts signals through each pipeline stage, with a
// histogram of why the risk stage rejected. Exposed on /status.
type PipelineStats struct {
	detected atomic.Int64
	approved atomic.Int64
	rejected atomic.Int64
	executed atomic.Int64
	missed   atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	reasons map[string]int64
}

// NewPipelineStats builds an empty counter set.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{reasons: make(map[string]int64)}
}

// Detected counts one detector emission.
func (p *PipelineStats) Detected() { p.detected.Add(1) }

// Approved counts one signal passing the risk stage.
func (p *PipelineStats) Approved() { p.approved.Add(1) }

// Rejected counts one risk rejection under a normalized reason.
func (p *PipelineStats) Rejected(reason string) {
	p.rejected.Add(1)
	p.mu.Lock()
	p.reasons[reason]++
	p.mu.Unlock()
}

// Executed counts one completed execution.
func (p *PipelineStats) Executed() { p.executed.Add(1) }

// Missed counts one approved signal whose spread vanished before any
// leg filled.
func (p *PipelineStats) Missed() { p.missed.Add(1) }

// Failed counts one execution error.
func (p *PipelineStats) Failed() { p.failed.Add(1) }

// StatsSnapshot is a point-in-time copy of the pipeline counters.
type StatsSnapshot struct {
	Detected         int64            `json:"detected"`
	Approved         int64            `json:"approved"`
	Rejected         int64            `json:"rejected"`
	Executed         int64            `json:"executed"`
	Missed           int64            `json:"missed"`
	Failed           int64            `json:"failed"`
	RejectionReasons map[string]int64 `json:"rejection_reasons"`
}

// Snapshot copies the counters and reason histogram.
func (p *PipelineStats) Snapshot() StatsSnapshot {
	p.mu.Lock()
	reasons := make(map[string]int64, len(p.reasons))
	for k, v := range p.reasons {
		reasons[k] = v
	}
	p.mu.Unlock()

	return StatsSnapshot{
		Detected:         p.detected.Load(),
		Approved:         p.approved.Load(),
		Rejected:         p.rejected.Load(),
		Executed:         p.executed.Load(),
		Missed:           p.missed.Load(),
		Failed:           p.failed.Load(),
		RejectionReasons: reasons,
	}
}
