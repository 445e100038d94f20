package dispatch

import (
	"sync"
	"time"

	"ledgercast/internal/ledger"
)

// Result collects the outcomes of one run.
//
// Outcomes are in submission order for Sequential runs and in completion order
// for BoundedConcurrent runs. Elapsed and Throughput are set by finalize.
type Result struct {
	RunID     string    `json:"run_id"`
	Mode      Mode      `json:"mode"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`

	Outcomes   []ledger.Outcome `json:"outcomes"`
	Elapsed    time.Duration    `json:"elapsed"`
	Throughput float64          `json:"throughput"`

	// PeakInFlight is the highest number of units that held an admission slot at once.
	PeakInFlight int `json:"peak_in_flight"`

	mu         sync.Mutex
	firstAdmit time.Time
	lastRecord time.Time
	finalized  bool
}

// outcomesPrealloc caps the initial outcome capacity; larger runs grow by append.
const outcomesPrealloc = 1024

func newResult(runID string, mode Mode, total int) *Result {
	return &Result{
		RunID:     runID,
		Mode:      mode,
		Total:     total,
		StartedAt: time.Now(),
		Outcomes:  make([]ledger.Outcome, 0, min(total, outcomesPrealloc)),
	}
}

// admitted marks the first admission; later calls are no-ops.
func (r *Result) admitted(at time.Time) {
	r.mu.Lock()
	if r.firstAdmit.IsZero() {
		r.firstAdmit = at
	}
	r.mu.Unlock()
}

// record appends one outcome and returns how many outcomes exist so far.
func (r *Result) record(out ledger.Outcome, at time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes = append(r.Outcomes, out)
	r.lastRecord = at
	return len(r.Outcomes)
}

func (r *Result) notePeak(n int) {
	r.mu.Lock()
	if n > r.PeakInFlight {
		r.PeakInFlight = n
	}
	r.mu.Unlock()
}

func (r *Result) finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	if !r.firstAdmit.IsZero() && r.lastRecord.After(r.firstAdmit) {
		r.Elapsed = r.lastRecord.Sub(r.firstAdmit)
	}
	r.Throughput = Throughput(r.Total, r.Elapsed)
}

// Throughput is count per second, 0 when either side is empty.
func Throughput(count int, elapsed time.Duration) float64 {
	if count <= 0 || elapsed <= 0 {
		return 0
	}
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(count) / secs
}

// Counts returns the number of outcomes per status.
func (r *Result) Counts() (announced, failed, errored int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case ledger.StatusAnnounced:
			announced++
		case ledger.StatusFailed:
			failed++
		default:
			errored++
		}
	}
	return announced, failed, errored
}

// Last returns the most recently recorded outcome.
func (r *Result) Last() (ledger.Outcome, bool) {
	if len(r.Outcomes) == 0 {
		return ledger.Outcome{}, false
	}
	return r.Outcomes[len(r.Outcomes)-1], true
}
