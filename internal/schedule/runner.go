// Package schedule triggers recurring dispatch runs.
//
// A Runner owns one robfig/cron instance with a single entry. A tick that fires
// while the previous run is still in flight is skipped, not queued.
package schedule

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "ledgercast/pkg/logx"
)

// Job is one triggered run. Its error is logged; it never stops the schedule.
type Job func(ctx context.Context) error

type Runner struct {
	spec Spec
	loc  *time.Location
	job  Job
	log  logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
}

// New parses raw and prepares a runner. An empty or unknown timezone means local time.
func New(raw, timezone string, job Job, log logx.Logger) (*Runner, error) {
	spec, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("unknown timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	return &Runner{spec: spec, loc: loc, job: job, log: log}, nil
}

func (r *Runner) Spec() Spec { return r.spec }

// Start begins triggering. Jobs receive a context derived from ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	sched, err := r.spec.Schedule()
	if err != nil {
		return err
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(r.loc))
	r.c.Schedule(sched, cron.FuncJob(r.tick))
	r.c.Start()
	r.log.Info("schedule started",
		logx.String("spec", r.spec.String()),
		logx.String("tz", r.loc.String()),
		logx.Time("next", sched.Next(time.Now().In(r.loc))),
	)
	return nil
}

// Stop halts triggering and waits for an in-flight scheduled run, or until ctx
// is done, at which point the run's context is canceled.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	cancel := r.cancel
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	r.log.Info("schedule stopped", logx.Uint64("runs", r.runs.Load()), logx.Uint64("skipped", r.skipped.Load()))
}

// Trigger runs the job now, subject to the same overlap rule as scheduled ticks.
// It reports whether the job ran.
func (r *Runner) Trigger() bool { return r.fire() }

func (r *Runner) tick() { r.fire() }

func (r *Runner) fire() bool {
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.log.Warn("schedule tick skipped; previous run still in flight")
		return false
	}
	defer r.running.Store(false)

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r.runs.Add(1)

	start := time.Now()
	if err := r.job(ctx); err != nil {
		r.log.Warn("scheduled run failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return true
	}
	r.log.Debug("scheduled run finished", logx.Duration("took", time.Since(start)))
	return true
}

// Stats returns how many runs fired and how many ticks were skipped.
func (r *Runner) Stats() (runs, skipped uint64) {
	return r.runs.Load(), r.skipped.Load()
}
