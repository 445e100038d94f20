package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"ledgercast/internal/eventbus"
	"ledgercast/internal/ledger"
	"ledgercast/internal/runtime/supervisor"
	logx "ledgercast/pkg/logx"
)

// Dispatcher runs batches of build-sign-announce units.
//
// A Dispatcher holds no per-run state; Run may be called concurrently.
type Dispatcher struct {
	engine    Engine
	announcer Announcer

	log       logx.Logger
	bus       eventbus.Bus
	metrics   Metrics
	preflight func() error
	maxTotal  int
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

func WithMetrics(m Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithPreflight installs a check that runs once per Run before any unit starts,
// typically validation of the signing credential and node settings.
func WithPreflight(fn func() error) Option { return func(d *Dispatcher) { d.preflight = fn } }

// WithMaxTotal caps the number of units one Run accepts. n <= 0 keeps DefaultMaxTotal.
func WithMaxTotal(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTotal = n
		}
	}
}

func New(engine Engine, announcer Announcer, opts ...Option) *Dispatcher {
	d := &Dispatcher{engine: engine, announcer: announcer, maxTotal: DefaultMaxTotal}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// Run executes cfg.Total units and returns once every unit has a terminal outcome.
//
// The only error Run returns is a *ledger.ConfigurationError, raised before any unit
// starts. Unit failures are recorded in the result and never abort siblings.
// Canceling ctx stops new admissions; units already admitted run to completion.
func (d *Dispatcher) Run(ctx context.Context, cfg Config, req ledger.Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.check(cfg); err != nil {
		return nil, err
	}

	res := newResult(uuid.NewString(), cfg.Mode, cfg.Total)
	log := d.log.With(logx.String("run", res.RunID))
	log.Info("dispatch started",
		logx.String("mode", cfg.Mode.String()),
		logx.Int("total", cfg.Total),
		logx.Int("concurrency", cfg.ConcurrencyLimit),
		logx.Float64("rate", cfg.RatePerSecond),
	)
	d.publish(EventStarted, StartedEvent{RunID: res.RunID, Mode: cfg.Mode.String(), Total: cfg.Total})

	switch cfg.Mode {
	case BoundedConcurrent:
		d.runConcurrent(ctx, cfg, req, res, log)
	default:
		d.runSequential(ctx, cfg, req, res, log)
	}
	res.finalize()

	announced, failed, errored := res.Counts()
	if d.metrics != nil {
		d.metrics.RunFinished(cfg.Mode.String(), res.Elapsed, res.Throughput)
	}
	d.publish(EventFinished, FinishedEvent{
		RunID:      res.RunID,
		Total:      cfg.Total,
		Announced:  announced,
		Failed:     failed,
		Errored:    errored,
		Elapsed:    res.Elapsed,
		Throughput: res.Throughput,
	})

	fields := []logx.Field{
		logx.Int("total", cfg.Total),
		logx.Int("announced", announced),
		logx.Int("failed", failed),
		logx.Int("errored", errored),
		logx.Int("peak_in_flight", res.PeakInFlight),
		logx.Duration("elapsed", res.Elapsed),
		logx.Float64("tps", res.Throughput),
	}
	if failed+errored > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
	return res, nil
}

func (d *Dispatcher) check(cfg Config) error {
	if d.engine == nil {
		return ledger.MissingField("engine")
	}
	if d.announcer == nil {
		return ledger.MissingField("announcer")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Total > d.maxTotal {
		return ledger.InvalidField("dispatch.total", fmt.Sprintf("%d exceeds the batch limit of %d", cfg.Total, d.maxTotal))
	}
	if d.preflight != nil {
		if err := d.preflight(); err != nil {
			if ledger.IsConfigurationError(err) {
				return err
			}
			return &ledger.ConfigurationError{Reason: err.Error()}
		}
	}
	return nil
}

func (d *Dispatcher) runSequential(ctx context.Context, cfg Config, req ledger.Request, res *Result, log logx.Logger) {
	for i := 0; i < cfg.Total; i++ {
		if err := ctx.Err(); err != nil {
			d.finishUnit(res, notAdmitted(i, err), false, log)
			continue
		}
		res.admitted(time.Now())
		if d.metrics != nil {
			d.metrics.UnitAdmitted(0)
		}
		res.notePeak(1)
		d.finishUnit(res, d.execUnit(ctx, i, req, log), true, log)
	}
}

func (d *Dispatcher) runConcurrent(ctx context.Context, cfg Config, req ledger.Request, res *Result, log logx.Logger) {
	g := newGate(cfg.ConcurrencyLimit)
	pacing := cfg.PacingDelay()

	// Unit goroutines live under a context detached from ctx: cancellation only
	// affects admission, never work already in flight.
	sup := supervisor.NewSupervisor(context.WithoutCancel(ctx),
		supervisor.WithLogger(log.With(logx.String("comp", "dispatch.units"))),
	)
	for i := 0; i < cfg.Total; i++ {
		idx := i
		sup.Go("unit", func(context.Context) error {
			d.runUnit(ctx, g, idx, pacing, req, res, log)
			return nil
		})
	}
	_ = sup.Wait(context.Background())
	res.notePeak(g.peak())
}

func (d *Dispatcher) runUnit(ctx context.Context, g *gate, idx int, pacing time.Duration, req ledger.Request, res *Result, log logx.Logger) {
	waitStart := time.Now()
	if err := g.acquire(ctx); err != nil {
		d.finishUnit(res, notAdmitted(idx, err), false, log)
		return
	}
	defer g.release()

	admittedAt := time.Now()
	res.admitted(admittedAt)
	if d.metrics != nil {
		d.metrics.UnitAdmitted(admittedAt.Sub(waitStart))
	}

	d.finishUnit(res, d.execUnit(ctx, idx, req, log), true, log)

	// Pacing holds the slot after the work is done; it throttles slot turnover,
	// not unit start time.
	if pacing > 0 {
		t := time.NewTimer(pacing)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
		}
	}
}

// execUnit runs engine then announcer for one unit. Panics become error outcomes.
func (d *Dispatcher) execUnit(ctx context.Context, idx int, req ledger.Request, log logx.Logger) (out ledger.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("unit panicked", logx.Int("unit", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = ledger.Errored(out.Hash, fmt.Errorf("panic: %v", r))
		}
		out.Index = idx
		out.Duration = time.Since(start)
	}()

	uctx := context.WithoutCancel(ctx)
	tx, err := d.engine.Build(uctx, req.ForUnit(idx))
	if err != nil {
		var ee *ledger.EngineError
		if !errors.As(err, &ee) {
			err = &ledger.EngineError{Err: err}
		}
		log.Warn("transaction build failed", logx.Int("unit", idx), logx.Err(err))
		return ledger.Errored("", err)
	}
	return d.announcer.Announce(uctx, tx)
}

func (d *Dispatcher) finishUnit(res *Result, out ledger.Outcome, admitted bool, log logx.Logger) {
	n := res.record(out, time.Now())
	if d.metrics != nil {
		d.metrics.UnitFinished(out, admitted)
	}
	d.publish(EventUnit, UnitEvent{RunID: res.RunID, Completed: n, Total: res.Total, Outcome: out})
	log.Debug("unit finished",
		logx.Int("unit", out.Index),
		logx.String("status", string(out.Status)),
		logx.String("hash", out.Hash),
		logx.Duration("dur", out.Duration),
	)
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func notAdmitted(idx int, cause error) ledger.Outcome {
	out := ledger.Errored("", fmt.Errorf("%w: %v", ledger.ErrNotAdmitted, cause))
	out.Index = idx
	return out
}
