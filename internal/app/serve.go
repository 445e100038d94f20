package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ledgercast/internal/config"
	"ledgercast/internal/invoke"
	"ledgercast/internal/ledger"
	"ledgercast/internal/report"
	rtsup "ledgercast/internal/runtime/supervisor"
	"ledgercast/internal/schedule"
	logx "ledgercast/pkg/logx"
)

// ServeOptions override the configuration for one serve invocation.
type ServeOptions struct {
	Addr     string
	Schedule string
}

// Serve starts the invocation surface, the config watcher and, when configured,
// the schedule runner. It blocks until ctx ends or a component fails fatally.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := a.cfgm.Get()
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	sc, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Addr) != "" {
		sc.Addr = strings.TrimSpace(opts.Addr)
	}
	handler := invoke.NewRouter(httpBackend{a: a}, sc, invoke.Options{
		Log:     a.log.With(logx.String("comp", "invoke")),
		Metrics: a.metrics,
		Health:  func() any { return health{Status: "ok", Supervisor: sup.Snapshot()} },
	})
	srv := invoke.NewServer(sc, handler, a.log.With(logx.String("comp", "http")))
	srv.Start(sup.Context())

	var runner *schedule.Runner
	spec := strings.TrimSpace(opts.Schedule)
	if spec == "" && cfg.Schedule.Enabled {
		spec = cfg.Schedule.Spec
	}
	if spec != "" {
		runner, err = schedule.New(spec, cfg.Schedule.Timezone, a.scheduledRun, a.log.With(logx.String("comp", "schedule")))
		if err != nil {
			sup.Cancel()
			_ = srv.Stop(context.Background())
			return ledger.InvalidField("schedule.spec", err.Error())
		}
		if err := runner.Start(sup.Context()); err != nil {
			sup.Cancel()
			_ = srv.Stop(context.Background())
			return err
		}
	}

	reloads, unsubscribe := a.cfgm.Subscribe(8)
	sup.Go("config.reload", func(c context.Context) error {
		defer unsubscribe()
		a.reloadLoop(c, reloads)
		return nil
	})
	sup.Go("config.watch", a.cfgm.Watch)

	select {
	case <-srv.Ready():
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			a.log.Debug("sd_notify failed", logx.Err(err))
		} else if ok {
			a.log.Debug("sd_notify ready sent")
		}
		a.log.Info("serving", logx.String("addr", srv.Addr()), logx.Bool("schedule", runner != nil))
	case <-srv.Done():
	case <-sup.Context().Done():
	}

	select {
	case <-srv.Done():
	case <-sup.Context().Done():
	}
	cause := sup.Err()
	if cause == nil {
		cause = srv.Err()
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.stop(stopCtx, sup, srv, runner)
	return cause
}

type health struct {
	Status     string         `json:"status"`
	Supervisor rtsup.Snapshot `json:"supervisor"`
}

// scheduledRun is one scheduled tick: the configured run shape and transfer template.
func (a *App) scheduledRun(ctx context.Context) error {
	rc, err := RunConfig(a.cfgm.Get())
	if err != nil {
		return err
	}
	res, err := a.RunBatch(ctx, rc, ledger.Request{}, TriggerSchedule)
	if err != nil {
		return err
	}
	s := report.Summary(res)
	a.log.Info("scheduled run finished",
		logx.String("run_id", s.RunID),
		logx.Int("announced", s.Announced),
		logx.Int("failed", s.Failed),
		logx.Int("errored", s.Errored),
		logx.Float64("tx_per_sec", s.Throughput),
	)
	if s.Announced == 0 && s.Total > 0 {
		return fmt.Errorf("scheduled run %s announced nothing", s.RunID)
	}
	return nil
}

// reloadLoop applies hot-reloadable settings. Run defaults and the transfer
// template are read per run, so only logging needs explicit application here.
func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-updates:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			if next == nil {
				continue
			}
			sections, attrs := config.SummarizeConfigChange(last, next)
			last = next
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.logs.Apply(mapLogConfig(next))
			if restart := config.RestartRequired(sections); len(restart) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// stop shuts components down in order, each step bounded so one cannot stall the rest.
func (a *App) stop(ctx context.Context, sup *rtsup.Supervisor, srv *invoke.Server, runner *schedule.Runner) {
	a.log.Info("stopping")
	sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 5*time.Second, srv.Stop)
	step("schedule", 3*time.Second, func(c context.Context) error {
		if runner != nil {
			runner.Stop(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, sup.Wait)
	a.log.Info("stopped")
}
