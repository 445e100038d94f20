// Package app wires configuration, logging, the transaction engine, the
// announcer, run history and metrics into the operations exposed by the CLI
// and the invocation surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledgercast/internal/announce"
	"ledgercast/internal/config"
	"ledgercast/internal/dispatch"
	"ledgercast/internal/eventbus"
	"ledgercast/internal/ledger"
	"ledgercast/internal/observability/metrics"
	"ledgercast/internal/report"
	"ledgercast/internal/storage"
	"ledgercast/internal/txengine"
	logx "ledgercast/pkg/logx"
)

// Trigger names where a run came from in run history.
const (
	TriggerCLI      = "cli"
	TriggerHTTP     = "http"
	TriggerSchedule = "schedule"
)

type App struct {
	cfgm *config.ConfigManager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Collector
	client  *http.Client
}

// Option customizes New.
type Option func(*App)

// WithHTTPClient replaces the client shared by the engine and the announcer.
func WithHTTPClient(c *http.Client) Option { return func(a *App) { a.client = c } }

// WithEnvLookup replaces os.LookupEnv for the environment overlay.
func WithEnvLookup(fn config.LookupFunc) Option {
	return func(a *App) { a.cfgm.SetEnvLookup(fn) }
}

// New loads the configuration at cfgPath ("" means defaults plus environment),
// starts logging and opens run history.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgm: config.NewConfigManager(cfgPath)}
	for _, o := range opts {
		o(a)
	}
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, _, err := mapStorageConfig(c); err != nil {
			return err
		}
		_, err := mapServerConfig(c)
		return err
	})

	a.bus = eventbus.New()
	a.metrics = metrics.New(true)

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		a.store = st
		a.log.Debug("run history enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	return a, nil
}

func (a *App) Config() *config.Config      { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger         { return a.log }
func (a *App) Bus() eventbus.Bus           { return a.bus }
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Close releases run history and the log file sink.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// dispatcher builds the engine and announcer for the current configuration.
// Every failure is a *ledger.ConfigurationError and happens before any network call.
func (a *App) dispatcher(cfg *config.Config) (*dispatch.Dispatcher, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := txengine.NewSymbol(ec, a.client, a.log.With(logx.String("comp", "txengine")))
	if err != nil {
		return nil, err
	}
	ac, err := mapAnnounceConfig(cfg)
	if err != nil {
		return nil, err
	}
	ann, err := announce.New(ac, a.client, a.log.With(logx.String("comp", "announce")))
	if err != nil {
		return nil, err
	}
	return dispatch.New(engine, ann,
		dispatch.WithLogger(a.log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(a.bus),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithPreflight(cfg.ValidateCredentials),
		dispatch.WithMaxTotal(maxBatch(cfg)),
	), nil
}

// RunBatch runs one dispatch and records it in run history. Empty request
// fields take the configured transfer defaults.
func (a *App) RunBatch(ctx context.Context, rc dispatch.Config, req ledger.Request, trigger string) (*dispatch.Result, error) {
	cfg := a.cfgm.Get()
	d, err := a.dispatcher(cfg)
	if err != nil {
		a.recordFailure(ctx, rc, trigger, err)
		return nil, err
	}
	res, err := d.Run(ctx, rc, fillRequest(cfg, req))
	if err != nil {
		a.recordFailure(ctx, rc, trigger, err)
		return nil, err
	}
	a.record(ctx, res, trigger)
	return res, nil
}

func (a *App) record(ctx context.Context, res *dispatch.Result, trigger string) {
	if a.store == nil {
		return
	}
	s := report.Summary(res)
	rec := storage.RunRecord{
		RunID:      s.RunID,
		At:         res.StartedAt,
		Trigger:    trigger,
		Mode:       s.Mode,
		Total:      s.Total,
		Announced:  s.Announced,
		Failed:     s.Failed,
		Errored:    s.Errored,
		ElapsedMS:  s.ElapsedMS,
		Throughput: s.Throughput,
	}
	if s.Last != nil {
		rec.LastHash = s.Last.Hash
	}
	if err := a.store.AppendRun(context.WithoutCancel(ctx), rec); err != nil {
		a.log.Warn("run history append failed", logx.String("run_id", rec.RunID), logx.Err(err))
	}
}

// recordFailure keeps runs that never started visible in history.
func (a *App) recordFailure(ctx context.Context, rc dispatch.Config, trigger string, cause error) {
	if a.store == nil {
		return
	}
	rec := storage.RunRecord{
		RunID:   "failed-" + time.Now().UTC().Format("20060102T150405.000000000"),
		At:      time.Now(),
		Trigger: trigger,
		Mode:    rc.Mode.String(),
		Total:   rc.Total,
		Error:   cause.Error(),
	}
	if err := a.store.AppendRun(context.WithoutCancel(ctx), rec); err != nil {
		a.log.Warn("run history append failed", logx.Err(err))
	}
}

// History returns up to n recent runs, newest first.
func (a *App) History(ctx context.Context, n int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, n)
}
