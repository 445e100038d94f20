package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"ledgercast/internal/ledger"
)

// Mode selects how units are executed.
type Mode int

const (
	// Sequential runs units one after another on the caller's goroutine.
	Sequential Mode = iota
	// BoundedConcurrent admits up to ConcurrencyLimit units at once, optionally paced.
	BoundedConcurrent
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case BoundedConcurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText lets Mode render as its name in JSON reports.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode accepts the CLI/config spellings of a mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "seq", "sequential", "sync":
		return Sequential, nil
	case "concurrent", "bounded", "bounded-concurrent", "async", "parallel":
		return BoundedConcurrent, nil
	default:
		return 0, ledger.InvalidField("dispatch.mode", fmt.Sprintf("unknown mode %q (use sequential or concurrent)", s))
	}
}

// DefaultMaxTotal is the batch ceiling used when none is configured.
const DefaultMaxTotal = 100_000

// Config describes one dispatch run.
//
// ConcurrencyLimit is a ceiling, not a target: a limit above Total is harmless.
// RatePerSecond == 0 disables pacing.
type Config struct {
	Total            int
	ConcurrencyLimit int
	RatePerSecond    float64
	Mode             Mode
}

// Validate checks the run shape. It returns a *ledger.ConfigurationError.
func (c Config) Validate() error {
	if c.Total < 0 {
		return ledger.InvalidField("dispatch.total", "must be >= 0")
	}
	if c.Mode != Sequential && c.Mode != BoundedConcurrent {
		return ledger.InvalidField("dispatch.mode", "unknown mode")
	}
	if c.Mode == BoundedConcurrent && c.ConcurrencyLimit < 1 {
		return ledger.InvalidField("dispatch.concurrency", "must be >= 1")
	}
	if c.RatePerSecond < 0 || math.IsNaN(c.RatePerSecond) || math.IsInf(c.RatePerSecond, 0) {
		return ledger.InvalidField("dispatch.rate", "must be a finite number >= 0")
	}
	return nil
}

// PacingDelay is how long a unit keeps its slot after finishing its work.
func (c Config) PacingDelay() time.Duration {
	if c.RatePerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.RatePerSecond)
}

// Engine builds and signs one transaction.
type Engine interface {
	Build(ctx context.Context, req ledger.Request) (ledger.SignedTx, error)
}

// Announcer submits a signed transaction and classifies the node's answer.
// Implementations fold every failure into the returned outcome.
type Announcer interface {
	Announce(ctx context.Context, tx ledger.SignedTx) ledger.Outcome
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req ledger.Request) (ledger.SignedTx, error)

func (f EngineFunc) Build(ctx context.Context, req ledger.Request) (ledger.SignedTx, error) {
	return f(ctx, req)
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(ctx context.Context, tx ledger.SignedTx) ledger.Outcome

func (f AnnouncerFunc) Announce(ctx context.Context, tx ledger.SignedTx) ledger.Outcome {
	return f(ctx, tx)
}

// Metrics receives dispatch measurements. A nil Metrics is ignored.
type Metrics interface {
	UnitAdmitted(wait time.Duration)
	// UnitFinished reports admitted=false for units canceled before admission.
	UnitFinished(out ledger.Outcome, admitted bool)
	RunFinished(mode string, elapsed time.Duration, throughput float64)
}

// Event payloads published on the bus.
const (
	EventStarted  = "dispatch.started"
	EventUnit     = "dispatch.unit"
	EventFinished = "dispatch.finished"
)

type StartedEvent struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`
	Total int    `json:"total"`
}

type UnitEvent struct {
	RunID     string         `json:"run_id"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Outcome   ledger.Outcome `json:"outcome"`
}

type FinishedEvent struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Announced  int           `json:"announced"`
	Failed     int           `json:"failed"`
	Errored    int           `json:"errored"`
	Elapsed    time.Duration `json:"elapsed"`
	Throughput float64       `json:"throughput"`
}
