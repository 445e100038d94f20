package app

import (
	"context"
	"errors"

	"ledgercast/internal/dispatch"
	"ledgercast/internal/ledger"
	logx "ledgercast/pkg/logx"
)

// Receipt is the result of a single invocation.
type Receipt struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// Send runs one build-sign-announce unit with the configured defaults filled in.
// It never returns an error: every failure is carried in the receipt.
func (a *App) Send(ctx context.Context, req ledger.Request) Receipt {
	out, err := a.sendOutcome(ctx, req, TriggerCLI)
	if err != nil {
		return Receipt{Message: "transaction not sent", Status: string(ledger.StatusError), Error: err.Error()}
	}
	r := Receipt{
		Success:         out.Success,
		TransactionHash: out.Hash,
		Status:          string(out.Status),
		Error:           out.ErrorDetail,
	}
	if out.Success {
		r.Message = "transaction announced"
	} else {
		r.Message = "transaction not accepted"
	}
	return r
}

// sendOutcome returns an error only for configuration failures.
func (a *App) sendOutcome(ctx context.Context, req ledger.Request, trigger string) (ledger.Outcome, error) {
	res, err := a.RunBatch(ctx, dispatch.Config{Total: 1, ConcurrencyLimit: 1, Mode: dispatch.Sequential}, req, trigger)
	if err != nil {
		return ledger.Outcome{}, err
	}
	out, ok := res.Last()
	if !ok {
		return ledger.Outcome{}, errors.New("run produced no outcome")
	}
	if out.Success {
		a.log.Info("transaction announced", logx.String("hash", out.Hash))
	} else {
		a.log.Warn("transaction not accepted",
			logx.String("status", string(out.Status)),
			logx.String("hash", out.Hash),
			logx.String("detail", out.ErrorDetail),
		)
	}
	return out, nil
}

// httpBackend adapts App to the invocation surface.
type httpBackend struct{ a *App }

func (b httpBackend) Send(ctx context.Context, req ledger.Request) (ledger.Outcome, error) {
	return b.a.sendOutcome(ctx, req, TriggerHTTP)
}

func (b httpBackend) Dispatch(ctx context.Context, cfg dispatch.Config, req ledger.Request) (*dispatch.Result, error) {
	return b.a.RunBatch(ctx, cfg, req, TriggerHTTP)
}
