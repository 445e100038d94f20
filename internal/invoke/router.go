// Package invoke is the HTTP invocation surface started by `serve`.
//
//	POST /transactions  one build-sign-announce unit
//	POST /dispatch      one dispatch run, answered with its summary
//	GET  /ping          liveness with a request id
//	GET  /healthz       supervisor state
//	GET  /metrics       Prometheus exposition
//
// Every failure, including a recovered panic, is answered with a JSON body
// carrying "error" and "timestamp"; the process never exits on a request.
package invoke

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledgercast/internal/dispatch"
	"ledgercast/internal/ledger"
	"ledgercast/internal/observability/metrics"
	"ledgercast/internal/report"
	logx "ledgercast/pkg/logx"
)

// TimestampLayout is used for every "timestamp" field in responses.
const TimestampLayout = "2006-01-02 15:04:05"

const maxBody = 64 << 10

// Backend runs the work behind the routes.
type Backend interface {
	Send(ctx context.Context, req ledger.Request) (ledger.Outcome, error)
	Dispatch(ctx context.Context, cfg dispatch.Config, req ledger.Request) (*dispatch.Result, error)
}

// Options carries the optional collaborators of the router.
type Options struct {
	Log     logx.Logger
	Metrics *metrics.Collector
	// Health returns the body of GET /healthz. Nil answers {"status":"ok"}.
	Health func() any
	// now is replaced in tests.
	now func() time.Time
}

type handlers struct {
	backend  Backend
	log      logx.Logger
	health   func() any
	now      func() time.Time
	maxTotal int
}

type transactionResponse struct {
	Message         string `json:"message"`
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
}

type errorResponse struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

type dispatchRequest struct {
	Mode        string         `json:"mode"`
	Total       int            `json:"total"`
	Concurrency int            `json:"concurrency"`
	Rate        float64        `json:"rate"`
	Request     ledger.Request `json:"request"`
}

// NewRouter builds the route tree. Pprof routes are mounted only when cfg.Pprof
// is set and either a token is configured or the bind address is loopback.
func NewRouter(b Backend, cfg Config, opts Options) http.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{backend: b, log: log, health: opts.Health, now: opts.now, maxTotal: cfg.MaxTotal}
	if h.now == nil {
		h.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(h.recoverer)

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		if cfg.RateLimit > 0 {
			r.Use(newRateLimiter(cfg.RateLimit, cfg.Burst, cfg.TrustedProxies).middleware)
		}
		route := func(name string, fn http.HandlerFunc) http.Handler {
			if opts.Metrics == nil {
				return fn
			}
			return opts.Metrics.Middleware(name)(fn)
		}
		r.Method(http.MethodGet, "/ping", route("ping", h.ping))
		r.Method(http.MethodPost, "/transactions", route("transactions", h.transactions))
		r.Method(http.MethodPost, "/dispatch", route("dispatch", h.dispatch))

		if cfg.Pprof {
			if cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
				log.Warn("pprof not mounted: non-loopback addr requires server.token", logx.String("addr", cfg.Addr))
			} else {
				mountPprof(r)
			}
		}
	})
	return r
}

func (h *handlers) timestamp() string { return h.now().Format(TimestampLayout) }

func (h *handlers) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.log.Error("request panicked",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Message:   "internal error",
					Error:     fmt.Sprint(rec),
					Timestamp: h.timestamp(),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, h.health())
}

func (h *handlers) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "ledgercast is up",
		"requestId": uuid.NewString(),
		"timestamp": h.timestamp(),
	})
}

func (h *handlers) transactions(w http.ResponseWriter, r *http.Request) {
	var req ledger.Request
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	out, err := h.backend.Send(r.Context(), req)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	if !out.Success {
		h.fail(w, http.StatusInternalServerError, out.Err())
		return
	}
	h.log.Info("transaction announced", logx.String("hash", out.Hash))
	writeJSON(w, http.StatusOK, transactionResponse{
		Message:         "transaction announced",
		TransactionHash: out.Hash,
		Status:          string(out.Status),
		Timestamp:       h.timestamp(),
	})
}

func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	mode, err := dispatch.ParseMode(body.Mode)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if h.maxTotal > 0 && body.Total > h.maxTotal {
		h.fail(w, http.StatusBadRequest, ledger.InvalidField("dispatch.total", fmt.Sprintf("%d exceeds the batch limit of %d", body.Total, h.maxTotal)))
		return
	}
	cfg := dispatch.Config{
		Total:            body.Total,
		ConcurrencyLimit: max(body.Concurrency, 1),
		RatePerSecond:    body.Rate,
		Mode:             mode,
	}
	res, err := h.backend.Dispatch(r.Context(), cfg, body.Request)
	if err != nil {
		status := http.StatusInternalServerError
		if ledger.IsConfigurationError(err) {
			status = http.StatusBadRequest
		}
		h.fail(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Summary(res))
}

func (h *handlers) fail(w http.ResponseWriter, status int, err error) {
	h.log.Warn("request failed", logx.Int("status", status), logx.Err(err))
	writeJSON(w, status, errorResponse{
		Message:   "transaction submission failed",
		Error:     err.Error(),
		Timestamp: h.timestamp(),
	})
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Timestamp: time.Now().Format(TimestampLayout)})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
