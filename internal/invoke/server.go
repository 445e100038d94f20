package invoke

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	rtsup "ledgercast/internal/runtime/supervisor"
	logx "ledgercast/pkg/logx"
)

// Config controls the listener and the request guards.
type Config struct {
	Addr      string
	Token     string
	RateLimit float64
	Burst     int
	Pprof     bool

	// TrustedProxies are peers whose X-Real-IP / X-Forwarded-For headers are believed.
	TrustedProxies []netip.Prefix
	// MaxTotal rejects POST /dispatch bodies above it with 400; 0 disables the check.
	MaxTotal       int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves a handler under a supervisor restart loop so a transient
// listener failure heals without restarting the process.
type Server struct {
	cfg     Config
	handler http.Handler
	log     logx.Logger

	mu    sync.Mutex
	sup   *rtsup.Supervisor
	srv   *http.Server
	addr  string
	ready chan struct{}
	done  <-chan struct{}
	err   error
}

const maxListenRestarts = 5

func NewServer(cfg Config, handler http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return &Server{cfg: cfg, handler: handler, log: log, ready: make(chan struct{})}
}

// Start is idempotent. The listener lives until Stop or ctx ends.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(true))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithMaxRestarts(maxListenRestarts),
	)
	s.done = s.sup.Context().Done()
}

// Done is closed when the server gives up or its context ends.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Ready is closed once the first listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address, or "" before Ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Err returns the first listener failure, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return s.err
	}
	return s.sup.Err()
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	if sup != nil {
		s.err = sup.Err()
	}
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	err := sup.Wait(ctx)
	s.log.Info("http server stopped")
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("http server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Float64("rate_limit", s.cfg.RateLimit),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func mountPprof(r chi.Router) {
	r.HandleFunc("/debug/pprof/", hpprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	r.Handle("/debug/pprof/{profile}", http.HandlerFunc(hpprof.Index))
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
