// Package ops serves the operational HTTP endpoints: Prometheus metrics,
// a JSON health report and, optionally, net/http/pprof.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedbot/internal/eventbus"
	"schedbot/internal/reconcile"
	rtsup "schedbot/internal/runtime/supervisor"
	logx "schedbot/pkg/logx"
)

const (
	DefaultAddr       = "127.0.0.1:9090"
	DefaultStaleAfter = 3 * time.Minute
	pingTimeout       = 2 * time.Second
)

type Config struct {
	Addr  string
	Token string
	Pprof bool
	// StaleAfter marks the scheduler unhealthy when no tick finished for this
	// long. Zero disables the check (scheduler off).
	StaleAfter time.Duration
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Config   Config
	Gatherer prometheus.Gatherer
	Bus      eventbus.Bus
	Store    Pinger
	Log      logx.Logger
	Now      func() time.Time
}

type Server struct {
	cfg     Config
	opts    Options
	log     logx.Logger
	now     func() time.Time
	started time.Time
	handler http.Handler

	lastTick atomic.Pointer[tickInfo]

	tracked sync.Map // name -> func() *rtsup.Supervisor

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	ln   net.Listener
	addr string
}

type tickInfo struct {
	At        time.Time
	Schedules int
	Delivered int
	Failed    int
	Err       string
}

func New(opts Options) *Server {
	cfg := opts.Config
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, opts: opts, log: log.With(logx.String("comp", "ops")), now: opts.Now}
	s.started = s.now()
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.Handler) http.Handler { return withBearer(s.cfg.Token, h) }

	mux.Handle("GET /metrics", auth(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	mux.Handle("GET /healthz", auth(http.HandlerFunc(s.healthz)))
	if s.cfg.Pprof {
		mux.Handle("/debug/pprof/", auth(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", auth(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", auth(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", auth(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", auth(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

// Track adds a supervisor to /healthz. src is called on every check, so it
// may return nil until the component starts.
func (s *Server) Track(name string, src func() *rtsup.Supervisor) {
	if src != nil {
		s.tracked.Store(name, src)
	}
}

// ObserveTick records a finished reconcile tick for /healthz.
func (s *Server) ObserveTick(r reconcile.Report) {
	ti := &tickInfo{At: r.At, Schedules: r.Schedules, Delivered: r.Delivered, Failed: r.Failed}
	if r.Err != nil {
		ti.Err = r.Err.Error()
	}
	s.lastTick.Store(ti)
}

// Health is the /healthz body.
type Health struct {
	Status     string                    `json:"status"`
	Uptime     string                    `json:"uptime"`
	Store      string                    `json:"store"`
	LastTick   *TickHealth               `json:"last_tick,omitempty"`
	BusDropped uint64                    `json:"bus_dropped"`
	Problems   []string                  `json:"problems,omitempty"`
	Tasks      map[string]rtsup.Snapshot `json:"tasks,omitempty"`
}

type TickHealth struct {
	At        time.Time `json:"at"`
	Age       string    `json:"age"`
	Schedules int       `json:"schedules"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Err       string    `json:"err,omitempty"`
}

// Check builds the health report. ok is false when something needs attention.
func (s *Server) Check(ctx context.Context) (h Health, ok bool) {
	now := s.now()
	h = Health{Status: "ok", Uptime: now.Sub(s.started).Round(time.Second).String(), Store: "ok"}

	if s.opts.Store != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.opts.Store.Ping(pctx)
		cancel()
		if err != nil {
			h.Store = err.Error()
			h.Problems = append(h.Problems, "store unreachable")
		}
	}

	since := s.started
	if ti := s.lastTick.Load(); ti != nil {
		since = ti.At
		h.LastTick = &TickHealth{
			At:        ti.At,
			Age:       now.Sub(ti.At).Round(time.Second).String(),
			Schedules: ti.Schedules,
			Delivered: ti.Delivered,
			Failed:    ti.Failed,
			Err:       ti.Err,
		}
		if ti.Err != "" {
			h.Problems = append(h.Problems, "last tick failed")
		}
	}
	if s.cfg.StaleAfter > 0 && now.Sub(since) > s.cfg.StaleAfter {
		h.Problems = append(h.Problems, "scheduler stalled")
	}

	if s.opts.Bus != nil {
		h.BusDropped = s.opts.Bus.Dropped()
	}
	s.tracked.Range(func(k, v any) bool {
		name := k.(string)
		snap := v.(func() *rtsup.Supervisor)().Snapshot()
		if snap.FirstError != "" {
			h.Problems = append(h.Problems, name+": "+snap.FirstError)
		}
		if h.Tasks == nil {
			h.Tasks = map[string]rtsup.Snapshot{}
		}
		h.Tasks[name] = snap
		return true
	})
	sort.Strings(h.Problems)
	if len(h.Problems) > 0 {
		h.Status = "degraded"
	}
	return h, len(h.Problems) == 0
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	h, ok := s.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(h)
}

// Start binds the listener and serves until Stop or ctx is done. It also
// follows reconcile ticks on the bus.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln, s.addr = ln, ln.Addr().String()
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("ops.http", s.serveOnce, rtsup.RestartPolicy{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second})
	if s.opts.Bus != nil {
		events, unsub := s.opts.Bus.Subscribe(8, reconcile.EventTickDone)
		s.sup.Go0("ops.ticks", func(ctx context.Context) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					if rep, ok := ev.Data.(reconcile.Report); ok {
						s.ObserveTick(rep)
					}
				}
			}
		})
	}
	s.log.Info("ops server started",
		logx.String("addr", s.addr),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// serveOnce serves on the listener from Start, or rebinds after a failure.
func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	addr := s.addr
	s.mu.Unlock()
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	err := srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("ops server stopped")
	return err
}

func withBearer(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
