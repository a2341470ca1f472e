// Package transport serves the read-only status API of a running trader.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/portfolio"
	"github.com/Rajchodisetti/signal-trader/internal/risk"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Source is what the server reads from. *engine.Loop implements it.
type Source interface {
	RunID() string
	Running() bool
	State() *signals.SharedState
	Ledger() *portfolio.Ledger
	Maker() *decision.Maker
	Gate() *risk.Gate
	Exits() *risk.ExitMonitor
	Prices() map[string]float64
}

type Server struct {
	router *chi.Mux
	server *http.Server
	src    Source
	log    zerolog.Logger
	start  time.Time
}

func New(addr string, src Source) *Server {
	s := &Server{
		router: chi.NewRouter(),
		src:    src,
		log:    observ.Logger("http"),
		start:  time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ledger", s.handleLedger)
	s.router.Get("/decisions", s.handleDecisions)
	s.router.Get("/signals", s.handleSignals)
	s.router.Get("/risk", s.handleRisk)
	s.router.Method(http.MethodGet, "/metrics", observ.Handler())
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting status server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.src.Running() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"run_id":         s.src.RunID(),
		"uptime_seconds": int64(time.Since(s.start).Seconds()),
		"gate":           s.src.Gate().State(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Ledger().Snapshot(s.src.Prices())
	if r.URL.Query().Get("transactions") != "true" {
		snap.Transactions = nil
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	ds := s.src.Maker().LastDecisions()
	if q := r.URL.Query().Get("action"); q != "" {
		want := signals.ParseAction(q)
		kept := ds[:0:0]
		for _, d := range ds {
			if d.Action == want {
				kept = append(kept, d)
			}
		}
		ds = kept
	}
	if ds == nil {
		ds = []decision.TradeDecision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": ds})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.State().Snapshot())
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"gate":   s.src.Gate().Status(),
		"limits": s.src.Gate().Limits(),
		"exits":  s.src.Exits().Triggers(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observ.IncCounter("http_requests_total", map[string]string{"route": route})
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
