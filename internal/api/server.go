// Package api serves the arena over HTTP: layouts, statistics, participant
// assignment, stored rounds, headless simulation and the live pose feed.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/forage-arena-go/internal/config"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/livefeed"
	"github.com/MJE43/forage-arena-go/internal/session"
	"github.com/MJE43/forage-arena-go/internal/stats"
	"github.com/MJE43/forage-arena-go/internal/store"
)

// Options configure a Server. Hub may be nil, in which case /api/v1/live
// is not mounted.
type Options struct {
	Store  store.Store
	Config config.Config
	Hub    *livefeed.Hub
	Logger *log.Logger
}

// Server handles HTTP requests.
type Server struct {
	store     store.Store
	cfg       config.Config
	hub       *livefeed.Hub
	logger    *log.Logger
	generator *layout.Generator
	calc      *stats.Calculator
	startTime time.Time

	mu       sync.Mutex
	managers map[string]*session.Manager
}

// NewServer validates the configuration and builds a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: nil store")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	gen, err := layout.NewGenerator(opts.Config.LayoutConfig())
	if err != nil {
		return nil, err
	}
	calc, err := stats.NewCalculator(opts.Config.StatsConfig())
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		store:     opts.Store,
		cfg:       opts.Config,
		hub:       opts.Hub,
		logger:    logger.WithPrefix("api"),
		generator: gen,
		calc:      calc,
		startTime: time.Now(),
		managers:  make(map[string]*session.Manager),
	}
	s.logger.Info("server_initialized",
		"engine_version", EngineVersion,
		"scheme", opts.Config.Scheme,
		"live_feed", opts.Hub != nil,
	)
	return s, nil
}

// Routes sets up the HTTP routes with their middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// the websocket upgrade must not sit behind the request timeout
		if s.hub != nil {
			r.Get("/live", s.hub.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/conditions", s.handleConditions)
			r.Post("/layout", s.handleLayout)
			r.Post("/stats", s.handleStats)
			r.Post("/participants", s.handleAssign)
			r.Get("/sessions/{sessionID}/rounds", s.handleListRounds)
			r.Get("/sessions/{sessionID}/rounds/{roundIndex}/stats", s.handleRoundStats)
			r.Post("/simulate", s.handleSimulate)
		})
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request_completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"bytes_written", ww.BytesWritten(),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.logger.Error("panic_recovered",
					"request_id", middleware.GetReqID(r.Context()),
					"path", r.URL.Path,
					"panic", rvr,
				)
				s.writeError(w, r, http.StatusInternalServerError,
					NewError(ErrTypeInternal, "Internal server error").WithContext("panic", fmt.Sprint(rvr)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// manager returns the session manager for a scheme, creating it on first use.
func (s *Server) manager(scheme string) (*session.Manager, error) {
	if scheme == "" {
		scheme = s.cfg.Scheme
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[scheme]; ok {
		return m, nil
	}
	sc, err := layout.LookupScheme(scheme)
	if err != nil {
		return nil, err
	}
	m, err := session.NewManager(s.store, s.sessionOptions(sc))
	if err != nil {
		return nil, err
	}
	s.managers[scheme] = m
	return m, nil
}

func (s *Server) sessionOptions(sc layout.Scheme) session.Options {
	return session.Options{
		Generator: s.generator,
		Scheme:    sc,
		Round:     s.cfg.Round,
		Sim:       s.cfg.SimConfig(),
		Maze:      s.cfg.Maze,
		Rounds:    s.cfg.Rounds,
		Logger:    s.logger.WithPrefix("session"),
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("response_encode_failed", "err", err)
	}
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
