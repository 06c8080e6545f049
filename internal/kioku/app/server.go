package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

const shutdownGrace = 5 * time.Second

// Server exposes GET /health, GET /status and any routes added with
// Handle, such as /metrics.
type Server struct {
	addr      string
	db        storeStatus
	sessions  sessionCounter
	logger    *slog.Logger
	startedAt time.Time
	mux       *http.ServeMux
}

// storeStatus is what the server reads from the store.
type storeStatus interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
}

type sessionCounter interface {
	Len() int
}

type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

type statusBody struct {
	Version   string       `json:"version"`
	Commit    string       `json:"commit"`
	BuildTime string       `json:"build_time"`
	StartedAt time.Time    `json:"started_at"`
	Uptime    float64      `json:"uptime_seconds"`
	Store     *store.Stats `json:"store,omitempty"`
	Sessions  int          `json:"sessions"`
}

// NewServer returns a Server for addr. db and sessions may be nil.
func NewServer(addr string, db storeStatus, sessions sessionCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      addr,
		db:        db,
		sessions:  sessions,
		logger:    logger,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /status", s.status)
	return s
}

// Handle adds a route. It must be called before Run.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then drains in-flight requests. ready,
// when not nil, receives the bound address once the listener is open.
func (s *Server) Run(ctx context.Context, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr()
	}

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// health reports 503 when the database does not answer.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Version: version.Version}
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			body.Status, body.Error = "unavailable", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := statusBody{
		Version:   version.Version,
		Commit:    version.GitCommit,
		BuildTime: version.BuildTime,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Seconds(),
	}
	if s.db != nil {
		st, err := s.db.Stats(r.Context())
		if err != nil {
			s.logger.Warn("status: store stats unavailable", "err", err)
		} else {
			body.Store = &st
		}
	}
	if s.sessions != nil {
		body.Sessions = s.sessions.Len()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("http server: encode response", "err", err)
	}
}
