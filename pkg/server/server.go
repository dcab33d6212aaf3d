// Package server routes HTTP requests to handlers that return errors and
// hands those errors to the exception handler bound in the container.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/drallgood/apptest/internal/database"
	"github.com/drallgood/apptest/internal/logger"
	"github.com/drallgood/apptest/pkg/container"
	"github.com/drallgood/apptest/pkg/exceptions"
)

// HandlerFunc serves a request. A returned error is reported and rendered by
// the exception handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Server represents the HTTP server
type Server struct {
	server    *http.Server
	mux       *http.ServeMux
	container *container.Container
	logger    *logger.Logger
}

type failureKey struct{}

// failure carries an unrendered error from a route back to Serve
type failure struct {
	err error
}

// New creates a server whose routes resolve their exception handler from c
func New(addr string, c *container.Container) *Server {
	s := &Server{
		server: &http.Server{
			Addr: addr,
		},
		mux:       http.NewServeMux(),
		container: c,
		logger:    logger.Get(),
	}

	s.Handle("GET /healthz", s.handleHealthCheck)

	s.server.Handler = logger.HTTPMiddleware(s.logger, s)

	s.server.ReadTimeout = 10 * time.Second
	s.server.WriteTimeout = 30 * time.Second
	s.server.IdleTimeout = 120 * time.Second

	return s
}

// WithLogger replaces the logger used for lifecycle and request logs
func (s *Server) WithLogger(log *logger.Logger) *Server {
	s.logger = log
	s.server.Handler = logger.HTTPMiddleware(log, s)
	return s
}

// Addr returns the address the server listens on when started
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handle registers fn for pattern, using http.ServeMux pattern syntax
func (s *Server) Handle(pattern string, fn HandlerFunc) {
	s.mux.Handle(pattern, s.wrap(fn))
}

func (s *Server) wrap(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.call(fn, w, r)
		if err == nil {
			return
		}
		unrendered := s.handle(w, r, err)
		if f, ok := r.Context().Value(failureKey{}).(*failure); ok {
			f.err = unrendered
		}
	})
}

func (s *Server) call(fn HandlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			err = exceptions.FromPanic(v)
		}
	}()
	return fn(w, r)
}

// handle passes err to the exception handler bound at the time of the request
func (s *Server) handle(w http.ResponseWriter, r *http.Request, err error) error {
	log := logger.FromContext(r.Context()).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	log.Debug("Route failed", map[string]interface{}{"error": err.Error()})

	h, resolveErr := container.Resolve[exceptions.Handler](s.container)
	if resolveErr != nil || h == nil {
		log.Error("No exception handler bound", map[string]interface{}{
			"error":   err.Error(),
			"resolve": fmt.Sprint(resolveErr),
		})
		return err
	}
	h.Report(err)
	return h.Render(w, r, err)
}

// Serve dispatches r and returns any failure the exception handler declined
// to render
func (s *Server) Serve(w http.ResponseWriter, r *http.Request) error {
	f := &failure{}
	ctx := context.WithValue(logger.WithLogger(r.Context(), s.logger), failureKey{}, f)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
	return f.err
}

// ServeHTTP implements http.Handler. An unrendered failure is raised as a
// panic.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.Serve(w, r); err != nil {
		panic(err)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealthCheck reports ok, checking the database when one is bound
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) error {
	if s.container.Bound(container.Key[*gorm.DB]()) {
		db, err := container.Resolve[*gorm.DB](s.container)
		if err != nil {
			return err
		}
		if err := database.Health(r.Context(), db); err != nil {
			return &exceptions.HTTPError{Status: http.StatusServiceUnavailable, Message: "Database unavailable", Err: err}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err := fmt.Fprint(w, `{"status":"ok"}`)
	return err
}
