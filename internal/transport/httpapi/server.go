// Package httpapi exposes the push service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tasuku43/gitpush/internal/app/push"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/infra/logging"
)

const (
	prefix          = "/api/v1"
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Service is the part of push.Service the HTTP layer needs.
type Service interface {
	Submit(ctx context.Context, spec task.Spec) (push.SubmitResult, error)
	Status(ctx context.Context, id string) (task.Snapshot, error)
	Cancel(ctx context.Context, id string) (push.CancelResult, error)
	List() []task.Snapshot
	History(ctx context.Context, limit int) ([]task.Snapshot, error)
	Watch(ctx context.Context, id string, interval time.Duration) (<-chan task.Snapshot, error)
	Stats() push.Stats
	Ready() bool
}

type Options struct {
	Addr string
	// JWTSecret enables bearer authentication on the task endpoints.
	JWTSecret      string
	StreamInterval time.Duration
	Version        string
}

type Server struct {
	svc      Service
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

func New(svc Service, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 250 * time.Millisecond
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.handler = s.withRequestID(s.routes())
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", s.handleReady)

	mux.Handle("POST "+prefix+"/git/push", s.authenticated(s.handlePush))
	mux.Handle("GET "+prefix+"/git/status/{id}", s.authenticated(s.handleStatus))
	mux.Handle("POST "+prefix+"/git/cancel/{id}", s.authenticated(s.handleCancel))
	mux.Handle("GET "+prefix+"/git/tasks", s.authenticated(s.handleTasks))
	mux.Handle("GET "+prefix+"/git/history", s.authenticated(s.handleHistory))
	mux.Handle("GET "+prefix+"/git/stream/{id}", s.authenticated(s.handleStream))
	return mux
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String(), "auth", s.opts.JWTSecret != "")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shutdown http server", "error", err)
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

type ctxKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id, "elapsed", time.Since(start))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}
