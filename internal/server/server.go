// Package server exposes a hook manager to other processes, over HTTP on a
// local socket or JSON-RPC on a stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/pubsub"
)

// ErrServerClosed is returned when the server is closed.
var ErrServerClosed = errors.New("server closed")

// maxBodySize bounds a request body. Payloads are buffered whole before a
// chain runs.
const maxBodySize = 64 << 20

// DefaultAddr returns the default per-user socket path.
func DefaultAddr() string {
	sockPath := "toolguard.sock"
	u, err := user.Current()
	if err == nil && u.Uid != "" {
		sockPath = fmt.Sprintf("toolguard-%s.sock", u.Uid)
	}
	return filepath.Join(os.TempDir(), sockPath)
}

// Server serves a hook manager bound to a specific address.
type Server struct {
	// Addr is a Unix socket path, or a host:port when the network is "tcp".
	Addr    string
	Network string

	h      *http.Server
	mgr    *hooks.Manager
	cfg    *config.Config
	events pubsub.Subscriber[hooks.Event]
	logger *slog.Logger

	mu        sync.Mutex
	ln        net.Listener
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithConfig exposes cfg on the config endpoint.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithEvents streams hook executions from sub to clients that ask for them.
func WithEvents(sub pubsub.Subscriber[hooks.Event]) Option {
	return func(s *Server) {
		s.events = sub
	}
}

// NewServer creates a [Server] for mgr listening on the given network and
// address.
func NewServer(mgr *hooks.Manager, network, address string, opts ...Option) *Server {
	s := &Server{
		Addr:    address,
		Network: network,
		mgr:     mgr,
		logger:  slog.New(slog.DiscardHandler),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := &controllerV1{Server: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", c.handleGetHealth)
	mux.HandleFunc("GET /v1/config", c.handleGetConfig)
	mux.HandleFunc("GET /v1/hooks", c.handleGetHooks)
	mux.HandleFunc("GET /v1/hooks/find", c.handleGetHooksFind)
	mux.HandleFunc("POST /v1/hooks/before", c.handlePostHooksBefore)
	mux.HandleFunc("POST /v1/hooks/after", c.handlePostHooksAfter)
	mux.HandleFunc("POST /v1/hooks/execute", c.handlePostHooksExecute)
	mux.HandleFunc("GET /v1/events", c.handleGetEvents)
	s.h = &http.Server{
		Handler:           s.loggingHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.h.Handler
}

// Serve accepts incoming connections on the listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrServerClosed
	default:
	}
	s.ln = ln
	s.mu.Unlock()

	err := s.h.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// ListenAndServe starts the server and begins accepting connections.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	started := s.ln != nil
	s.mu.Unlock()
	if started {
		return fmt.Errorf("server already started")
	}
	ln, err := listen(s.Network, s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) markClosed() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close force closes all listeners and connections.
func (s *Server) Close() error {
	s.markClosed()
	return s.h.Close()
}

// Shutdown gracefully shuts down the server without interrupting active
// requests. Event streams are ended first so they do not hold it open.
func (s *Server) Shutdown(ctx context.Context) error {
	s.markClosed()
	return s.h.Shutdown(ctx)
}

func (s *Server) loggingHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logError(r *http.Request, msg string, args ...any) {
	s.logger.With(
		slog.String("method", r.Method),
		slog.String("url", r.URL.String()),
	).Error(msg, args...)
}

// listen removes a stale socket left by a previous run before listening on
// a Unix address.
func listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := removeStaleSocket(address); err != nil {
			return nil, err
		}
	}
	return net.Listen(network, address)
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s is in use by another server", path)
	}
	return os.Remove(path)
}
