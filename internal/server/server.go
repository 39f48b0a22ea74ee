package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"user-records/internal/store"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

type Config struct {
	Addr    string // e.g. "0.0.0.0:8080"
	Store   store.Gateway
	Version string

	MaxConns        int64 // connections served at once
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int

	RateLimit float64 // requests per second per client IP; 0 disables
	RateBurst int

	// TrustProxyHeaders takes the client IP from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	TracerProvider trace.TracerProvider
}

// Defaults used when a Config field is left zero.
const (
	DefaultAddr            = "0.0.0.0:8080"
	DefaultMaxConns        = 64
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxRequestBytes = 64 << 10
	DefaultRateBurst       = 20
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	return c
}

// Server accepts raw TCP connections and answers one request on each.
type Server struct {
	cfg     Config
	store   store.Gateway
	metrics *Metrics
	breaker *CircuitBreaker
	limiter *rateLimiter
	tracer  trace.Tracer
	sem     *semaphore.Weighted
	started time.Time

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	closed bool
	active sync.WaitGroup
}

// New builds a server around cfg.Store. It panics if no store is given.
func New(cfg Config) *Server {
	if cfg.Store == nil {
		panic("server: Config.Store is nil")
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:     cfg,
		store:   cfg.Store,
		metrics: NewMetrics(),
		breaker: NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		tracer:  cfg.TracerProvider.Tracer(tracerName),
		sem:     semaphore.NewWeighted(cfg.MaxConns),
		started: time.Now(),
	}
	s.metrics.registerServerGauges(cfg.Version, s.breaker.GetState, s.started)
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// Metrics exposes the server's counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe listens on cfg.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, each handled on its own goroutine, with
// at most MaxConns in flight. It returns ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.cancel = cancel
	s.active.Add(1)
	s.mu.Unlock()
	defer s.active.Done()

	if s.limiter != nil {
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.limiter.cleanup(ctx)
		}()
	}

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return ErrServerClosed
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				Warn("accept_timeout", map[string]interface{}{"error": err.Error()})
				continue
			}
			return err
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer s.sem.Release(1)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting, then waits for in-flight connections or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln, cancel := s.ln, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConn reads one request, answers it and closes the connection.
// Failures stay inside this connection.
func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	start := time.Now()
	remote := conn.RemoteAddr().String()

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordConnectionError()
			Error("connection_panic", map[string]interface{}{
				"conn_id": connID,
				"remote":  remote,
			}, fmt.Errorf("panic: %v", r))
		}
	}()

	_ = conn.SetReadDeadline(start.Add(s.cfg.ReadTimeout))
	raw, err := readRequest(conn, s.cfg.MaxRequestBytes)
	if err != nil {
		if errors.Is(err, io.EOF) {
			Debug("connection_closed_without_request", map[string]interface{}{"conn_id": connID, "remote": remote})
			return
		}
		s.metrics.RecordConnectionError()
		Warn("read_failed", map[string]interface{}{"conn_id": connID, "remote": remote, "error": err.Error()})
		return
	}

	req, resp := s.serve(context.Background(), raw, remote, connID)

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	n, err := conn.Write(resp.Bytes())
	if err != nil {
		s.metrics.RecordConnectionError()
		Warn("write_failed", map[string]interface{}{"conn_id": connID, "remote": remote, "error": err.Error()})
	}

	duration := time.Since(start)
	s.metrics.RecordRequest(resp.Status, duration)
	logAccess(connID, clientIP(req, remote, s.cfg.TrustProxyHeaders), req, resp, n, duration)
}

// serve turns raw request bytes into a response. req is nil when the
// request line could not be parsed.
func (s *Server) serve(ctx context.Context, raw []byte, remote, connID string) (*Request, Response) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, failure(http.StatusBadRequest, "Bad Request")
	}

	if s.limiter != nil && !s.limiter.allow(clientIP(req, remote, s.cfg.TrustProxyHeaders)) {
		s.metrics.RecordRateLimited()
		return req, failure(http.StatusTooManyRequests, "Too Many Requests")
	}

	return req, s.dispatch(ctx, req, connID)
}
