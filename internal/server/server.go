package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

const serverFullMessage = "Server is full, try again later.\n"

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger used by the server and its sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricSink chooses where the relay emits its metrics.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(s *Server) {
		if ms != nil {
			s.msink = ms
		}
	}
}

// Server owns the registry and the set of live connections.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	msink       metrics.MetricSink
	registry    *Registry
	broadcaster *Broadcaster
	origins     *originPolicy
	admission   *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	conns    map[uuid.UUID]Conn
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// New builds a Server from cfg. A nil cfg uses the defaults.
func New(cfg *Config, opts ...Option) *Server {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = sanitizeConfig(c)

	s := &Server{
		cfg:       c,
		logger:    slog.Default(),
		msink:     &metrics.BlackholeSink{},
		admission: semaphore.NewWeighted(int64(c.MaxConnections)),
		conns:     make(map[uuid.UUID]Conn),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewRegistry(s.msink)
	s.broadcaster = NewBroadcaster(s.registry, s.logger, s.msink)
	s.origins = newOriginPolicy(c.AllowedOrigins, s.logger)
	return s
}

// Registry exposes the client registry, mostly for inspection.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Addr returns the listener address once Serve has started, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the configured TCP address and serves until
// ctx is cancelled or Shutdown is called. A listen failure is returned
// immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l and spawns a session for each. It
// returns ErrServerClosed after Shutdown or cancellation of ctx.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
	})
	defer stop()

	s.logger.Info("relay listening", "addr", l.Addr().String())

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			s.msink.IncrCounter(MetricListenerAcceptErrorCount, 1)
			backoff = nextBackoff(backoff)
			s.logger.Error("accept failed, retrying", LabelError.L(err), "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		backoff = 0

		go func() {
			_ = s.ServeConn(ctx, conn, conn.RemoteAddr().String())
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// ServeConn runs a session over conn and blocks until it ends. It is used
// by the TCP accept loop and by the websocket gateway alike.
func (s *Server) ServeConn(ctx context.Context, conn Conn, addr string) error {
	transport := "tcp"
	if _, ok := conn.(*wsConn); ok {
		transport = "websocket"
	}

	if !s.admission.TryAcquire(1) {
		s.msink.IncrCounterWithLabels(MetricSessionRejectedCount, 1,
			[]metrics.Label{LabelTransport.M(transport)})
		s.logger.Warn("rejecting connection, server full", LabelRemote.L(addr))
		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		_, _ = conn.Write([]byte(serverFullMessage))
		_ = conn.Close()
		return ErrServerFull
	}
	defer s.admission.Release(1)

	id := uuid.New()
	if !s.track(id, conn) {
		_ = conn.Close()
		return ErrServerClosed
	}
	defer s.untrack(id)

	s.msink.IncrCounterWithLabels(MetricSessionAcceptedCount, 1,
		[]metrics.Label{LabelTransport.M(transport)})

	sess := NewSession(id, conn, addr, s.cfg.sessionConfig(),
		s.registry, s.broadcaster, s.logger.With(LabelTransport.L(transport)), s.msink)
	return sess.Run(ctx)
}

func (s *Server) track(id uuid.UUID, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[id] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id uuid.UUID) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops accepting, closes every live connection and waits up to
// timeout for their sessions to finish tearing down.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("initiating relay shutdown")

	s.mu.Lock()
	s.closing.Store(true)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Error("error closing listener", LabelError.L(err))
		}
	}
	conns := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("error closing client connection", LabelError.L(err))
		}
	}
	s.logger.Info("closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("relay shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
