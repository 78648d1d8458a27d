package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/atomic"

	"github.com/Tyrowin/linerelay/internal/framer"
	"github.com/Tyrowin/linerelay/internal/protocol"
)

// Conn is the byte stream a Session runs over. net.Conn satisfies it, and
// so does the websocket adapter.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// State is a step of the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig holds the per-connection limits.
type SessionConfig struct {
	MaxLineLength int
	MaxNameLength int
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	ReadBufSize   int
}

// outbound serialises writes to one transport so concurrent broadcasts
// never interleave inside a recipient's stream.
type outbound struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
}

func (o *outbound) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timeout > 0 {
		if err := o.conn.SetWriteDeadline(time.Now().Add(o.timeout)); err != nil {
			return 0, err
		}
	}
	return o.conn.Write(p)
}

// Session drives one client connection from handshake to teardown.
type Session struct {
	id          uuid.UUID
	conn        Conn
	out         *outbound
	addr        string
	name        string
	cfg         SessionConfig
	registry    *Registry
	broadcaster *Broadcaster
	framer      *framer.Framer
	state       atomic.Int32
	started     atomic.Bool
	logger      *slog.Logger
	msink       metrics.MetricSink
}

// NewSession prepares a session for conn. Nothing is read until Run.
func NewSession(id uuid.UUID, conn Conn, addr string, cfg SessionConfig,
	registry *Registry, broadcaster *Broadcaster, logger *slog.Logger, msink metrics.MetricSink,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	if cfg.ReadBufSize <= 0 {
		cfg.ReadBufSize = 1024
	}

	return &Session{
		id:          id,
		conn:        conn,
		out:         &outbound{conn: conn, timeout: cfg.WriteTimeout},
		addr:        addr,
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
		framer:      framer.New(cfg.MaxLineLength),
		logger:      logger.With(LabelConn.L(id.String()), LabelRemote.L(addr)),
		msink:       msink,
	}
}

// ID returns the connection identity.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Name returns the display name, empty until the handshake completes.
func (s *Session) Name() string {
	if s.State() == StateConnecting {
		return ""
	}
	return s.name
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run executes the session until the peer leaves, the transport fails, a
// protocol limit is crossed, or ctx is cancelled. The transport is closed
// on every return path. Ordinary disconnects return nil.
func (s *Session) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return ErrSessionStarted
	}

	// runs on another goroutine: transport only, the session owns the rest
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	pending, deferred, err := s.handshake()
	if err != nil {
		s.setState(StateClosed)
		s.closeConn()
		return s.classify(ctx, err)
	}

	if err := s.join(); err != nil {
		s.setState(StateClosed)
		s.closeConn()
		return err
	}

	err = s.loop(pending, deferred)

	s.teardown()
	return s.classify(ctx, err)
}

// handshake reads until the first complete line and takes it as the
// display name. It also returns the lines that arrived in the same read,
// and the read error that came with them, if any.
func (s *Session) handshake() ([][]byte, error, error) {
	buf := make([]byte, s.cfg.ReadBufSize)
	for {
		lines, err := s.read(buf)
		if len(lines) > 0 {
			name, perr := protocol.ParseName(lines[0], s.cfg.MaxNameLength)
			if perr != nil {
				s.violation(perr)
				return nil, nil, fmt.Errorf("%w: %w", ErrProtocolViolation, perr)
			}
			s.name = name
			return lines[1:], err, nil
		}
		if err != nil {
			return nil, nil, err
		}
	}
}

func (s *Session) join() error {
	if err := s.registry.Register(s.id, s.name, s.out); err != nil {
		return err
	}
	s.setState(StateActive)
	s.logger = s.logger.With(LabelName.L(s.name))
	s.msink.IncrCounter(MetricSessionJoinedCount, 1)
	s.logger.Info("client joined", "clients", s.registry.Len())

	if _, err := s.out.Write(protocol.Welcome(s.name)); err != nil {
		s.logger.Debug("failed to send welcome", LabelError.L(err))
	}
	s.broadcaster.Deliver(protocol.Joined(s.name), s.id)
	return nil
}

// loop dispatches framed lines in arrival order. A read error that came
// with the handshake's lines is reported only after those lines are done.
func (s *Session) loop(pending [][]byte, deferred error) error {
	for _, line := range pending {
		s.dispatch(line)
	}
	if deferred != nil {
		return deferred
	}

	buf := make([]byte, s.cfg.ReadBufSize)
	for {
		lines, err := s.read(buf)
		for _, line := range lines {
			s.dispatch(line)
		}
		if err != nil {
			return err
		}
	}
}

// read performs one transport read and frames the result.
func (s *Session) read(buf []byte) ([][]byte, error) {
	if s.cfg.IdleTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return nil, err
		}
	}

	n, rerr := s.conn.Read(buf)
	if n == 0 {
		if rerr == nil {
			return nil, nil
		}
		if isTimeout(rerr) {
			return nil, fmt.Errorf("%w: %w", ErrIdleTimeout, rerr)
		}
		return nil, rerr
	}

	lines, ferr := s.framer.Feed(buf[:n])
	if ferr != nil {
		s.violation(ferr)
		return lines, fmt.Errorf("%w: %w", ErrProtocolViolation, ferr)
	}
	if rerr != nil && isTimeout(rerr) {
		rerr = fmt.Errorf("%w: %w", ErrIdleTimeout, rerr)
	}
	return lines, rerr
}

func (s *Session) dispatch(line []byte) {
	msg, err := protocol.Parse(line)
	if err != nil {
		s.msink.IncrCounter(MetricSessionMalformedCommands, 1)
		s.logger.Debug("ignoring malformed command", "line", protocol.TrimLine(line))
		return
	}

	if p, ok := msg.(protocol.PrivateAttempt); ok {
		// recipient is parsed but delivery still goes to everybody else
		s.logger.Debug("private message broadcast", "recipient", p.Recipient)
	}

	s.broadcaster.Deliver(protocol.Render(s.name, msg), s.id)
}

func (s *Session) teardown() {
	s.setState(StateClosing)

	if s.registry.Deregister(s.id) {
		s.msink.IncrCounter(MetricSessionLeftCount, 1)
		s.broadcaster.Deliver(protocol.Left(s.name), s.id)
		s.logger.Info("client left", "clients", s.registry.Len())
	}

	s.closeConn()
	s.setState(StateClosed)
}

func (s *Session) violation(err error) {
	s.msink.IncrCounterWithLabels(MetricSessionProtocolViolations, 1,
		[]metrics.Label{LabelError.M(err.Error())})
	s.logger.Warn("closing connection after protocol violation", LabelError.L(err))
}

func (s *Session) closeConn() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("error closing connection", LabelError.L(err))
	}
}

// classify turns the terminal condition into Run's return value.
func (s *Session) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrIdleTimeout):
		return err
	case isExpectedCloseError(err):
		s.logger.Debug("connection closed", LabelError.L(err))
		return nil
	default:
		s.logger.Warn("connection read failed", LabelError.L(err))
		return err
	}
}
