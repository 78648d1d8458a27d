package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linerelay/internal/logging"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

type sessionHarness struct {
	reg      *Registry
	b        *Broadcaster
	sink     *metrics.InmemSink
	observer *recordingWriter
	cfg      SessionConfig
}

// newSessionHarness returns a registry that already holds one observer
// client, so every broadcast a session makes is visible to the test.
func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()

	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	reg := NewRegistry(sink)
	observer := &recordingWriter{}
	require.NoError(t, reg.Register(uuid.New(), "observer", observer))

	return &sessionHarness{
		reg:      reg,
		b:        NewBroadcaster(reg, logging.Discard(), sink),
		sink:     sink,
		observer: observer,
		cfg: SessionConfig{
			MaxLineLength: 4096,
			MaxNameLength: 64,
		},
	}
}

func (h *sessionHarness) start(ctx context.Context, conn Conn) (*Session, <-chan error) {
	sess := NewSession(uuid.New(), conn, "pipe", h.cfg, h.reg, h.b, logging.Discard(), h.sink)
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx)
	}()
	return sess, done
}

func (h *sessionHarness) waitObserver(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.observer.String() == want
	}, eventually, tick, "observer never saw %q, has %q", want, h.observer.String())
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(eventually):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSession_EndOfStreamBeforeName(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	sess, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("ali"))
	conn.Hangup()

	require.NoError(t, waitRun(t, done))
	require.Equal(t, StateClosed, sess.State())
	require.Empty(t, sess.Name())
	require.True(t, conn.Closed())
	require.Empty(t, conn.Output())
	require.Equal(t, 1, h.reg.Len(), "an incomplete handshake never registers")
	require.Empty(t, h.observer.String())
}

func TestSession_Lifecycle(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	sess, done := h.start(context.Background(), conn)
	require.Equal(t, StateConnecting, sess.State())

	require.NoError(t, conn.Send("alice\n"))
	h.waitObserver(t, "alice has joined the chat.\n")
	require.Equal(t, StateActive, sess.State())
	require.Equal(t, "alice", sess.Name())
	require.Equal(t, "Welcome, alice!\n", conn.Output())

	name, ok := h.reg.LookupName(sess.ID())
	require.True(t, ok)
	require.Equal(t, "alice", name)

	require.NoError(t, conn.Send("hi\n"))
	h.waitObserver(t, "alice has joined the chat.\nalice: hi\n")

	conn.Hangup()
	require.NoError(t, waitRun(t, done))

	require.Equal(t, "alice has joined the chat.\nalice: hi\nalice has left the chat.\n", h.observer.String())
	require.Equal(t, "Welcome, alice!\n", conn.Output(), "a sender never hears itself")
	require.Equal(t, StateClosed, sess.State())
	require.True(t, conn.Closed())
	require.Equal(t, 1, h.reg.Len())
	_, ok = h.reg.LookupName(sess.ID())
	require.False(t, ok)

	require.Equal(t, 1, counterTotal(h.sink, "relay.session.joined.count"))
	require.Equal(t, 1, counterTotal(h.sink, "relay.session.left.count"))
}

// TestSession_PrivateCommandIsBroadcast pins down the existing behaviour:
// the recipient token is parsed but the text reaches everybody else.
func TestSession_PrivateCommandIsBroadcast(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	_, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice\n/msg bob hello\n"))
	h.waitObserver(t, "alice has joined the chat.\n[Private from alice]: hello\n")

	conn.Hangup()
	require.NoError(t, waitRun(t, done))
}

func TestSession_MalformedCommandIsDropped(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	_, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice\n"))
	require.NoError(t, conn.Send("/msg bob\n/msg\nafter\n"))
	h.waitObserver(t, "alice has joined the chat.\nalice: after\n")

	conn.Hangup()
	require.NoError(t, waitRun(t, done))
	require.Equal(t, 2, counterTotal(h.sink, "relay.session.malformed.command.count"))
}

func TestSession_DispatchesInArrivalOrder(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	_, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice\none\ntw"))
	require.NoError(t, conn.Send("o\r\nthree\n"))

	h.waitObserver(t, "alice has joined the chat.\nalice: one\nalice: two\nalice: three\n")

	conn.Hangup()
	require.NoError(t, waitRun(t, done))
}

func TestSession_LineTooLong(t *testing.T) {
	h := newSessionHarness(t)
	h.cfg.MaxLineLength = 8
	conn := newFakeConn()
	sess, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice\n"))
	h.waitObserver(t, "alice has joined the chat.\n")

	require.NoError(t, conn.Send("ok\n"+strings.Repeat("x", 20)))

	err := waitRun(t, done)
	require.ErrorIs(t, err, ErrProtocolViolation)
	require.Equal(t, StateClosed, sess.State())
	require.True(t, conn.Closed())
	require.Equal(t, "alice has joined the chat.\nalice: ok\nalice has left the chat.\n", h.observer.String())
}

func TestSession_InvalidNames(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "blank", line: "   \n"},
		{name: "too long", line: strings.Repeat("n", 65) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSessionHarness(t)
			conn := newFakeConn()
			sess, done := h.start(context.Background(), conn)

			require.NoError(t, conn.Send(tt.line))

			require.ErrorIs(t, waitRun(t, done), ErrProtocolViolation)
			require.Equal(t, StateClosed, sess.State())
			require.Equal(t, 1, h.reg.Len())
			require.Empty(t, h.observer.String())
		})
	}
}

func TestSession_ContextCancelTearsDown(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, done := h.start(ctx, conn)

	require.NoError(t, conn.Send("alice\n"))
	h.waitObserver(t, "alice has joined the chat.\n")

	cancel()
	require.NoError(t, waitRun(t, done))
	require.Equal(t, "alice has joined the chat.\nalice has left the chat.\n", h.observer.String())
	require.Equal(t, 1, h.reg.Len())
}

// cancelOnReadConn cancels the session's context from inside its first
// Read, which delivers the handshake line, and fails every Close.
type cancelOnReadConn struct {
	*fakeConn
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnReadConn) Read(p []byte) (int, error) {
	first := false
	c.once.Do(func() { first = true })
	if first {
		c.cancel()
		return copy(p, "alice\n"), nil
	}
	return c.fakeConn.Read(p)
}

func (c *cancelOnReadConn) Close() error {
	_ = c.fakeConn.Close()
	return errors.New("close failed")
}

func TestSession_CancelDuringHandshake(t *testing.T) {
	h := newSessionHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &cancelOnReadConn{fakeConn: newFakeConn(), cancel: cancel}

	sess, done := h.start(ctx, conn)

	require.NoError(t, waitRun(t, done))
	require.Equal(t, StateClosed, sess.State())
	require.True(t, conn.Closed())
	require.Equal(t, "alice has joined the chat.\nalice has left the chat.\n", h.observer.String())
	require.Equal(t, 1, h.reg.Len())
}

// TestSession_NameWaitsForNewline checks that a name without its
// terminating newline does not complete the handshake.
func TestSession_NameWaitsForNewline(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	sess, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice"))
	require.Never(t, func() bool {
		return sess.State() != StateConnecting || h.reg.Len() != 1 || h.observer.String() != ""
	}, 100*time.Millisecond, tick)
	require.Empty(t, sess.Name())
	require.Empty(t, conn.Output())

	require.NoError(t, conn.Send("\n"))
	h.waitObserver(t, "alice has joined the chat.\n")
	require.Equal(t, StateActive, sess.State())
	require.Equal(t, "Welcome, alice!\n", conn.Output())

	conn.Hangup()
	require.NoError(t, waitRun(t, done))
}

func TestSession_RunOnlyOnce(t *testing.T) {
	h := newSessionHarness(t)
	conn := newFakeConn()
	sess, done := h.start(context.Background(), conn)

	require.NoError(t, conn.Send("alice\n"))
	h.waitObserver(t, "alice has joined the chat.\n")

	require.ErrorIs(t, sess.Run(context.Background()), ErrSessionStarted)

	conn.Hangup()
	require.NoError(t, waitRun(t, done))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "closing", StateClosing.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", State(42).String())
}
