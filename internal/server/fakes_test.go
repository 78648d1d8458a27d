package server

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// recordingWriter collects everything written to it.
type recordingWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *recordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

var errBrokenRecipient = errors.New("broken recipient")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errBrokenRecipient
}

// fakeConn is an in-memory Conn. The test plays the peer: Send feeds the
// session's reads, Hangup ends the stream, Output returns what the session
// wrote back.
type fakeConn struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	pr, pw := io.Pipe()
	return &fakeConn{pr: pr, pw: pw, done: make(chan struct{})}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.out.Write(p)
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.pr.Close()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// Send blocks until the session has read all of s.
func (c *fakeConn) Send(s string) error {
	_, err := c.pw.Write([]byte(s))
	return err
}

// Hangup makes the session's next read return io.EOF.
func (c *fakeConn) Hangup() {
	_ = c.pw.Close()
}

func (c *fakeConn) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *fakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// counterTotal sums a counter across every retained interval of sink.
func counterTotal(sink *metrics.InmemSink, name string) int {
	total := 0
	for _, interval := range sink.Data() {
		if v, ok := interval.Counters[name]; ok {
			total += v.Count
		}
	}
	return total
}
