package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyRegistered = errors.New("registry: identity already registered")

	ErrServerClosed      = errors.New("server: closed")
	ErrServerFull        = errors.New("server: connection limit reached")
	ErrProtocolViolation = errors.New("session: protocol violation")
	ErrIdleTimeout       = errors.New("session: idle timeout")
	ErrSessionStarted    = errors.New("session: already started")
)

// isExpectedCloseError reports whether err is the ordinary result of a
// peer hanging up or of us closing the transport.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
