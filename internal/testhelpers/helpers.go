// Package testhelpers provides line-protocol clients shared by the relay's
// tests.
//
// LineClient speaks the relay protocol over TCP; the websocket helpers dial
// the HTTP gateway. Every blocking read takes a timeout so a broken relay
// fails a test instead of hanging it.
package testhelpers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every read that expects data.
const DefaultTimeout = 2 * time.Second

// LineClient is a TCP relay client reading newline-terminated lines.
type LineClient struct {
	Conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the relay at addr.
func Dial(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	require.NoError(t, err, "dial relay")

	c := &LineClient{Conn: conn, r: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Join connects, sends name as the handshake and waits for the welcome
// line, so the client is registered when Join returns.
func Join(t *testing.T, addr, name string) *LineClient {
	t.Helper()

	c := Dial(t, addr)
	c.Send(t, name)
	require.Equal(t, "Welcome, "+name+"!\n", c.ReadLine(t))
	return c
}

// Send writes line followed by a newline.
func (c *LineClient) Send(t *testing.T, line string) {
	t.Helper()
	c.SendRaw(t, line+"\n")
}

// SendRaw writes s exactly as given.
func (c *LineClient) SendRaw(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, c.Conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)))
	_, err := c.Conn.Write([]byte(s))
	require.NoError(t, err, "write to relay")
}

// ReadLine returns the next line including its newline.
func (c *LineClient) ReadLine(t *testing.T) string {
	t.Helper()

	line, err := c.readLine(DefaultTimeout)
	require.NoError(t, err, "read line from relay")
	return line
}

// ExpectNoLine fails the test if a line arrives within d.
func (c *LineClient) ExpectNoLine(t *testing.T, d time.Duration) {
	t.Helper()

	line, err := c.readLine(d)
	if err == nil {
		t.Fatalf("expected no message, got %q", line)
	}
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected a read timeout, got %v", err)
}

// ExpectClosed waits for the relay to close the connection. Any lines
// received first are returned.
func (c *LineClient) ExpectClosed(t *testing.T) []string {
	t.Helper()

	var lines []string
	for {
		line, err := c.readLine(DefaultTimeout)
		if err != nil {
			var ne net.Error
			require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection was not closed")
			return lines
		}
		lines = append(lines, line)
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() error {
	return c.Conn.Close()
}

func (c *LineClient) readLine(d time.Duration) (string, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", err
	}
	return c.r.ReadString('\n')
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadText reads one websocket frame as a string.
func ReadText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "read websocket frame")
	return string(data)
}
