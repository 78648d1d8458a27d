package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn presents a websocket as the byte stream a Session expects. Each
// text or binary frame is one chunk of the stream; a frame that does not
// end with a newline gets one, so a browser can send a line per frame.
type wsConn struct {
	ws   *websocket.Conn
	r    io.Reader
	last byte
	eol  bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if c.eol {
			c.eol = false
			c.last = '\n'
			p[0] = '\n'
			return 1, nil
		}

		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
			c.last = 0
		}

		n, err := c.r.Read(p)
		if n > 0 {
			c.last = p[n-1]
		}
		if errors.Is(err, io.EOF) {
			c.r = nil
			if c.last != '\n' {
				c.eol = true
			}
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// Write sends p as a single text frame. Callers serialise writes.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
