// Package server implements the relay core and its transports.
//
// A Server accepts TCP connections (and websocket connections through its
// HTTP gateway) and runs one Session per connection. Sessions register
// with a shared Registry after the handshake and fan chat lines out
// through a Broadcaster. Framing lives in internal/framer and line
// classification in internal/protocol.
package server
