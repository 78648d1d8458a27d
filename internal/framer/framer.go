// Package framer decodes a newline-delimited byte stream into complete
// messages, one Framer per connection.
package framer

import (
	"bytes"
	"errors"
)

// Delimiter terminates every message on the wire.
const Delimiter = '\n'

// ErrLineTooLong is returned by Feed when the undelimited remainder grows
// past the configured maximum.
var ErrLineTooLong = errors.New("framer: line exceeds maximum length")

// Framer accumulates bytes read from a connection and hands back every
// complete delimiter-terminated message in arrival order. It is not safe
// for concurrent use; the owning session is its only caller.
type Framer struct {
	buf    []byte
	maxLen int
}

// New returns a Framer that rejects messages longer than maxLen bytes,
// delimiter included. A maxLen of 0 disables the limit.
func New(maxLen int) *Framer {
	if maxLen < 0 {
		maxLen = 0
	}
	return &Framer{maxLen: maxLen}
}

// Feed appends p to the pending buffer and extracts every complete
// message. Each returned slice includes its trailing delimiter and is
// owned by the caller. Bytes after the last delimiter stay pending.
//
// When a message (complete or not) exceeds the maximum length, Feed
// returns the messages extracted before it along with ErrLineTooLong and
// the pending buffer is discarded.
func (f *Framer) Feed(p []byte) ([][]byte, error) {
	f.buf = append(f.buf, p...)

	var out [][]byte
	for {
		i := bytes.IndexByte(f.buf, Delimiter)
		if i < 0 {
			break
		}
		if f.maxLen > 0 && i+1 > f.maxLen {
			f.buf = nil
			return out, ErrLineTooLong
		}
		msg := make([]byte, i+1)
		copy(msg, f.buf[:i+1])
		out = append(out, msg)
		f.buf = f.buf[i+1:]
	}

	if f.maxLen > 0 && len(f.buf) >= f.maxLen {
		f.buf = nil
		return out, ErrLineTooLong
	}

	// drop the consumed prefix so the backing array does not grow forever
	if len(f.buf) == 0 {
		f.buf = nil
	} else if cap(f.buf) > 2*len(f.buf)+512 {
		f.buf = append([]byte(nil), f.buf...)
	}

	return out, nil
}

// Pending returns a copy of the bytes not yet terminated by a delimiter.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.buf...)
}

// Reset discards any pending bytes.
func (f *Framer) Reset() {
	f.buf = nil
}
