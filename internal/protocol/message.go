// Package protocol classifies client lines and renders the relay's wire
// messages. It knows nothing about connections or delivery.
package protocol

import (
	"bytes"
	"errors"
	"strings"
)

// CommandPrivate prefixes a "/msg <recipient> <text>" line.
const CommandPrivate = "/msg"

var (
	ErrMalformedCommand = errors.New("protocol: malformed command")
	ErrEmptyName        = errors.New("protocol: display name is empty")
	ErrNameTooLong      = errors.New("protocol: display name is too long")
)

// Message is a classified client line: either Chat or PrivateAttempt.
type Message interface {
	isMessage()
}

// Chat is an ordinary line broadcast under the sender's name.
type Chat struct {
	Text string
}

// PrivateAttempt is a "/msg" command. Recipient is parsed but the relay
// still broadcasts the text to every other client.
type PrivateAttempt struct {
	Recipient string
	Text      string
}

func (Chat) isMessage()           {}
func (PrivateAttempt) isMessage() {}

// TrimLine strips the delimiter and an optional carriage return.
func TrimLine(line []byte) string {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line)
}

// Parse classifies one framed line. A line starting with "/msg" must carry
// a space, a non-empty recipient token and another space before the text;
// anything else starting with "/msg" is ErrMalformedCommand.
func Parse(line []byte) (Message, error) {
	text := TrimLine(line)

	rest, ok := strings.CutPrefix(text, CommandPrivate)
	if !ok {
		return Chat{Text: text}, nil
	}

	rest, ok = strings.CutPrefix(rest, " ")
	if !ok {
		return nil, ErrMalformedCommand
	}

	recipient, body, ok := strings.Cut(rest, " ")
	if !ok || recipient == "" {
		return nil, ErrMalformedCommand
	}

	return PrivateAttempt{Recipient: recipient, Text: body}, nil
}

// ParseName extracts the display name from the handshake line. maxLen of 0
// disables the length check.
func ParseName(line []byte, maxLen int) (string, error) {
	name := strings.TrimSpace(TrimLine(line))
	if name == "" {
		return "", ErrEmptyName
	}
	if maxLen > 0 && len(name) > maxLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

// Welcome is sent to a client right after its handshake.
func Welcome(name string) []byte {
	return []byte("Welcome, " + name + "!\n")
}

// Joined announces a new client to everybody else.
func Joined(name string) []byte {
	return []byte(name + " has joined the chat.\n")
}

// Left announces a departed client to everybody else.
func Left(name string) []byte {
	return []byte(name + " has left the chat.\n")
}

// Render formats msg as sent by name.
func Render(name string, msg Message) []byte {
	switch m := msg.(type) {
	case PrivateAttempt:
		return []byte("[Private from " + name + "]: " + m.Text + "\n")
	case Chat:
		return []byte(name + ": " + m.Text + "\n")
	default:
		return nil
	}
}
