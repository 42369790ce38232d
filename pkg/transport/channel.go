// Package transport carries JSON messages to and from the voice service over
// a websocket, and dials authenticated EVI chat sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Standard websocket close codes used by the session.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("channel closed")

// CloseError is returned by Receive once the remote end has closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("channel closed (%d)", e.Code)
	}
	return fmt.Sprintf("channel closed (%d): %s", e.Code, e.Reason)
}

// Channel is one bidirectional message stream.
type Channel interface {
	// Send marshals v as JSON and writes it. Concurrent sends are serialized.
	Send(ctx context.Context, v any) error
	// Receive blocks for the next text message. It returns a *CloseError when
	// the remote end closes.
	Receive() ([]byte, error)
	// Close closes the channel. Safe to call repeatedly.
	Close() error
}

// EventKind names the channel lifecycle events a consumer handles.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}
