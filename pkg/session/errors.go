package session

import (
	"errors"
	"fmt"

	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/classify"
)

var (
	// ErrNotConnected is returned by sends attempted while the channel is
	// not open.
	ErrNotConnected = errors.New("not connected")

	// ErrNoDevice is returned by StartCapture when no input device is
	// configured.
	ErrNoDevice = errors.New("no input device configured")

	// ErrAborted is returned by a connect that Cleanup overtook.
	ErrAborted = errors.New("connect aborted")

	// ErrEncoding marks a malformed inbound payload.
	ErrEncoding = classify.ErrEncoding
)

// DeviceError reports a media device that could not be acquired.
type DeviceError = capture.DeviceError

// ConnectionError reports a failed credential exchange or handshake.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
