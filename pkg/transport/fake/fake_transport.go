package fake

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chriscow/empathic-go/pkg/transport"
)

// FakeChannel is an in-memory transport.Channel. Inbound messages are
// injected with Inject; outbound messages are recorded as JSON.
type FakeChannel struct {
	inbound chan []byte
	remote  chan *transport.CloseError
	done    chan struct{}

	// SendErr, when set, is returned by Send.
	SendErr error

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

// NewFakeChannel creates an open channel.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		inbound: make(chan []byte, 100),
		remote:  make(chan *transport.CloseError, 1),
		done:    make(chan struct{}),
	}
}

func (c *FakeChannel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, data)
	return nil
}

// Receive returns injected messages in order. Messages injected before a
// remote close are delivered first.
func (c *FakeChannel) Receive() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}

	select {
	case data := <-c.inbound:
		return data, nil
	case ce := <-c.remote:
		return nil, ce
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Inject queues an inbound message.
func (c *FakeChannel) Inject(raw string) {
	c.inbound <- []byte(raw)
}

// CloseRemote simulates the server closing the connection.
func (c *FakeChannel) CloseRemote(code int, reason string) {
	select {
	case c.remote <- &transport.CloseError{Code: code, Reason: reason}:
	default:
	}
}

// Closed reports whether Close was called.
func (c *FakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns every outbound message.
func (c *FakeChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// SentTypes returns the "type" field of each outbound message.
func (c *FakeChannel) SentTypes() []string {
	var types []string
	for _, raw := range c.Sent() {
		var msg struct {
			Type string `json:"type"`
		}
		json.Unmarshal(raw, &msg)
		types = append(types, msg.Type)
	}
	return types
}

// FakeDialer hands out FakeChannels and records each request.
type FakeDialer struct {
	// Err, when set, fails every dial.
	Err error
	// FailAfter, when positive, lets that many dials succeed before Err
	// applies.
	FailAfter int

	mu       sync.Mutex
	requests []transport.Request
	channels []*FakeChannel
	dialed   chan *FakeChannel
}

// NewFakeDialer creates a dialer that always succeeds.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{dialed: make(chan *FakeChannel, 100)}
}

func (d *FakeDialer) Dial(ctx context.Context, req transport.Request) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	if d.Err != nil && (d.FailAfter == 0 || len(d.requests) > d.FailAfter) {
		return nil, d.Err
	}

	ch := NewFakeChannel()
	d.channels = append(d.channels, ch)
	select {
	case d.dialed <- ch:
	default:
	}
	return ch, nil
}

// Requests returns every dial request, including failed ones.
func (d *FakeDialer) Requests() []transport.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Request(nil), d.requests...)
}

// Channels returns every channel handed out.
func (d *FakeDialer) Channels() []*FakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeChannel(nil), d.channels...)
}

// Dialed delivers each channel as it is handed out.
func (d *FakeDialer) Dialed() <-chan *FakeChannel {
	return d.dialed
}
