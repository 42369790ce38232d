// Package embed hosts an embedded voice widget: an opaque component that is
// mounted, opened, and unmounted by its host and reports transcript messages
// and closure through callbacks.
package embed

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/chriscow/empathic-go/pkg/session"
)

// ErrNotMounted is returned by Open before Mount.
var ErrNotMounted = errors.New("widget not mounted")

// Widget is the embedded component. Mount returns the function that
// unmounts it.
type Widget interface {
	Mount() (unmount func(), err error)
	OpenEmbed() error
}

// Callbacks are invoked by a widget.
type Callbacks struct {
	OnMessage func(turn session.Turn)
	OnClose   func()
}

// Factory builds a widget bound to cb.
type Factory func(cb Callbacks) (Widget, error)

// Host owns at most one widget. Callbacks registered on the host always
// reach the most recent handler, even after the widget was created.
type Host struct {
	factory     Factory
	openOnMount bool
	logger      *slog.Logger

	mu        sync.Mutex
	widget    Widget
	unmount   func()
	onMessage func(session.Turn)
	onClose   func()
}

// NewHost creates a host. With openOnMount the widget opens as soon as it
// is mounted.
func NewHost(factory Factory, openOnMount bool, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{factory: factory, openOnMount: openOnMount, logger: logger}
}

// OnMessage sets the transcript handler.
func (h *Host) OnMessage(fn func(session.Turn)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// OnClose sets the close handler.
func (h *Host) OnClose(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = fn
}

// Mount creates and mounts the widget. Mounting twice is a no-op.
func (h *Host) Mount() error {
	h.mu.Lock()
	if h.widget != nil {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	w, err := h.factory(Callbacks{OnMessage: h.message, OnClose: h.closed})
	if err != nil {
		return err
	}
	unmount, err := w.Mount()
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.widget != nil {
		h.mu.Unlock()
		unmount()
		return nil
	}
	h.widget = w
	h.unmount = unmount
	h.mu.Unlock()

	h.logger.Info("Embedded voice mounted")
	if h.openOnMount {
		return w.OpenEmbed()
	}
	return nil
}

// Open opens the mounted widget.
func (h *Host) Open() error {
	h.mu.Lock()
	w := h.widget
	h.mu.Unlock()
	if w == nil {
		return ErrNotMounted
	}
	return w.OpenEmbed()
}

// Unmount tears the widget down. Idempotent.
func (h *Host) Unmount() {
	h.mu.Lock()
	unmount := h.unmount
	h.widget = nil
	h.unmount = nil
	h.mu.Unlock()

	if unmount != nil {
		unmount()
		h.logger.Info("Embedded voice unmounted")
	}
}

// Mounted reports whether a widget is mounted.
func (h *Host) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.widget != nil
}

func (h *Host) message(turn session.Turn) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(turn)
	}
}

func (h *Host) closed() {
	h.mu.Lock()
	fn := h.onClose
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
