package embed

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/empathic-go/pkg/session"
)

// SessionWidget is a Widget backed by a streaming session: opening it
// connects, unmounting it cleans the session up.
type SessionWidget struct {
	sess    *session.Session
	cb      Callbacks
	timeout time.Duration

	once sync.Once
}

// SessionFactory returns a Factory producing widgets over sess. timeout
// bounds each connect.
func SessionFactory(sess *session.Session, timeout time.Duration) Factory {
	return func(cb Callbacks) (Widget, error) {
		return &SessionWidget{sess: sess, cb: cb, timeout: timeout}, nil
	}
}

func (w *SessionWidget) Mount() (func(), error) {
	w.sess.SetListener(func(turn session.Turn) {
		if w.cb.OnMessage != nil {
			w.cb.OnMessage(turn)
		}
	})
	return w.unmount, nil
}

func (w *SessionWidget) OpenEmbed() error {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.sess.Connect(ctx)
}

func (w *SessionWidget) unmount() {
	w.once.Do(func() {
		w.sess.SetListener(nil)
		w.sess.Cleanup()
		if w.cb.OnClose != nil {
			w.cb.OnClose()
		}
	})
}
