package embed_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/empathic-go/pkg/embed"
	playbackfake "github.com/chriscow/empathic-go/pkg/playback/fake"
	"github.com/chriscow/empathic-go/pkg/session"
	transportfake "github.com/chriscow/empathic-go/pkg/transport/fake"
)

type fakeWidget struct {
	mu       sync.Mutex
	cb       embed.Callbacks
	mounts   int
	unmounts int
	opens    int
}

func (w *fakeWidget) Mount() (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mounts++
	return func() {
		w.mu.Lock()
		w.unmounts++
		w.mu.Unlock()
		w.cb.OnClose()
	}, nil
}

func (w *fakeWidget) OpenEmbed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens++
	return nil
}

func (w *fakeWidget) counts() (mounts, unmounts, opens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mounts, w.unmounts, w.opens
}

func factoryFor(widgets *[]*fakeWidget) embed.Factory {
	return func(cb embed.Callbacks) (embed.Widget, error) {
		w := &fakeWidget{cb: cb}
		*widgets = append(*widgets, w)
		return w, nil
	}
}

func TestHostLifecycle(t *testing.T) {
	is := is.New(t)

	var widgets []*fakeWidget
	host := embed.NewHost(factoryFor(&widgets), false, nil)

	is.Equal(host.Open(), embed.ErrNotMounted)

	is.NoErr(host.Mount())
	is.NoErr(host.Mount()) // no-op
	is.Equal(len(widgets), 1)
	is.True(host.Mounted())

	is.NoErr(host.Open())
	mounts, _, opens := widgets[0].counts()
	is.Equal(mounts, 1)
	is.Equal(opens, 1)

	host.Unmount()
	host.Unmount()
	_, unmounts, _ := widgets[0].counts()
	is.Equal(unmounts, 1)
	is.True(!host.Mounted())
}

func TestHostOpenOnMount(t *testing.T) {
	is := is.New(t)

	var widgets []*fakeWidget
	host := embed.NewHost(factoryFor(&widgets), true, nil)
	is.NoErr(host.Mount())

	_, _, opens := widgets[0].counts()
	is.Equal(opens, 1)
}

func TestHostCallbacksReachLatestHandler(t *testing.T) {
	is := is.New(t)

	var widgets []*fakeWidget
	host := embed.NewHost(factoryFor(&widgets), false, nil)

	var got []string
	host.OnMessage(func(turn session.Turn) { got = append(got, "old:"+turn.Content) })
	is.NoErr(host.Mount())

	widgets[0].cb.OnMessage(session.Turn{Content: "a"})
	host.OnMessage(func(turn session.Turn) { got = append(got, "new:"+turn.Content) })
	widgets[0].cb.OnMessage(session.Turn{Content: "b"})

	is.Equal(got, []string{"old:a", "new:b"})

	closed := 0
	host.OnClose(func() { closed++ })
	host.Unmount()
	is.Equal(closed, 1)
}

func TestHostFactoryError(t *testing.T) {
	is := is.New(t)

	host := embed.NewHost(func(embed.Callbacks) (embed.Widget, error) {
		return nil, errors.New("auth rejected")
	}, true, nil)
	is.True(host.Mount() != nil)
	is.True(!host.Mounted())
}

func TestSessionWidget(t *testing.T) {
	is := is.New(t)

	dialer := transportfake.NewFakeDialer()
	sess, err := session.New(session.Config{
		Dialer: dialer,
		Player: playbackfake.NewFakePlayer(0),
	})
	is.NoErr(err)

	host := embed.NewHost(embed.SessionFactory(sess, time.Second), true, nil)
	turns := make(chan session.Turn, 1)
	host.OnMessage(func(turn session.Turn) { turns <- turn })
	closed := make(chan struct{})
	host.OnClose(func() { close(closed) })

	is.NoErr(host.Mount())
	is.Equal(sess.State(), session.Open)

	dialer.Channels()[0].Inject(`{"type":"assistant_message","message":{"role":"assistant","content":"Hello there"}}`)
	select {
	case turn := <-turns:
		is.Equal(turn.Role, "assistant")
		is.Equal(turn.Content, "Hello there")
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript message")
	}

	host.Unmount()
	<-closed
	is.Equal(sess.State(), session.Disconnected)
	is.True(dialer.Channels()[0].Closed())
}
