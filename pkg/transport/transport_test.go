package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/chriscow/empathic-go/pkg/transport"
)

var upgrader = websocket.Upgrader{}

// echoServer echoes every text message back. A message "bye" makes the
// server close with code 4000.
func echoServer(t *testing.T, seen chan<- *http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == `"bye"` {
				msg := websocket.FormatCloseMessage(4000, "done")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	is := is.New(t)
	srv := echoServer(t, nil)

	ch, err := transport.DialURL(context.Background(), wsURL(srv), nil)
	is.NoErr(err)
	defer ch.Close()

	is.NoErr(ch.Send(context.Background(), transport.NewAudioInput([]byte{0, 1, 2})))
	data, err := ch.Receive()
	is.NoErr(err)

	var msg transport.AudioInput
	is.NoErr(json.Unmarshal(data, &msg))
	is.Equal(msg.Type, "audio_input")
	is.Equal(msg.Data, "AAEC")
}

func TestWebSocketRemoteClose(t *testing.T) {
	is := is.New(t)
	srv := echoServer(t, nil)

	ch, err := transport.DialURL(context.Background(), wsURL(srv), nil)
	is.NoErr(err)
	defer ch.Close()

	is.NoErr(ch.Send(context.Background(), "bye"))
	_, err = ch.Receive()

	var ce *transport.CloseError
	is.True(errors.As(err, &ce))
	is.Equal(ce.Code, 4000)
	is.Equal(ce.Reason, "done")
}

func TestWebSocketSendAfterClose(t *testing.T) {
	is := is.New(t)
	srv := echoServer(t, nil)

	ch, err := transport.DialURL(context.Background(), wsURL(srv), nil)
	is.NoErr(err)

	is.NoErr(ch.Close())
	is.NoErr(ch.Close()) // idempotent
	is.True(ch.IsClosed())
	is.Equal(ch.Send(context.Background(), transport.NewUserInput("hi")), transport.ErrClosed)
}

func TestWebSocketConcurrentSends(t *testing.T) {
	is := is.New(t)
	srv := echoServer(t, nil)

	ch, err := transport.DialURL(context.Background(), wsURL(srv), nil)
	is.NoErr(err)
	defer ch.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Send(context.Background(), transport.NewUserInput("x"))
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		_, err := ch.Receive()
		is.NoErr(err)
	}
}

func TestDialURLInvalid(t *testing.T) {
	is := is.New(t)
	_, err := transport.DialURL(context.Background(), "://bad", nil)
	is.True(err != nil)
}

func TestEVIDialerMissingCredentials(t *testing.T) {
	is := is.New(t)

	d := transport.NewEVIDialer(transport.EVIDialerConfig{})
	_, err := d.Dial(context.Background(), transport.Request{})
	is.True(errors.Is(err, transport.ErrMissingCredentials))
}

func TestEVIDialerAPIKeyQuery(t *testing.T) {
	is := is.New(t)
	seen := make(chan *http.Request, 1)
	srv := echoServer(t, seen)

	d := transport.NewEVIDialer(transport.EVIDialerConfig{
		Credentials: transport.Credentials{APIKey: "key-1"},
		ChatURL:     wsURL(srv) + "/v0/evi/chat",
	})
	ch, err := d.Dial(context.Background(), transport.Request{ConfigID: "cfg-9", ResumedChatGroupID: "grp-3"})
	is.NoErr(err)
	defer ch.Close()

	r := <-seen
	is.Equal(r.URL.Path, "/v0/evi/chat")
	q := r.URL.Query()
	is.Equal(q.Get("api_key"), "key-1")
	is.Equal(q.Get("config_id"), "cfg-9")
	is.Equal(q.Get("resumed_chat_group_id"), "grp-3")
	is.Equal(q.Get("access_token"), "")
}

func TestEVIDialerTokenExchange(t *testing.T) {
	is := is.New(t)

	var tokenCalls int
	var mu sync.Mutex
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokenCalls++
		mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != "key-1" || pass != "secret-1" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-abc","token_type":"Bearer","expires_in":1800}`))
	}))
	defer tokenSrv.Close()

	seen := make(chan *http.Request, 2)
	srv := echoServer(t, seen)

	d := transport.NewEVIDialer(transport.EVIDialerConfig{
		Credentials: transport.Credentials{APIKey: "key-1", SecretKey: "secret-1"},
		ChatURL:     wsURL(srv),
		TokenURL:    tokenSrv.URL,
	})

	for i := 0; i < 2; i++ {
		ch, err := d.Dial(context.Background(), transport.Request{})
		is.NoErr(err)
		r := <-seen
		is.Equal(r.URL.Query().Get("access_token"), "tok-abc")
		is.Equal(r.URL.Query().Get("api_key"), "")
		ch.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	is.Equal(tokenCalls, 1) // token reused until expiry
}

func TestEVIDialerTokenFailure(t *testing.T) {
	is := is.New(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer tokenSrv.Close()

	d := transport.NewEVIDialer(transport.EVIDialerConfig{
		Credentials: transport.Credentials{APIKey: "k", SecretKey: "s"},
		ChatURL:     "ws://127.0.0.1:1",
		TokenURL:    tokenSrv.URL,
	})
	_, err := d.Dial(context.Background(), transport.Request{})
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "access token"))
}

func TestBackoffCalculation(t *testing.T) {
	tests := []struct {
		name    string
		backoff transport.Backoff
		attempt int
		want    time.Duration
	}{
		{"first attempt", transport.DefaultBackoff, 1, 1 * time.Second},
		{"second attempt", transport.DefaultBackoff, 2, 2 * time.Second},
		{"third attempt", transport.DefaultBackoff, 3, 4 * time.Second},
		{"fourth attempt", transport.DefaultBackoff, 4, 8 * time.Second},
		{"fifth attempt capped", transport.DefaultBackoff, 5, 10 * time.Second},
		{"many attempts capped", transport.DefaultBackoff, 40, 10 * time.Second},
		{"zero base is immediate", transport.Backoff{}, 3, 0},
		{"uncapped", transport.Backoff{Base: 100 * time.Millisecond}, 4, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(tt.backoff.Delay(tt.attempt), tt.want)
		})
	}
}

func TestBackoffWaitCancelled(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transport.DefaultBackoff.Wait(ctx, 1)
	is.True(errors.Is(err, context.Canceled))
	is.NoErr(transport.Backoff{}.Wait(context.Background(), 1))
}

func TestEventKindString(t *testing.T) {
	is := is.New(t)
	is.Equal(transport.EventOpen.String(), "open")
	is.Equal(transport.EventMessage.String(), "message")
	is.Equal(transport.EventError.String(), "error")
	is.Equal(transport.EventClose.String(), "close")
}
