// Package expression streams video frames or text to the expression
// measurement service and reports the strongest emotions per payload.
package expression

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/chriscow/empathic-go/pkg/emotion"
	"github.com/chriscow/empathic-go/pkg/transport"
)

const (
	DefaultURL  = "wss://api.hume.ai/v0/stream/models"
	DefaultTopN = 5
)

var (
	// ErrAlreadyStreaming is returned by Start on a running stream.
	ErrAlreadyStreaming = errors.New("streaming already in progress")

	// ErrNotStreaming is returned by sends on a stopped stream.
	ErrNotStreaming = errors.New("not streaming")
)

// DialFunc opens a channel to rawURL.
type DialFunc func(ctx context.Context, rawURL string) (transport.Channel, error)

// Config configures a Stream.
type Config struct {
	APIKey string
	URL    string
	// TopN is the number of emotions reported per payload.
	TopN int
	// MaxReconnects bounds reconnects per remote close. Zero selects one;
	// negative disables reconnecting.
	MaxReconnects int
	Backoff       transport.Backoff
	Dial          DialFunc
	Logger        *slog.Logger
}

// Stream is one expression measurement connection.
type Stream struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	channel  transport.Channel
	gen      uint64
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	listener func([]emotion.Score)
}

// New creates a stopped Stream.
func New(cfg Config) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		logger := cfg.Logger
		cfg.Dial = func(ctx context.Context, rawURL string) (transport.Channel, error) {
			return transport.DialURL(ctx, rawURL, logger)
		}
	}
	return &Stream{cfg: cfg, logger: cfg.Logger}
}

// SetListener replaces the consumer of per-payload results.
func (s *Stream) SetListener(fn func([]emotion.Score)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Start connects. ctx bounds the dial only.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return transport.ErrMissingCredentials
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.running = true
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Running reports whether the stream is started.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes the connection and disables reconnecting. Idempotent.
func (s *Stream) Stop() {
	s.mu.Lock()
	ch := s.channel
	cancel := s.cancel
	s.channel = nil
	s.runCtx, s.cancel = nil, nil
	s.running = false
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
		s.logger.Info("Expression stream stopped")
	}
}

// SendFrame submits one JPEG image to the face model.
func (s *Stream) SendFrame(ctx context.Context, jpeg []byte) error {
	return s.send(ctx, facePayload{
		Data:      base64.StdEncoding.EncodeToString(jpeg),
		Models:    faceModels{Face: struct{}{}},
		PayloadID: uuid.NewString(),
	})
}

// SendText submits a text passage to the language model.
func (s *Stream) SendText(ctx context.Context, text string) error {
	return s.send(ctx, textPayload{
		Text:      text,
		Models:    languageModels{Language: languageOptions{Granularity: "sentence"}},
		PayloadID: uuid.NewString(),
	})
}

func (s *Stream) send(ctx context.Context, payload any) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return ErrNotStreaming
	}
	if err := ch.Send(ctx, payload); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrNotStreaming
		}
		return err
	}
	return nil
}

func (s *Stream) dial(ctx context.Context) error {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}
	q := u.Query()
	q.Set("apikey", s.cfg.APIKey)
	u.RawQuery = q.Encode()

	ch, err := s.cfg.Dial(ctx, u.String())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		ch.Close()
		return ErrNotStreaming
	}
	s.gen++
	gen := s.gen
	s.channel = ch
	s.mu.Unlock()

	s.logger.Info("Expression stream connected")
	go s.readLoop(gen, ch)
	return nil
}

func (s *Stream) readLoop(gen uint64, ch transport.Channel) {
	for {
		raw, err := ch.Receive()
		if err != nil {
			s.closed(gen, err)
			return
		}
		s.handle(raw)
	}
}

func (s *Stream) handle(raw []byte) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.logger.Warn("Dropping malformed result", slog.String("error", err.Error()))
		return
	}
	if resp.Error != "" {
		s.logger.Error("Expression service error",
			slog.String("code", resp.Code),
			slog.String("error", resp.Error))
		return
	}

	scores, ok := resp.scores()
	if !ok {
		if w := resp.warning(); w != "" {
			s.logger.Debug("Expression service warning", slog.String("warning", w))
		}
		return
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(emotion.Top(scores, s.cfg.TopN))
	}
}

// closed handles the end of a channel generation, reconnecting while the
// stream is still running.
func (s *Stream) closed(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || !s.running {
		s.mu.Unlock()
		return
	}
	s.channel = nil
	ctx := s.runCtx
	s.mu.Unlock()

	s.logger.Info("Expression stream closed", slog.String("reason", cause.Error()))

	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		if err := s.cfg.Backoff.Wait(ctx, attempt); err != nil {
			return
		}
		s.logger.Info("Expression stream reconnecting", slog.Int("attempt", attempt))

		err := s.dial(ctx)
		if err == nil || errors.Is(err, ErrNotStreaming) {
			return
		}
		s.logger.Warn("Expression stream reconnect failed", slog.String("error", err.Error()))
	}

	s.logger.Error("Expression stream lost")
	s.Stop()
}
