// Package session manages one streaming call with the voice service: the
// connection lifecycle, media capture, inbound message dispatch and ordered
// playback of assistant audio.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/classify"
	"github.com/chriscow/empathic-go/pkg/emotion"
	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/playback"
	"github.com/chriscow/empathic-go/pkg/transport"
	"github.com/chriscow/empathic-go/pkg/voice"
)

// DefaultMaxReconnects is the number of reconnect attempts per remote close.
const DefaultMaxReconnects = 1

// FrameAnalyzer is the optional second channel that measures emotions on
// video frames.
type FrameAnalyzer interface {
	Start(ctx context.Context) error
	Stop()
	SendFrame(ctx context.Context, jpeg []byte) error
	SetListener(fn func([]emotion.Score))
}

// Config configures a Session.
type Config struct {
	Dialer transport.Dialer
	Device capture.Device
	Player playback.Player

	// ConfigID selects the voice configuration on the service.
	ConfigID string
	// ChatGroupID resumes a prior conversation on first connect.
	ChatGroupID string
	// Resume keeps the chat group ID across Cleanup.
	Resume bool

	AudioInterval time.Duration
	VideoInterval time.Duration
	DedupTTL      time.Duration
	DedupBucket   time.Duration

	// MaxReconnects bounds reconnect attempts per remote close. Zero selects
	// DefaultMaxReconnects; negative disables reconnecting.
	MaxReconnects int
	// Backoff spaces reconnect attempts. The zero value reconnects
	// immediately.
	Backoff transport.Backoff

	// MuteWhilePlaying withholds microphone audio while assistant audio plays.
	MuteWhilePlaying bool

	Analyzer FrameAnalyzer
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// channelEvent is one lifecycle event from a channel.
type channelEvent struct {
	raw    []byte
	at     time.Time
	err    error
	code   int
	reason string
}

type handlerFunc func(ctx context.Context, gen uint64, ev channelEvent)

// Session is one logical call. All methods are safe for concurrent use.
type Session struct {
	id         string
	cfg        Config
	logger     *slog.Logger
	classifier *classify.Classifier
	queue      *playback.Queue
	gate       voice.AudioGate
	metrics    *metrics.Metrics
	notifier   Notifier
	handlers   map[transport.EventKind]handlerFunc

	mu          sync.Mutex
	state       State
	channel     transport.Channel
	gen         uint64
	source      *capture.Source
	chatGroupID string
	resume      bool
	desired     bool
	runCtx      context.Context
	runCancel   context.CancelFunc
	listener    Listener
	transcript  TranscriptListener
	analyzerOn  bool
}

// New creates a disconnected session.
func New(cfg Config) (*Session, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if cfg.Player == nil {
		return nil, errors.New("player is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}

	id := uuid.NewString()
	logger := cfg.Logger.With(slog.String("session_id", id))

	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      logger,
		gate:        voice.NewAudioGate(cfg.MuteWhilePlaying),
		metrics:     cfg.Metrics,
		notifier:    cfg.Notifier,
		chatGroupID: cfg.ChatGroupID,
		resume:      cfg.Resume,
	}
	if s.notifier == nil {
		s.notifier = logNotifier{logger: logger}
	}

	s.classifier = classify.New(classify.Config{
		DedupTTL:    cfg.DedupTTL,
		DedupBucket: cfg.DedupBucket,
		Logger:      logger,
	})

	queue, err := playback.NewQueue(playback.Config{
		Player:        cfg.Player,
		Logger:        logger,
		OnStateChange: s.gate.SetPlaying,
		OnPlayed: func(seg playback.Segment, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			s.metrics.SegmentsPlayed.WithLabelValues(result).Inc()
		},
	})
	if err != nil {
		return nil, err
	}
	s.queue = queue

	s.handlers = map[transport.EventKind]handlerFunc{
		transport.EventOpen:    s.handleOpen,
		transport.EventMessage: s.handleMessage,
		transport.EventError:   s.handleError,
		transport.EventClose:   s.handleClose,
	}

	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Connect opens the voice channel and, once open, starts capture. It is a
// no-op while already open or connecting.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, false)
}

// connect dials a new channel. A reconnect only proceeds while streaming is
// still desired; a first connect marks it desired.
func (s *Session) connect(ctx context.Context, reconnecting bool) error {
	s.mu.Lock()
	if s.state == Open || s.state == Connecting {
		s.mu.Unlock()
		return nil
	}
	if reconnecting && !s.desired {
		s.mu.Unlock()
		return &ConnectionError{Op: "dial", Err: ErrAborted}
	}
	s.setState(Connecting)
	s.desired = true
	if s.runCtx == nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	req := transport.Request{
		ConfigID:           s.cfg.ConfigID,
		ResumedChatGroupID: s.chatGroupID,
	}
	s.mu.Unlock()

	ch, err := s.cfg.Dialer.Dial(ctx, req)
	if err != nil {
		s.metrics.Connects.WithLabelValues("failed").Inc()
		s.logger.Error("Connect failed", slog.String("error", err.Error()))
		if !reconnecting {
			s.Cleanup()
		} else {
			s.mu.Lock()
			if s.state == Connecting {
				s.setState(Disconnected)
			}
			s.mu.Unlock()
		}
		return &ConnectionError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		ch.Close()
		return &ConnectionError{Op: "dial", Err: ErrAborted}
	}
	s.gen++
	gen := s.gen
	s.channel = ch
	s.setState(Open)
	s.mu.Unlock()

	s.metrics.Connects.WithLabelValues("ok").Inc()
	s.logger.Info("Session open",
		slog.String("config_id", req.ConfigID),
		slog.String("resumed_chat_group_id", req.ResumedChatGroupID))

	s.dispatch(ctx, transport.EventOpen, gen, channelEvent{})
	go s.readLoop(gen, ch)
	return nil
}

// StartCapture acquires the input device and streams it while the channel
// is open. Capture already running is left as is.
func (s *Session) StartCapture(ctx context.Context) error {
	if s.cfg.Device == nil {
		return &DeviceError{Device: "none", Err: ErrNoDevice}
	}

	s.mu.Lock()
	if s.source != nil {
		s.mu.Unlock()
		return nil
	}
	src := capture.NewSource(s.cfg.Device, capture.Config{
		AudioInterval: s.cfg.AudioInterval,
		VideoInterval: s.cfg.VideoInterval,
		Video:         s.cfg.Analyzer != nil,
		Logger:        s.logger,
		OnStart:       s.sendSessionSettings,
	}, s.onChunk)
	s.source = src
	s.mu.Unlock()

	if err := src.Start(ctx); err != nil {
		s.mu.Lock()
		if s.source == src {
			s.source = nil
		}
		s.mu.Unlock()
		return err
	}

	// StopCapture or Cleanup may have run while the device was opening.
	s.mu.Lock()
	stale := s.source != src
	s.mu.Unlock()
	if stale {
		src.Stop()
	}
	return nil
}

// StopCapture stops sampling and releases the device. Idempotent.
func (s *Session) StopCapture() {
	s.mu.Lock()
	src := s.source
	s.source = nil
	s.mu.Unlock()

	if src != nil {
		src.Stop()
	}
}

// SendText sends a typed user message.
func (s *Session) SendText(ctx context.Context, text string) error {
	ch := s.openChannel()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Send(ctx, transport.NewUserInput(text)); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// Cleanup stops capture, halts playback and closes the channels. The chat
// group ID survives only when resume is set. Safe to call in any state.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.desired = false
	ch := s.channel
	s.channel = nil
	s.gen++
	src := s.source
	s.source = nil
	if !s.resume {
		s.chatGroupID = ""
	}
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	analyzerOn := s.analyzerOn
	s.analyzerOn = false
	wasActive := s.state != Disconnected
	s.setState(Disconnected)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Stop()
	}
	s.queue.Interrupt()
	if ch != nil {
		if err := ch.Close(); err != nil {
			s.logger.Warn("Error closing channel", slog.String("error", err.Error()))
		}
	}
	if analyzerOn {
		s.cfg.Analyzer.Stop()
	}
	if wasActive || ch != nil {
		s.logger.Info("Session cleaned up")
	}
}

// SetListener replaces the speech turn consumer. Nil detaches it.
func (s *Session) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// SetTranscriptListener replaces the raw transcript consumer.
func (s *Session) SetTranscriptListener(l TranscriptListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = l
}

// SetFrameListener forwards frame emotion results. It is a no-op without a
// frame analyzer.
func (s *Session) SetFrameListener(l FrameListener) {
	if s.cfg.Analyzer == nil {
		return
	}
	s.cfg.Analyzer.SetListener(l)
}

// SetResume controls whether the chat group ID survives Cleanup.
func (s *Session) SetResume(resume bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = resume
}

// Resume reports the resume flag.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

// SetChatGroupID sets the conversation the next connect resumes.
func (s *Session) SetChatGroupID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatGroupID = id
}

func (s *Session) ChatGroupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatGroupID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CaptureState() CaptureState {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src != nil && src.Capturing() {
		return Capturing
	}
	return Idle
}

// Playing reports whether assistant audio is playing.
func (s *Session) Playing() bool {
	return s.queue.Playing()
}

// setState must be called with s.mu held.
func (s *Session) setState(state State) {
	s.state = state
	s.metrics.ConnectionState.Set(float64(state))
}

// openChannel returns the channel if the session is open.
func (s *Session) openChannel() transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return nil
	}
	return s.channel
}

func (s *Session) notify(err error) {
	s.notifier.Notify(err)
}
