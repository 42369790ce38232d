package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/classify"
	"github.com/chriscow/empathic-go/pkg/playback"
	"github.com/chriscow/empathic-go/pkg/transport"
)

// dispatch runs the handler registered for kind.
func (s *Session) dispatch(ctx context.Context, kind transport.EventKind, gen uint64, ev channelEvent) {
	h, ok := s.handlers[kind]
	if !ok {
		return
	}
	h(ctx, gen, ev)
}

// readLoop delivers inbound messages for one channel generation in arrival
// order, then a single close event.
func (s *Session) readLoop(gen uint64, ch transport.Channel) {
	ctx := s.lifetime()
	for {
		raw, err := ch.Receive()
		if err != nil {
			var ce *transport.CloseError
			switch {
			case errors.As(err, &ce):
				s.dispatch(ctx, transport.EventClose, gen, channelEvent{code: ce.Code, reason: ce.Reason})
			case errors.Is(err, transport.ErrClosed):
				s.dispatch(ctx, transport.EventClose, gen, channelEvent{code: transport.CloseNormal, reason: "closed locally"})
			default:
				s.dispatch(ctx, transport.EventError, gen, channelEvent{err: err})
				s.dispatch(ctx, transport.EventClose, gen, channelEvent{code: transport.CloseAbnormal, reason: err.Error()})
			}
			return
		}
		s.dispatch(ctx, transport.EventMessage, gen, channelEvent{raw: raw, at: time.Now()})
	}
}

// lifetime returns the context canceled by Cleanup.
func (s *Session) lifetime() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.runCtx
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.channel != nil
}

func (s *Session) handleOpen(ctx context.Context, gen uint64, _ channelEvent) {
	if !s.current(gen) {
		return
	}

	if s.cfg.Analyzer != nil {
		s.mu.Lock()
		start := !s.analyzerOn
		s.analyzerOn = true
		s.mu.Unlock()
		if start {
			if err := s.cfg.Analyzer.Start(ctx); err != nil {
				s.logger.Warn("Frame analyzer unavailable", slog.String("error", err.Error()))
				s.mu.Lock()
				s.analyzerOn = false
				s.mu.Unlock()
				s.notify(err)
			}
		}
	}

	if s.cfg.Device == nil {
		return
	}
	if err := s.StartCapture(ctx); err != nil {
		s.logger.Error("Capture failed to start", slog.String("error", err.Error()))
		s.notify(err)
	}
}

func (s *Session) handleMessage(ctx context.Context, gen uint64, ev channelEvent) {
	if !s.current(gen) {
		return
	}

	event, err := s.classifier.Classify(ev.raw, ev.at)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Warn("Dropping inbound message", slog.String("error", err.Error()))
		return
	}
	if event == nil {
		return
	}
	s.metrics.EventsReceived.WithLabelValues(event.Kind().String()).Inc()

	switch e := event.(type) {
	case classify.Metadata:
		s.mu.Lock()
		if s.chatGroupID == "" {
			s.chatGroupID = e.ChatGroupID
		}
		s.mu.Unlock()
		s.logger.Info("Chat started",
			slog.String("chat_id", e.ChatID),
			slog.String("chat_group_id", e.ChatGroupID))

	case classify.SpeechTurn:
		s.mu.Lock()
		listener, transcript := s.listener, s.transcript
		s.mu.Unlock()
		if listener != nil {
			listener(NewTurn(e))
		}
		if transcript != nil {
			transcript(e.Content)
		}

	case classify.AudioChunk:
		s.queue.Enqueue(playback.Segment{ID: e.ID, Data: e.Data, MimeType: e.MimeType})

	case classify.Interruption:
		s.logger.Debug("User interrupted playback")
		s.metrics.PlaybackInterrupts.Inc()
		s.queue.Interrupt()

	case classify.TransportError:
		s.logger.Error("Service reported error",
			slog.String("code", e.Code),
			slog.String("message", e.Message))
		s.notify(e)
	}
}

func (s *Session) handleError(ctx context.Context, gen uint64, ev channelEvent) {
	if !s.current(gen) {
		return
	}
	s.logger.Error("Channel error", slog.String("error", ev.err.Error()))
}

func (s *Session) handleClose(ctx context.Context, gen uint64, ev channelEvent) {
	s.mu.Lock()
	if gen != s.gen || s.channel == nil {
		s.mu.Unlock()
		return
	}
	ch := s.channel
	s.channel = nil
	s.setState(Closing)
	desired := s.desired
	s.mu.Unlock()

	s.logger.Info("Channel closed",
		slog.Int("code", ev.code),
		slog.String("reason", ev.reason),
		slog.Bool("reconnect", desired))

	ch.Close()
	s.StopCapture()

	s.mu.Lock()
	if s.state == Closing {
		s.setState(Disconnected)
	}
	s.mu.Unlock()

	if !desired {
		return
	}
	s.reconnect(ctx, classify.TransportClosed{Code: ev.code, Reason: ev.reason})
}

// reconnect dials the same endpoint again. When every attempt fails the
// session is cleaned up and the user notified.
func (s *Session) reconnect(ctx context.Context, closed classify.TransportClosed) {
	var lastErr error = closed
	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		if err := s.cfg.Backoff.Wait(ctx, attempt); err != nil {
			return
		}

		s.mu.Lock()
		desired := s.desired
		s.mu.Unlock()
		if !desired {
			return
		}

		s.metrics.Reconnects.Inc()
		s.logger.Info("Reconnecting", slog.Int("attempt", attempt))

		err := s.connect(ctx, true)
		if err == nil || errors.Is(err, ErrAborted) {
			return
		}
		lastErr = err

		s.mu.Lock()
		desired = s.desired
		s.mu.Unlock()
		if !desired {
			return
		}
	}

	s.Cleanup()
	s.notify(&ConnectionError{Op: "reconnect", Err: lastErr})
}

// onChunk encodes one captured chunk and sends it if the channel is still
// open at the moment of sending.
func (s *Session) onChunk(ctx context.Context, chunk capture.Chunk) {
	if chunk.Kind == capture.KindVideo {
		s.sendFrame(ctx, chunk)
		return
	}

	if s.gate.ShouldDiscardAudio() {
		s.metrics.MicChunksSuppressed.Inc()
		return
	}

	msg := transport.NewAudioInput(chunk.Data)

	ch := s.openChannel()
	if ch == nil {
		s.metrics.ChunksDropped.WithLabelValues("not_open").Inc()
		return
	}
	if err := ch.Send(ctx, msg); err != nil {
		s.metrics.ChunksDropped.WithLabelValues("send_failed").Inc()
		if !errors.Is(err, transport.ErrClosed) {
			s.logger.Warn("Audio send failed", slog.String("error", err.Error()))
		}
		return
	}
	s.metrics.ChunksSent.WithLabelValues(chunk.Kind.String()).Inc()
	s.metrics.BytesSent.WithLabelValues(chunk.Kind.String()).Add(float64(len(chunk.Data)))
}

func (s *Session) sendFrame(ctx context.Context, chunk capture.Chunk) {
	s.mu.Lock()
	ready := s.state == Open && s.analyzerOn
	s.mu.Unlock()
	if !ready {
		s.metrics.ChunksDropped.WithLabelValues("not_open").Inc()
		return
	}

	if err := s.cfg.Analyzer.SendFrame(ctx, chunk.Data); err != nil {
		s.metrics.ChunksDropped.WithLabelValues("send_failed").Inc()
		s.logger.Warn("Frame send failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.ChunksSent.WithLabelValues(chunk.Kind.String()).Inc()
	s.metrics.BytesSent.WithLabelValues(chunk.Kind.String()).Add(float64(len(chunk.Data)))
}

// sendSessionSettings declares the audio format for raw PCM capture; the
// service detects container formats itself.
func (s *Session) sendSessionSettings(ctx context.Context, format capture.AudioFormat) {
	if !format.IsLinearPCM() {
		return
	}
	ch := s.openChannel()
	if ch == nil {
		return
	}
	settings := transport.NewSessionSettings(transport.AudioSettings{
		Encoding:   format.Encoding,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	})
	if err := ch.Send(ctx, settings); err != nil {
		s.logger.Warn("Session settings send failed", slog.String("error", err.Error()))
	}
}
