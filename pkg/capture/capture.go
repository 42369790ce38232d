// Package capture acquires media input devices and samples them on fixed
// intervals: audio as time-sliced chunks, video as one JPEG still per tick.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/empathic-go/pkg/rtc"
)

const (
	// DefaultAudioInterval is the audio time slice.
	DefaultAudioInterval = 100 * time.Millisecond

	// DefaultVideoInterval is the spacing between still frames.
	DefaultVideoInterval = 7500 * time.Millisecond

	// DefaultJPEGQuality matches the browser canvas export quality (0.8).
	DefaultJPEGQuality = 80
)

var (
	// ErrInactive indicates the device opened but is not delivering media.
	ErrInactive = errors.New("input device inactive")

	// ErrNoVideo is returned by Snapshot on audio-only streams.
	ErrNoVideo = errors.New("stream has no video")

	// ErrAlreadyCapturing is returned by Start on a running Source.
	ErrAlreadyCapturing = errors.New("capture already running")
)

// DeviceError reports a device that could not be acquired.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// AudioFormat describes what ReadAudio returns.
type AudioFormat struct {
	MimeType   string
	Encoding   string // "linear16" for raw PCM, codec name otherwise
	SampleRate int
	Channels   int
}

// IsLinearPCM reports whether the audio is raw 16-bit PCM.
func (f AudioFormat) IsLinearPCM() bool {
	return f.Encoding == "linear16"
}

// Stream is an acquired device handle.
type Stream interface {
	Active() bool
	Format() AudioFormat

	// ReadAudio returns the audio captured since the previous call. An empty
	// result means nothing new is available yet.
	ReadAudio() ([]byte, error)

	HasVideo() bool
	// Snapshot returns the current camera surface. A frame with zero
	// dimensions means the sensor is not warmed up.
	Snapshot() (rtc.VideoFrame, error)

	Close() error
}

// Device can be opened into a Stream.
type Device interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// MediaKind distinguishes outbound chunks.
type MediaKind int

const (
	KindAudio MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Chunk is one sampled unit of media, raw (not yet transport encoded).
type Chunk struct {
	Kind       MediaKind
	Seq        int64
	Data       []byte
	MimeType   string
	CapturedAt time.Time
}

// Sink receives chunks in capture order, one goroutine per media kind.
type Sink func(ctx context.Context, chunk Chunk)

// Config configures a Source.
type Config struct {
	AudioInterval time.Duration
	VideoInterval time.Duration
	// Video enables frame sampling when the stream has video.
	Video       bool
	JPEGQuality int
	Logger      *slog.Logger

	// OnStart runs once the device is acquired, before the first chunk.
	OnStart func(ctx context.Context, format AudioFormat)
}

// Source owns one device stream and its samplers.
type Source struct {
	device Device
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq atomic.Int64
}

// NewSource creates an idle Source.
func NewSource(device Device, cfg Config, sink Sink) *Source {
	if cfg.AudioInterval <= 0 {
		cfg.AudioInterval = DefaultAudioInterval
	}
	if cfg.VideoInterval <= 0 {
		cfg.VideoInterval = DefaultVideoInterval
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Source{
		device: device,
		cfg:    cfg,
		sink:   sink,
		logger: cfg.Logger,
	}
}

// Start acquires the device and begins sampling. ctx bounds acquisition
// only; samplers run until Stop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrAlreadyCapturing
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		return &DeviceError{Device: s.device.Name(), Err: err}
	}
	if !stream.Active() {
		stream.Close()
		return &DeviceError{Device: s.device.Name(), Err: ErrInactive}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.stream = stream
	s.cancel = cancel

	format := stream.Format()
	if s.cfg.OnStart != nil {
		s.cfg.OnStart(ctx, format)
	}
	s.logger.Info("Capture started",
		slog.String("device", s.device.Name()),
		slog.String("mime_type", format.MimeType),
		slog.Duration("audio_interval", s.cfg.AudioInterval))

	s.wg.Add(1)
	go s.sampleAudio(runCtx, stream)

	if s.cfg.Video && stream.HasVideo() {
		s.wg.Add(1)
		go s.sampleVideo(runCtx, stream)
	}

	return nil
}

// Stop halts sampling and releases the device. Safe to call repeatedly.
func (s *Source) Stop() {
	s.mu.Lock()
	stream, cancel := s.stream, s.cancel
	s.stream, s.cancel = nil, nil
	s.mu.Unlock()

	if stream == nil {
		return
	}

	cancel()
	s.wg.Wait()
	if err := stream.Close(); err != nil {
		s.logger.Warn("Error releasing device",
			slog.String("device", s.device.Name()),
			slog.String("error", err.Error()))
	}
	s.logger.Info("Capture stopped", slog.String("device", s.device.Name()))
}

// Capturing reports whether a stream is held.
func (s *Source) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Format returns the audio format of the held stream.
func (s *Source) Format() (AudioFormat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return AudioFormat{}, false
	}
	return s.stream.Format(), true
}

func (s *Source) sampleAudio(ctx context.Context, stream Stream) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AudioInterval)
	defer ticker.Stop()
	mimeType := stream.Format().MimeType

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := stream.ReadAudio()
			if err != nil {
				s.logger.Warn("Audio read failed", slog.String("error", err.Error()))
				continue
			}
			if len(data) == 0 {
				continue
			}
			s.sink(ctx, Chunk{
				Kind:       KindAudio,
				Seq:        s.seq.Add(1),
				Data:       data,
				MimeType:   mimeType,
				CapturedAt: time.Now(),
			})
		}
	}
}

func (s *Source) sampleVideo(ctx context.Context, stream Stream) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.VideoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := stream.Snapshot()
			if err != nil {
				s.logger.Warn("Frame capture failed", slog.String("error", err.Error()))
				continue
			}
			if frame.Empty() {
				s.logger.Debug("Video dimensions not ready, skipping frame")
				continue
			}

			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
				s.logger.Warn("Frame encode failed", slog.String("error", err.Error()))
				continue
			}
			s.sink(ctx, Chunk{
				Kind:       KindVideo,
				Seq:        s.seq.Add(1),
				Data:       buf.Bytes(),
				MimeType:   "image/jpeg",
				CapturedAt: time.Now(),
			})
		}
	}
}
