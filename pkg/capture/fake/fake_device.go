package fake

import (
	"context"
	"sync"

	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/rtc"
)

// FakeDevice is a capture.Device for tests. Audio pushed with PushAudio is
// returned by the next read of the currently open stream.
type FakeDevice struct {
	OpenErr     error
	Inactive    bool
	Video       bool
	AudioFormat capture.AudioFormat

	mu     sync.Mutex
	opens  int
	stream *FakeStream
}

// NewFakeDevice creates an active, audio-only linear PCM device.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		AudioFormat: capture.AudioFormat{
			MimeType:   "audio/l16",
			Encoding:   "linear16",
			SampleRate: 16000,
			Channels:   1,
		},
	}
}

func (d *FakeDevice) Name() string { return "fake" }

func (d *FakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.stream = &FakeStream{
		active: !d.Inactive,
		video:  d.Video,
		format: d.AudioFormat,
	}
	return d.stream, nil
}

// Opens returns how many times Open was called.
func (d *FakeDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stream returns the most recently opened stream.
func (d *FakeDevice) Stream() *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// PushAudio queues audio on the open stream. It is a no-op with no stream.
func (d *FakeDevice) PushAudio(data []byte) {
	if s := d.Stream(); s != nil {
		s.PushAudio(data)
	}
}

// FakeStream is the capture.Stream handed out by FakeDevice.
type FakeStream struct {
	mu      sync.Mutex
	active  bool
	video   bool
	format  capture.AudioFormat
	pending []byte
	frame   rtc.VideoFrame
	closes  int
}

func (s *FakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.closes == 0
}

func (s *FakeStream) Format() capture.AudioFormat { return s.format }

func (s *FakeStream) PushAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, data...)
}

func (s *FakeStream) ReadAudio() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.pending
	s.pending = nil
	return data, nil
}

func (s *FakeStream) HasVideo() bool { return s.video }

// SetFrame sets what Snapshot returns.
func (s *FakeStream) SetFrame(frame rtc.VideoFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

func (s *FakeStream) Snapshot() (rtc.VideoFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.video {
		return rtc.VideoFrame{}, capture.ErrNoVideo
	}
	return s.frame, nil
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Closes returns how many times Close was called.
func (s *FakeStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
