package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chriscow/empathic-go/pkg/audio/wav"
	"github.com/chriscow/empathic-go/pkg/rtc"
)

// WAVDevice plays a 16-bit PCM WAV file as if it were a live microphone:
// reads return only the audio whose wall-clock time has elapsed.
type WAVDevice struct {
	Path string
	// Loop restarts the file when it runs out; otherwise the stream goes
	// inactive at end of file.
	Loop bool
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// NewWAVDevice creates a WAVDevice for path.
func NewWAVDevice(path string, loop bool) *WAVDevice {
	return &WAVDevice{Path: path, Loop: loop}
}

func (d *WAVDevice) Name() string { return "wav:" + d.Path }

func (d *WAVDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := wav.NewReader(d.Path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	frames, err := reader.ReadFrames()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: no audio data", d.Path)
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}
	header := reader.Header()
	return &wavStream{
		frames: frames,
		loop:   d.Loop,
		now:    now,
		start:  now(),
		format: AudioFormat{
			MimeType:   "audio/l16",
			Encoding:   "linear16",
			SampleRate: int(header.SampleRate),
			Channels:   int(header.NumChannels),
		},
	}, nil
}

type wavStream struct {
	mu     sync.Mutex
	frames []rtc.AudioFrame
	loop   bool
	now    func() time.Time
	start  time.Time
	sent   int64 // frames delivered so far, across loops
	closed bool
	format AudioFormat
}

func (s *wavStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.loop || s.sent < int64(len(s.frames))
}

func (s *wavStream) Format() AudioFormat { return s.format }

func (s *wavStream) ReadAudio() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("stream closed")
	}

	due := int64(s.now().Sub(s.start) / rtc.FrameDuration)
	if !s.loop && due > int64(len(s.frames)) {
		due = int64(len(s.frames))
	}
	if due <= s.sent {
		return nil, nil
	}

	batch := make([]rtc.AudioFrame, 0, due-s.sent)
	for i := s.sent; i < due; i++ {
		batch = append(batch, s.frames[i%int64(len(s.frames))])
	}
	s.sent = due
	return rtc.JoinFrames(batch)
}

func (s *wavStream) HasVideo() bool { return false }

func (s *wavStream) Snapshot() (rtc.VideoFrame, error) {
	return rtc.VideoFrame{}, ErrNoVideo
}

func (s *wavStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
