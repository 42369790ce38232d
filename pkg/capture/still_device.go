package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/empathic-go/pkg/rtc"
)

// StillDevice is a camera that cycles through the images in a directory,
// one per Snapshot.
type StillDevice struct {
	Dir string
}

// NewStillDevice creates a StillDevice over dir.
func NewStillDevice(dir string) *StillDevice {
	return &StillDevice{Dir: dir}
}

func (d *StillDevice) Name() string { return "stills:" + d.Dir }

func (d *StillDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(d.Dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: no images found", d.Dir)
	}
	sort.Strings(paths)

	return &stillStream{paths: paths, opened: time.Now()}, nil
}

type stillStream struct {
	mu     sync.Mutex
	paths  []string
	next   int
	opened time.Time
	closed bool
}

func (s *stillStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *stillStream) Format() AudioFormat { return AudioFormat{} }

func (s *stillStream) ReadAudio() ([]byte, error) { return nil, nil }

func (s *stillStream) HasVideo() bool { return true }

func (s *stillStream) Snapshot() (rtc.VideoFrame, error) {
	s.mu.Lock()
	path := s.paths[s.next%len(s.paths)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return rtc.VideoFrame{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return rtc.VideoFrame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return rtc.VideoFrame{Image: img, Timestamp: time.Since(s.opened)}, nil
}

func (s *stillStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Compose pairs an audio device with a video device into one Device.
func Compose(audio, video Device) Device {
	if video == nil {
		return audio
	}
	return &composite{audio: audio, video: video}
}

type composite struct {
	audio Device
	video Device
}

func (c *composite) Name() string {
	return c.audio.Name() + "+" + c.video.Name()
}

func (c *composite) Open(ctx context.Context) (Stream, error) {
	a, err := c.audio.Open(ctx)
	if err != nil {
		return nil, err
	}
	v, err := c.video.Open(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	return &compositeStream{audio: a, video: v}, nil
}

type compositeStream struct {
	audio Stream
	video Stream
}

func (s *compositeStream) Active() bool { return s.audio.Active() }
func (s *compositeStream) Format() AudioFormat { return s.audio.Format() }
func (s *compositeStream) ReadAudio() ([]byte, error) { return s.audio.ReadAudio() }
func (s *compositeStream) HasVideo() bool { return s.video.HasVideo() }
func (s *compositeStream) Snapshot() (rtc.VideoFrame, error) { return s.video.Snapshot() }

func (s *compositeStream) Close() error {
	verr := s.video.Close()
	if err := s.audio.Close(); err != nil {
		return err
	}
	return verr
}
