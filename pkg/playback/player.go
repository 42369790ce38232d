package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chriscow/empathic-go/pkg/audio/wav"
)

// FFPlayPlayer plays each segment through an ffplay process reading stdin.
type FFPlayPlayer struct {
	Path     string
	LogLevel string
	Volume   int
	Logger   *slog.Logger
}

// NewFFPlayPlayer returns a player using ffplay from PATH.
func NewFFPlayPlayer(logger *slog.Logger) *FFPlayPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFPlayPlayer{Path: "ffplay", LogLevel: "error", Volume: 80, Logger: logger}
}

// Play blocks until ffplay exits. Cancelling ctx kills the process.
func (p *FFPlayPlayer) Play(ctx context.Context, seg Segment) error {
	path := p.Path
	if strings.TrimSpace(path) == "" {
		path = "ffplay"
	}
	args := []string{
		"-nodisp", "-autoexit",
		"-loglevel", p.LogLevel,
		"-volume", fmt.Sprint(p.Volume),
		"-i", "pipe:0",
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(seg.Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ffplay: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// DirPlayer writes each segment to a directory and holds the queue for the
// segment's audible duration, so downstream consumers see real-time pacing.
type DirPlayer struct {
	Dir    string
	Logger *slog.Logger

	// Pace disables the real-time wait when false.
	Pace bool

	seq atomic.Int64
}

// NewDirPlayer creates dir if needed.
func NewDirPlayer(dir string, pace bool, logger *slog.Logger) (*DirPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create playback dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirPlayer{Dir: dir, Pace: pace, Logger: logger}, nil
}

// Play writes the segment then waits out its duration.
func (p *DirPlayer) Play(ctx context.Context, seg Segment) error {
	n := p.seq.Add(1)
	name := filepath.Join(p.Dir, fmt.Sprintf("segment-%04d%s", n, extensionFor(seg.MimeType)))
	if err := os.WriteFile(name, seg.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}

	var length time.Duration
	if h, err := wav.ParseHeader(seg.Data); err == nil {
		length = h.Duration()
	}
	p.Logger.Debug("Segment written",
		slog.String("file", name),
		slog.Duration("duration", length))

	if !p.Pace || length == 0 {
		return nil
	}

	timer := time.NewTimer(length)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}
