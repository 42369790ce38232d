package capture_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/empathic-go/pkg/audio/wav"
	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/capture/fake"
	"github.com/chriscow/empathic-go/pkg/rtc"
)

type collector struct {
	mu     sync.Mutex
	chunks []capture.Chunk
}

func (c *collector) sink(_ context.Context, chunk capture.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *collector) all() []capture.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capture.Chunk(nil), c.chunks...)
}

func (c *collector) count(kind capture.MediaKind) int {
	n := 0
	for _, ch := range c.all() {
		if ch.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func fastConfig() capture.Config {
	return capture.Config{
		AudioInterval: 10 * time.Millisecond,
		VideoInterval: 10 * time.Millisecond,
		Video:         true,
	}
}

func TestStartOpenFailure(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	dev.OpenErr = os.ErrPermission
	src := capture.NewSource(dev, fastConfig(), (&collector{}).sink)

	err := src.Start(context.Background())
	var devErr *capture.DeviceError
	is.True(errors.As(err, &devErr))
	is.True(errors.Is(err, os.ErrPermission))
	is.Equal(devErr.Device, "fake")
	is.True(!src.Capturing())
}

func TestStartInactiveStream(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	dev.Inactive = true
	src := capture.NewSource(dev, fastConfig(), (&collector{}).sink)

	err := src.Start(context.Background())
	is.True(errors.Is(err, capture.ErrInactive))
	is.Equal(dev.Stream().Closes(), 1) // released on failure
	is.True(!src.Capturing())
}

func TestAudioChunksSkipEmptySlices(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	c := &collector{}
	src := capture.NewSource(dev, fastConfig(), c.sink)
	is.NoErr(src.Start(context.Background()))
	defer src.Stop()

	// several empty ticks pass before any audio
	time.Sleep(50 * time.Millisecond)
	is.Equal(c.count(capture.KindAudio), 0)

	dev.PushAudio([]byte{1, 2, 3, 4})
	waitFor(t, func() bool { return c.count(capture.KindAudio) == 1 })
	dev.PushAudio([]byte{5, 6})
	waitFor(t, func() bool { return c.count(capture.KindAudio) == 2 })

	chunks := c.all()
	is.Equal(chunks[0].Data, []byte{1, 2, 3, 4})
	is.Equal(chunks[0].MimeType, "audio/l16")
	is.Equal(chunks[1].Data, []byte{5, 6})
	is.True(chunks[1].Seq > chunks[0].Seq)
}

func TestVideoSkipsEmptyFrames(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	dev.Video = true
	c := &collector{}
	src := capture.NewSource(dev, fastConfig(), c.sink)
	is.NoErr(src.Start(context.Background()))
	defer src.Stop()

	time.Sleep(50 * time.Millisecond)
	is.Equal(c.count(capture.KindVideo), 0) // sensor not warmed up

	dev.Stream().SetFrame(rtc.VideoFrame{Image: image.NewRGBA(image.Rect(0, 0, 8, 6))})
	waitFor(t, func() bool { return c.count(capture.KindVideo) > 0 })

	var frame capture.Chunk
	for _, ch := range c.all() {
		if ch.Kind == capture.KindVideo {
			frame = ch
			break
		}
	}
	is.Equal(frame.MimeType, "image/jpeg")
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	is.NoErr(err)
	is.Equal(img.Bounds().Dx(), 8)
	is.Equal(img.Bounds().Dy(), 6)
}

func TestVideoDisabled(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	dev.Video = true
	cfg := fastConfig()
	cfg.Video = false
	c := &collector{}
	src := capture.NewSource(dev, cfg, c.sink)
	is.NoErr(src.Start(context.Background()))
	dev.Stream().SetFrame(rtc.VideoFrame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))})

	time.Sleep(50 * time.Millisecond)
	src.Stop()
	is.Equal(c.count(capture.KindVideo), 0)
}

func TestStopIsIdempotent(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	c := &collector{}
	src := capture.NewSource(dev, fastConfig(), c.sink)
	is.NoErr(src.Start(context.Background()))
	is.True(src.Capturing())
	is.Equal(src.Start(context.Background()), capture.ErrAlreadyCapturing)

	src.Stop()
	src.Stop()
	is.True(!src.Capturing())
	is.Equal(dev.Stream().Closes(), 1)

	// nothing is emitted after stop
	dev.PushAudio([]byte{1})
	time.Sleep(30 * time.Millisecond)
	is.Equal(c.count(capture.KindAudio), 0)

	// a stopped source can be started again
	is.NoErr(src.Start(context.Background()))
	is.Equal(dev.Opens(), 2)
	src.Stop()
}

func writeTestWAV(t *testing.T, dir string, ms int) string {
	t.Helper()
	samples := 16000 * ms / 1000
	pcm := make([]byte, samples*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	path := filepath.Join(dir, "mic.wav")
	if err := os.WriteFile(path, wav.Encode(pcm, 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVDeviceDeliversElapsedAudio(t *testing.T) {
	is := is.New(t)

	path := writeTestWAV(t, t.TempDir(), 50)
	now := time.Unix(1700000000, 0)
	dev := capture.NewWAVDevice(path, false)
	dev.Now = func() time.Time { return now }

	stream, err := dev.Open(context.Background())
	is.NoErr(err)
	defer stream.Close()

	format := stream.Format()
	is.True(format.IsLinearPCM())
	is.Equal(format.SampleRate, 16000)
	is.Equal(format.Channels, 1)

	data, err := stream.ReadAudio()
	is.NoErr(err)
	is.Equal(len(data), 0) // no time has passed

	now = now.Add(20 * time.Millisecond)
	data, err = stream.ReadAudio()
	is.NoErr(err)
	is.Equal(len(data), 2*320) // two 10ms frames at 16kHz mono

	now = now.Add(time.Second)
	data, err = stream.ReadAudio()
	is.NoErr(err)
	is.Equal(len(data), 3*320) // capped at end of file
	is.True(!stream.Active())
}

func TestWAVDeviceLoops(t *testing.T) {
	is := is.New(t)

	path := writeTestWAV(t, t.TempDir(), 20)
	now := time.Unix(1700000000, 0)
	dev := capture.NewWAVDevice(path, true)
	dev.Now = func() time.Time { return now }

	stream, err := dev.Open(context.Background())
	is.NoErr(err)

	now = now.Add(50 * time.Millisecond)
	data, err := stream.ReadAudio()
	is.NoErr(err)
	is.Equal(len(data), 5*320)
	is.Equal(data[:320], data[640:960]) // wrapped to the first frame
	is.True(stream.Active())

	is.NoErr(stream.Close())
	is.True(!stream.Active())
}

func TestWAVDeviceMissingFile(t *testing.T) {
	is := is.New(t)

	src := capture.NewSource(capture.NewWAVDevice(filepath.Join(t.TempDir(), "nope.wav"), true), fastConfig(), (&collector{}).sink)
	err := src.Start(context.Background())
	var devErr *capture.DeviceError
	is.True(errors.As(err, &devErr))
}

func TestStillDeviceCycles(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	for i, size := range []int{4, 6} {
		var buf bytes.Buffer
		is.NoErr(jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size)), nil))
		is.NoErr(os.WriteFile(filepath.Join(dir, string(rune('a'+i))+".jpg"), buf.Bytes(), 0o644))
	}
	is.NoErr(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	stream, err := capture.NewStillDevice(dir).Open(context.Background())
	is.NoErr(err)
	defer stream.Close()
	is.True(stream.HasVideo())

	var widths []int
	for i := 0; i < 3; i++ {
		frame, err := stream.Snapshot()
		is.NoErr(err)
		widths = append(widths, frame.Width())
	}
	is.Equal(widths, []int{4, 6, 4})
}

func TestComposeStillsWithWAV(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	path := writeTestWAV(t, dir, 100)
	stills := filepath.Join(dir, "frames")
	is.NoErr(os.Mkdir(stills, 0o755))
	var buf bytes.Buffer
	is.NoErr(jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	is.NoErr(os.WriteFile(filepath.Join(stills, "f.jpg"), buf.Bytes(), 0o644))

	dev := capture.Compose(capture.NewWAVDevice(path, true), capture.NewStillDevice(stills))
	c := &collector{}
	src := capture.NewSource(dev, fastConfig(), c.sink)
	is.NoErr(src.Start(context.Background()))
	waitFor(t, func() bool {
		return c.count(capture.KindAudio) > 0 && c.count(capture.KindVideo) > 0
	})
	src.Stop()
}

func TestRoomDeviceRequiresURLAndToken(t *testing.T) {
	is := is.New(t)

	_, err := capture.NewRoomDevice(capture.RoomConfig{Token: "t"})
	is.True(err != nil)
	_, err = capture.NewRoomDevice(capture.RoomConfig{URL: "wss://example.livekit.cloud"})
	is.True(err != nil)

	dev, err := capture.NewRoomDevice(capture.RoomConfig{URL: "wss://example.livekit.cloud", Token: "t"})
	is.NoErr(err)
	is.Equal(dev.Name(), "room:wss://example.livekit.cloud")
}

func TestOnStartRunsBeforeFirstChunk(t *testing.T) {
	is := is.New(t)

	dev := fake.NewFakeDevice()
	c := &collector{}
	var started []capture.AudioFormat
	cfg := fastConfig()
	cfg.OnStart = func(_ context.Context, format capture.AudioFormat) {
		started = append(started, format)
		is.Equal(len(c.all()), 0)
	}
	src := capture.NewSource(dev, cfg, c.sink)
	is.NoErr(src.Start(context.Background()))
	defer src.Stop()

	is.Equal(len(started), 1)
	is.Equal(started[0].SampleRate, 16000)
}
