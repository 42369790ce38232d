package wav

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestParseHeader(t *testing.T) {
	is := is.New(t)

	// 250ms of 16kHz mono 16-bit audio
	blob := Encode(make([]byte, 8000), 16000, 1)

	h, err := ParseHeader(blob)
	is.NoErr(err)
	is.Equal(h.SampleRate, uint32(16000))
	is.Equal(h.NumChannels, uint16(1))
	is.Equal(h.DataSize, uint32(8000))
	is.Equal(h.Duration(), 250*time.Millisecond)
}

func TestParseHeader_NotWAV(t *testing.T) {
	is := is.New(t)

	_, err := ParseHeader([]byte("OggS not a wav file at all"))
	is.True(errors.Is(err, ErrNotWAV))

	_, err = ParseHeader(nil)
	is.True(errors.Is(err, ErrNotWAV))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "tone.wav")
	w, err := NewWriter(path, 16000, 1, 16)
	is.NoErr(err)
	is.NoErr(w.WriteSineWave(440, 105))
	is.NoErr(w.Close())
	is.NoErr(w.Close()) // second close is a no-op

	r, err := NewReader(path)
	is.NoErr(err)
	defer r.Close()

	is.Equal(r.Header().SampleRate, uint32(16000))
	frames, err := r.ReadFrames()
	is.NoErr(err)

	// 105ms rounds up to 11 frames, the last one zero padded
	is.Equal(len(frames), 11)
	is.Equal(len(frames[10].Data), 320)
	is.Equal(frames[10].Timestamp, 100*time.Millisecond)
	is.Equal(frames[10].Data[319], byte(0))
}

func TestNewReaderFrom_RejectsUnsupported(t *testing.T) {
	is := is.New(t)

	_, err := NewReaderFrom(bytes.NewReader(Encode(make([]byte, 64), 8000, 1)))
	is.True(err != nil) // 8kHz is not a supported capture rate
}

func TestWriteFrames(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "src.wav")
	w, err := NewWriter(src, 16000, 1, 16)
	is.NoErr(err)
	is.NoErr(w.WriteSineWave(220, 50))
	is.NoErr(w.Close())

	r, err := NewReader(src)
	is.NoErr(err)
	frames, err := r.ReadFrames()
	is.NoErr(err)
	r.Close()

	dst := filepath.Join(dir, "copy.wav")
	w, err = NewWriter(dst, 16000, 1, 16)
	is.NoErr(err)
	is.NoErr(w.WriteFrames(frames))
	is.NoErr(w.Close())

	r, err = NewReader(dst)
	is.NoErr(err)
	defer r.Close()
	copied, err := r.ReadFrames()
	is.NoErr(err)
	is.Equal(len(copied), len(frames))
	is.Equal(copied[2].Data, frames[2].Data)
}
