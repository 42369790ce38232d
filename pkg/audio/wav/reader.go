package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chriscow/empathic-go/pkg/rtc"
)

// ErrNotWAV is returned when a blob does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a WAV payload")

// Header represents a WAV file header
type Header struct {
	ChunkSize     uint32
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Duration returns the playback length of the data chunk.
func (h Header) Duration() time.Duration {
	bytesPerSecond := uint64(h.SampleRate) * uint64(h.NumChannels) * uint64(h.BitsPerSample) / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(uint64(h.DataSize) * uint64(time.Second) / bytesPerSecond)
}

// ParseHeader reads the header of an in-memory WAV blob without
// validating sample format. Used to pace playback of synthesized audio.
func ParseHeader(data []byte) (Header, error) {
	r := &Reader{src: bytes.NewReader(data)}
	if err := r.readChunks(); err != nil {
		return Header{}, err
	}
	return r.header, nil
}

// Reader reads WAV files and converts them to AudioFrames
type Reader struct {
	src    io.ReadSeeker
	closer io.Closer
	header Header
}

// NewReader opens a WAV file for reading.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader, err := NewReaderFrom(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// NewReaderFrom reads 16-bit PCM WAV data from src.
func NewReaderFrom(src io.ReadSeeker) (*Reader, error) {
	reader := &Reader{src: src}
	if err := reader.readHeader(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return reader, nil
}

// Header returns the WAV file header information
func (r *Reader) Header() Header {
	return r.header
}

// ReadFrames reads the remaining audio and returns it as 10ms AudioFrames.
// A trailing partial frame is zero padded.
func (r *Reader) ReadFrames() ([]rtc.AudioFrame, error) {
	samplesPerFrame := int(r.header.SampleRate) / 100
	bytesPerFrame := samplesPerFrame * int(r.header.NumChannels) * (int(r.header.BitsPerSample) / 8)

	var frames []rtc.AudioFrame
	remaining := int64(r.header.DataSize)
	for frameIndex := 0; remaining > 0; frameIndex++ {
		data := make([]byte, bytesPerFrame)
		want := int64(bytesPerFrame)
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r.src, data[:want])
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read audio data: %w", err)
		}
		remaining -= int64(n)

		frames = append(frames, rtc.AudioFrame{
			Data:              data,
			SampleRate:        int(r.header.SampleRate),
			SamplesPerChannel: samplesPerFrame,
			NumChannels:       int(r.header.NumChannels),
			Timestamp:         time.Duration(frameIndex) * rtc.FrameDuration,
		})
		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	return frames, nil
}

// Close closes the underlying file, if the reader opened one.
func (r *Reader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

// readHeader reads and validates the WAV header for frame decoding.
func (r *Reader) readHeader() error {
	if err := r.readChunks(); err != nil {
		return err
	}

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	switch r.header.SampleRate {
	case 16000, 24000, 44100, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %dHz", r.header.SampleRate)
	}
	return nil
}

// readChunks walks the RIFF chunks and leaves src positioned at the start
// of the audio data.
func (r *Reader) readChunks() error {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r.src, riffHeader[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return ErrNotWAV
	}
	r.header.ChunkSize = binary.LittleEndian.Uint32(riffHeader[4:8])

	sawFmt := false
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.src, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}
			var fmtData [16]byte
			if _, err := io.ReadFull(r.src, fmtData[:]); err != nil {
				return fmt.Errorf("failed to read fmt data: %w", err)
			}
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return fmt.Errorf("only PCM format is supported, got format %d", format)
			}
			r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])
			if chunkSize > 16 {
				if _, err := r.src.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return fmt.Errorf("failed to skip fmt data: %w", err)
				}
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return fmt.Errorf("data chunk before fmt chunk")
			}
			r.header.DataSize = chunkSize
			return nil

		default:
			if _, err := r.src.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to skip chunk: %w", err)
			}
		}
	}
}
