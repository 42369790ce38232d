package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/chriscow/empathic-go/pkg/rtc"
)

// Writer writes 16-bit PCM WAV data to a seekable destination. The header
// sizes are patched on Close.
type Writer struct {
	dst            io.WriteSeeker
	closer         io.Closer
	sampleRate     uint32
	numChannels    uint16
	bitsPerSample  uint16
	samplesWritten uint32
}

// NewWriter creates a new WAV file writer
func NewWriter(filename string, sampleRate uint32, numChannels, bitsPerSample uint16) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	writer, err := NewWriterTo(file, sampleRate, numChannels, bitsPerSample)
	if err != nil {
		file.Close()
		return nil, err
	}
	writer.closer = file
	return writer, nil
}

// NewWriterTo writes a WAV stream to dst.
func NewWriterTo(dst io.WriteSeeker, sampleRate uint32, numChannels, bitsPerSample uint16) (*Writer, error) {
	w := &Writer{
		dst:           dst,
		sampleRate:    sampleRate,
		numChannels:   numChannels,
		bitsPerSample: bitsPerSample,
	}
	if err := writeHeader(w.dst, sampleRate, numChannels, bitsPerSample, 0); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// WriteFrames appends PCM frames.
func (w *Writer) WriteFrames(frames []rtc.AudioFrame) error {
	for i := range frames {
		if _, err := w.dst.Write(frames[i].Data); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		w.samplesWritten += uint32(frames[i].SamplesPerChannel)
	}
	return nil
}

// WriteSineWave writes a sine wave of the specified frequency and duration
func (w *Writer) WriteSineWave(frequency float64, durationMs int) error {
	samplesPerChannel := int(w.sampleRate) * durationMs / 1000

	for i := 0; i < samplesPerChannel; i++ {
		t := float64(i) / float64(w.sampleRate)
		intSample := int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.5)

		for ch := 0; ch < int(w.numChannels); ch++ {
			if err := binary.Write(w.dst, binary.LittleEndian, intSample); err != nil {
				return fmt.Errorf("failed to write sample: %w", err)
			}
		}
		w.samplesWritten++
	}

	return nil
}

// Close finalizes the WAV stream by updating the header with correct sizes
func (w *Writer) Close() error {
	if w.dst == nil {
		return nil
	}

	dataSize := w.samplesWritten * uint32(w.numChannels) * uint32(w.bitsPerSample) / 8

	if _, err := w.dst.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.dst, binary.LittleEndian, dataSize+36); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}
	if _, err := w.dst.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.dst, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	w.dst = nil
	if w.closer != nil {
		err := w.closer.Close()
		w.closer = nil
		return err
	}
	return nil
}

// Encode wraps raw 16-bit PCM in a WAV container.
func Encode(pcm []byte, sampleRate uint32, numChannels uint16) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	// bytes.Buffer writes never fail
	_ = writeHeader(&buf, sampleRate, numChannels, 16, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func writeHeader(w io.Writer, sampleRate uint32, numChannels, bitsPerSample uint16, dataSize uint32) error {
	byteRate := sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8
	blockAlign := numChannels * bitsPerSample / 8

	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		dataSize + 36,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		numChannels,
		sampleRate,
		byteRate,
		blockAlign,
		bitsPerSample,
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}
