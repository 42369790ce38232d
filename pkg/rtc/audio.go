package rtc

import (
	"fmt"
	"time"
)

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset from the start of
// the capture.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 48 000, 44 100 or 16 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// FrameDuration is the fixed length of one AudioFrame.
const FrameDuration = 10 * time.Millisecond

// NewAudioFrame creates a new AudioFrame with the specified parameters.
// Returns an error if the data length doesn't match the expected size for 10ms of audio.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return FrameDuration
}

// JoinFrames concatenates the PCM payload of consecutive frames into one
// time slice. Frames must share sample rate and channel count.
func JoinFrames(frames []AudioFrame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	rate, channels := frames[0].SampleRate, frames[0].NumChannels
	size := 0
	for i := range frames {
		if frames[i].SampleRate != rate || frames[i].NumChannels != channels {
			return nil, fmt.Errorf("frame %d format mismatch: %dHz/%dch, want %dHz/%dch",
				i, frames[i].SampleRate, frames[i].NumChannels, rate, channels)
		}
		size += len(frames[i].Data)
	}

	out := make([]byte, 0, size)
	for i := range frames {
		out = append(out, frames[i].Data...)
	}
	return out, nil
}
