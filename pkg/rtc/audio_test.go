package rtc

import (
	"image"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestNewAudioFrame(t *testing.T) {
	tests := []struct {
		name        string
		sampleRate  int
		numChannels int
		dataLen     int
		wantErr     bool
	}{
		{"valid 48kHz mono", 48000, 1, 960, false},
		{"valid 16kHz mono", 16000, 1, 320, false},
		{"valid 48kHz stereo", 48000, 2, 1920, false},
		{"invalid data length", 48000, 1, 500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			frame, err := NewAudioFrame(make([]byte, tt.dataLen), tt.sampleRate, tt.numChannels, 100*time.Millisecond)
			if tt.wantErr {
				is.True(err != nil) // length mismatch must be rejected
				return
			}

			is.NoErr(err)
			is.Equal(frame.SamplesPerChannel, tt.sampleRate/100)
			is.Equal(frame.Timestamp, 100*time.Millisecond)
			is.Equal(frame.Duration(), FrameDuration)
		})
	}
}

func TestAudioFrameClone(t *testing.T) {
	is := is.New(t)

	data := make([]byte, 320)
	for i := range data {
		data[i] = byte(i % 256)
	}
	original, err := NewAudioFrame(data, 16000, 1, 50*time.Millisecond)
	is.NoErr(err)

	clone := original.Clone()
	is.Equal(clone.Data, original.Data) // clone content is identical
	clone.Data[0] = 255
	is.True(original.Data[0] != 255) // clone must not share memory
}

func TestJoinFrames(t *testing.T) {
	is := is.New(t)

	a := AudioFrame{Data: []byte{1, 2}, SampleRate: 16000, NumChannels: 1}
	b := AudioFrame{Data: []byte{3, 4}, SampleRate: 16000, NumChannels: 1}

	out, err := JoinFrames([]AudioFrame{a, b})
	is.NoErr(err)
	is.Equal(out, []byte{1, 2, 3, 4})

	out, err = JoinFrames(nil)
	is.NoErr(err)
	is.Equal(len(out), 0)

	_, err = JoinFrames([]AudioFrame{a, {Data: []byte{5, 6}, SampleRate: 48000, NumChannels: 1}})
	is.True(err != nil) // mixed sample rates cannot be joined
}

func TestVideoFrameEmpty(t *testing.T) {
	is := is.New(t)

	is.True(VideoFrame{}.Empty()) // no image yet

	zero := VideoFrame{Image: image.NewRGBA(image.Rect(0, 0, 0, 10))}
	is.True(zero.Empty()) // zero width counts as not warmed up

	ready := VideoFrame{Image: image.NewRGBA(image.Rect(0, 0, 4, 3))}
	is.True(!ready.Empty())
	is.Equal(ready.Width(), 4)
	is.Equal(ready.Height(), 3)
}
