package rtc

import (
	"image"
	"time"
)

// VideoFrame is a single still captured from a camera surface.
// Image is nil until the sensor has produced its first picture.
type VideoFrame struct {
	Image     image.Image
	Timestamp time.Duration
}

// Width of the captured surface, 0 when the sensor is not warmed up.
func (f VideoFrame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height of the captured surface, 0 when the sensor is not warmed up.
func (f VideoFrame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Empty reports whether the frame has zero dimensions and must not be encoded.
func (f VideoFrame) Empty() bool {
	return f.Width() == 0 || f.Height() == 0
}
