// Package format defines pixel formats, frame geometry and stream descriptions
// used to negotiate conversion pipelines with hardware devices.
package format

import (
	"fmt"

	"github.com/makewise-vision/libcamera-raspberrypi/errors"
)

// PixelFormat is a fourcc-style pixel format identifier. Two formats compare
// equal exactly when their fourcc codes match; the zero value is "no format".
type PixelFormat uint32

// FourCC builds a PixelFormat from a four character code.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Common pixel formats supported by memory-to-memory converters.
var (
	YUYV   = FourCC('Y', 'U', 'Y', 'V')
	NV12   = FourCC('N', 'V', '1', '2')
	NV21   = FourCC('N', 'V', '2', '1')
	I420   = FourCC('Y', 'U', '1', '2')
	RGB24  = FourCC('R', 'G', 'B', '3')
	BGR24  = FourCC('B', 'G', 'R', '3')
	MJPEG  = FourCC('M', 'J', 'P', 'G')
	RGB565 = FourCC('R', 'G', 'B', 'P')
)

// ParsePixelFormat builds a PixelFormat from its string form (e.g. "NV12").
func ParsePixelFormat(s string) (PixelFormat, error) {
	if len(s) != 4 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("fourcc %q must be exactly 4 characters", s),
			"PixelFormat", "ParsePixelFormat", "fourcc parsing")
	}
	return FourCC(s[0], s[1], s[2], s[3]), nil
}

// String returns the four character code of the format.
func (f PixelFormat) String() string {
	if f == 0 {
		return "<none>"
	}
	return string([]byte{
		byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24),
	})
}

// IsValid reports whether the format carries a fourcc code.
func (f PixelFormat) IsValid() bool {
	return f != 0
}

// Size holds frame dimensions in pixels.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// String returns the size as "WxH".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether both dimensions are zero.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// SizeRange describes the minimum and maximum frame sizes a device can
// produce for a given input size.
type SizeRange struct {
	Min Size
	Max Size
}

// DeviceFormat is the mutable format record exchanged with a device during
// negotiation. The device layer updates it in place to reflect what the
// hardware actually accepted, which may differ from the request.
type DeviceFormat struct {
	Fourcc    PixelFormat
	Size      Size
	Stride    int
	PlaneSize int
}

// String returns a compact description for logging.
func (df DeviceFormat) String() string {
	return fmt.Sprintf("%s/%s stride=%d", df.Size, df.Fourcc, df.Stride)
}

// StreamDescription is the immutable per-configuration record for one stream:
// pixel format, dimensions, row stride and how many buffers the stream needs.
// It is set once during configuration and not mutated afterwards.
type StreamDescription struct {
	PixelFormat PixelFormat
	Size        Size
	Stride      int
	BufferCount int
}

// Validate checks the description is complete enough to configure a device.
func (sd StreamDescription) Validate() error {
	if !sd.PixelFormat.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"StreamDescription", "Validate", "pixel format check")
	}
	if sd.Size.Width <= 0 || sd.Size.Height <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("size %s must be positive", sd.Size),
			"StreamDescription", "Validate", "size check")
	}
	if sd.BufferCount <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("buffer count %d must be positive", sd.BufferCount),
			"StreamDescription", "Validate", "buffer count check")
	}
	return nil
}

// String returns a compact description for logging.
func (sd StreamDescription) String() string {
	return fmt.Sprintf("%s/%s stride=%d buffers=%d",
		sd.Size, sd.PixelFormat, sd.Stride, sd.BufferCount)
}
