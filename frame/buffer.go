package frame

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBufferTooSmall is returned when a pixel buffer holds fewer bytes than its format requires
	ErrBufferTooSmall = errors.New("pixel buffer too small")
	// ErrInvalidDimensions is returned for non-positive frame sizes
	ErrInvalidDimensions = errors.New("invalid frame dimensions")
	// ErrUnsupportedFormat is returned for unknown pixel formats
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// PixelFormat identifies the memory layout of a PixelBuffer
type PixelFormat int

const (
	// FormatRGBA is interleaved 8-bit RGBA, 4 bytes per pixel
	FormatRGBA PixelFormat = iota
	// FormatNV21 is a full Y plane followed by interleaved V/U at quarter resolution
	FormatNV21
	// FormatNV12 is a full Y plane followed by interleaved U/V at quarter resolution
	FormatNV12
	// FormatI420 is a full Y plane followed by separate U and V planes
	FormatI420
)

// String returns the lower-case format name
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA:
		return "rgba"
	case FormatNV21:
		return "nv21"
	case FormatNV12:
		return "nv12"
	case FormatI420:
		return "i420"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat converts a config string into a PixelFormat
func ParseFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgba":
		return FormatRGBA, nil
	case "nv21":
		return FormatNV21, nil
	case "nv12":
		return FormatNV12, nil
	case "i420", "yuv420p":
		return FormatI420, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// PixelBuffer is one captured frame. It is not modified after it is produced;
// ownership passes to whichever stage receives it.
type PixelBuffer struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

// chromaSize returns the dimensions of a 4:2:0 chroma plane
func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// RequiredSize returns the minimum byte length of a buffer in the given format
func RequiredSize(format PixelFormat, width, height int) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	cw, ch := chromaSize(width, height)
	switch format {
	case FormatRGBA:
		return width * height * 4, nil
	case FormatNV21, FormatNV12, FormatI420:
		return width*height + 2*cw*ch, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
}

// Validate checks the buffer dimensions and length against its format
func (b PixelBuffer) Validate() error {
	need, err := RequiredSize(b.Format, b.Width, b.Height)
	if err != nil {
		return err
	}
	if len(b.Data) < need {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d",
			ErrBufferTooSmall, b.Format, b.Width, b.Height, need, len(b.Data))
	}
	return nil
}
