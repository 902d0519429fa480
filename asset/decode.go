package asset

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// DefaultMaxPixels bounds the decoded area when no limit is configured
const DefaultMaxPixels = 16_000_000

// ErrTooLarge is returned when an image header declares more pixels than allowed
var ErrTooLarge = errors.New("image too large")

// Decode reads the image header first and refuses anything larger than
// maxPixels before the decoder allocates pixel memory. maxPixels <= 0 uses
// DefaultMaxPixels.
func Decode(r io.ReadSeeker, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, "", err
	}
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, "", err
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, format, fmt.Errorf("%w: %s %dx%d exceeds %d pixels",
			ErrTooLarge, format, cfg.Width, cfg.Height, maxPixels)
	}

	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, format, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, format, err
	}
	return img, format, nil
}
