package frame

import (
	"fmt"
	"image"
	"runtime"
	"sync"
)

// rowsPerWorker is the smallest band of rows worth handing to a goroutine
const rowsPerWorker = 64

// Decode converts src into interleaved RGBA inside dst. dst must be exactly
// src.Width x src.Height; the caller owns it (typically a pooled image).
func Decode(src PixelBuffer, dst *image.RGBA) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if dst == nil || dst.Rect.Dx() != src.Width || dst.Rect.Dy() != src.Height {
		return fmt.Errorf("%w: destination does not match %dx%d", ErrInvalidDimensions, src.Width, src.Height)
	}

	switch src.Format {
	case FormatRGBA:
		rowBytes := src.Width * 4
		for y := 0; y < src.Height; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowBytes], src.Data[y*rowBytes:(y+1)*rowBytes])
		}
		return nil
	case FormatNV21, FormatNV12, FormatI420:
		parallelRows(src.Height, func(y0, y1 int) {
			decodeYUVRows(src, dst, y0, y1)
		})
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, src.Format)
}

// DecodeImage allocates a new RGBA image and decodes src into it
func DecodeImage(src PixelBuffer) (*image.RGBA, error) {
	if src.Width <= 0 || src.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, src.Width, src.Height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	if err := Decode(src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// parallelRows splits [0,height) into bands and runs fn on each band concurrently
func parallelRows(height int, fn func(y0, y1 int)) {
	workers := runtime.NumCPU()
	if max := height / rowsPerWorker; workers > max {
		workers = max
	}
	if workers <= 1 {
		fn(0, height)
		return
	}

	chunk := height / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		y0 := i * chunk
		y1 := y0 + chunk
		if i == workers-1 {
			y1 = height
		}
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}

func decodeYUVRows(src PixelBuffer, dst *image.RGBA, y0, y1 int) {
	w, h := src.Width, src.Height
	cw, ch := chromaSize(w, h)
	frameSize := w * h
	data := src.Data

	for y := y0; y < y1; y++ {
		out := dst.Pix[y*dst.Stride:]
		cy := y >> 1
		for x := 0; x < w; x++ {
			lum := int(data[y*w+x])
			cx := x >> 1

			var u, v int
			switch src.Format {
			case FormatNV21:
				off := frameSize + cy*cw*2 + cx*2
				v, u = int(data[off]), int(data[off+1])
			case FormatNV12:
				off := frameSize + cy*cw*2 + cx*2
				u, v = int(data[off]), int(data[off+1])
			default:
				u = int(data[frameSize+cy*cw+cx])
				v = int(data[frameSize+cw*ch+cy*cw+cx])
			}

			r, g, b := YUVToRGB(lum, u, v)
			i := x * 4
			out[i] = r
			out[i+1] = g
			out[i+2] = b
			out[i+3] = 0xff
		}
	}
}

// YUVToRGB converts one BT.601 video-range sample using 10-bit fixed point
func YUVToRGB(y, u, v int) (uint8, uint8, uint8) {
	y -= 16
	if y < 0 {
		y = 0
	}
	u -= 128
	v -= 128

	y1192 := 1192 * y
	r := y1192 + 1634*v
	g := y1192 - 833*v - 400*u
	b := y1192 + 2066*u

	return clamp18(r), clamp18(g), clamp18(b)
}

func clamp18(c int) uint8 {
	if c < 0 {
		c = 0
	} else if c > 262143 {
		c = 262143
	}
	return uint8(c >> 10)
}

// RGBToYUV is the inverse BT.601 video-range transform. It is used to synthesize
// test frames and is not bit-exact with YUVToRGB.
func RGBToYUV(r, g, b uint8) (uint8, uint8, uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	y := 16 + 0.257*rf + 0.504*gf + 0.098*bf
	u := 128 - 0.148*rf - 0.291*gf + 0.439*bf
	v := 128 + 0.439*rf - 0.368*gf - 0.071*bf
	return clamp8(y), clamp8(u), clamp8(v)
}

func clamp8(f float64) uint8 {
	f += 0.5
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}
