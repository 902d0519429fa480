package frame

import (
	"fmt"
	"image"
)

// Plane is one strided plane of a camera image
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// PackNV21 copies the Y, U and V planes of a 4:2:0 camera image into a tight
// NV21 buffer, honoring per-plane row and pixel strides. crop selects the
// visible region; an empty crop means the full width x height.
func PackNV21(y, u, v Plane, width, height int, crop image.Rectangle) (PixelBuffer, error) {
	if crop.Empty() {
		crop = image.Rect(0, 0, width, height)
	}
	w, h := crop.Dx(), crop.Dy()
	if w <= 0 || h <= 0 {
		return PixelBuffer{}, fmt.Errorf("%w: crop %v", ErrInvalidDimensions, crop)
	}
	cw, ch := chromaSize(w, h)

	data := make([]byte, w*h+2*cw*ch)

	planes := []struct {
		plane  Plane
		offset int
		step   int
		shift  uint
	}{
		{y, 0, 1, 0},
		{v, w * h, 2, 1},
		{u, w*h + 1, 2, 1},
	}

	for i, p := range planes {
		pw, ph := w, h
		if p.shift > 0 {
			pw, ph = cw, ch
		}
		ps := p.plane.PixelStride
		if ps <= 0 {
			ps = 1
		}
		start := p.plane.RowStride*(crop.Min.Y>>p.shift) + ps*(crop.Min.X>>p.shift)
		last := start + p.plane.RowStride*(ph-1) + (pw-1)*ps
		if last >= len(p.plane.Data) {
			return PixelBuffer{}, fmt.Errorf("%w: plane %d needs %d bytes, got %d",
				ErrBufferTooSmall, i, last+1, len(p.plane.Data))
		}

		out := p.offset
		for row := 0; row < ph; row++ {
			src := p.plane.Data[start+row*p.plane.RowStride:]
			if ps == 1 && p.step == 1 {
				copy(data[out:out+pw], src[:pw])
				out += pw
				continue
			}
			for col := 0; col < pw; col++ {
				data[out] = src[col*ps]
				out += p.step
			}
		}
	}

	return PixelBuffer{Data: data, Width: w, Height: h, Format: FormatNV21}, nil
}

// EncodeYUV converts an RGBA image into a 4:2:0 buffer of the requested
// format. Chroma is taken from the top-left pixel of each 2x2 block.
func EncodeYUV(img *image.RGBA, format PixelFormat) (PixelBuffer, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	size, err := RequiredSize(format, w, h)
	if err != nil {
		return PixelBuffer{}, err
	}
	if format == FormatRGBA {
		data := make([]byte, size)
		for row := 0; row < h; row++ {
			copy(data[row*w*4:(row+1)*w*4], img.Pix[row*img.Stride:row*img.Stride+w*4])
		}
		return PixelBuffer{Data: data, Width: w, Height: h, Format: format}, nil
	}

	cw, ch := chromaSize(w, h)
	data := make([]byte, size)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			px := img.Pix[row*img.Stride+col*4:]
			yy, u, v := RGBToYUV(px[0], px[1], px[2])
			data[row*w+col] = yy
			if row&1 != 0 || col&1 != 0 {
				continue
			}
			cy, cx := row>>1, col>>1
			switch format {
			case FormatNV21:
				data[w*h+cy*cw*2+cx*2] = v
				data[w*h+cy*cw*2+cx*2+1] = u
			case FormatNV12:
				data[w*h+cy*cw*2+cx*2] = u
				data[w*h+cy*cw*2+cx*2+1] = v
			case FormatI420:
				data[w*h+cy*cw+cx] = u
				data[w*h+cw*ch+cy*cw+cx] = v
			}
		}
	}
	return PixelBuffer{Data: data, Width: w, Height: h, Format: format}, nil
}
