package asset

import (
	"image"

	"golang.org/x/image/draw"
)

// Orientation selects how a background is laid onto the output
type Orientation int

const (
	Landscape Orientation = iota
	Portrait
)

// Prepare scales src to cover a w x h output and center-crops the overflow.
// For Portrait the crop is taken at h x w and rotated a quarter turn
// counter-clockwise, matching a sensor mounted sideways.
func Prepare(src image.Image, w, h int, o Orientation) *image.RGBA {
	if w <= 0 || h <= 0 || src == nil || src.Bounds().Empty() {
		return nil
	}
	if o == Portrait {
		return rotateCCW(cover(src, h, w))
	}
	return cover(src, w, h)
}

func cover(src image.Image, w, h int) *image.RGBA {
	b := src.Bounds()
	sw, sh := float64(b.Dx()), float64(b.Dy())
	scale := float64(w) / sw
	if s := float64(h) / sh; s > scale {
		scale = s
	}

	cw := int(float64(w)/scale + 0.5)
	ch := int(float64(h)/scale + 0.5)
	if cw > b.Dx() {
		cw = b.Dx()
	}
	if ch > b.Dy() {
		ch = b.Dy()
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	x0 := b.Min.X + (b.Dx()-cw)/2
	y0 := b.Min.Y + (b.Dy()-ch)/2
	crop := image.Rect(x0, y0, x0+cw, y0+ch)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if crop.Dx() == w && crop.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

func rotateCCW(src *image.RGBA) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, sh, sw))
	for y := 0; y < sw; y++ {
		for x := 0; x < sh; x++ {
			si := x*src.Stride + (sw-1-y)*4
			di := y*dst.Stride + x*4
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
