package render

import (
	"fmt"
	"math"

	"greenscreen-camera/gpu"
)

// Rotation is a clockwise quarter-turn applied to the input texture
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// ParseRotation accepts 0, 90, 180 and 270
func ParseRotation(deg int) (Rotation, error) {
	switch Rotation(deg) {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return Rotation(deg), nil
	}
	return Rotation0, fmt.Errorf("unsupported rotation %d", deg)
}

// ScaleType decides how an image is fitted to the output aspect ratio
type ScaleType int

const (
	// ScaleCenterCrop fills the output and crops the overflow
	ScaleCenterCrop ScaleType = iota
	// ScaleCenterInside fits the whole image and leaves bars
	ScaleCenterInside
)

// ParseScaleType maps config names onto scale types
func ParseScaleType(s string) (ScaleType, error) {
	switch s {
	case "", "center_crop":
		return ScaleCenterCrop, nil
	case "center_inside":
		return ScaleCenterInside, nil
	}
	return ScaleCenterCrop, fmt.Errorf("unsupported scale type %q", s)
}

// Orientation is the texture-coordinate transform for the preview
type Orientation struct {
	Rotation Rotation
	FlipH    bool
	FlipV    bool
}

var (
	cube = [8]float32{
		-1, -1,
		1, -1,
		-1, 1,
		1, 1,
	}

	textureNoRotation = [8]float32{
		0, 1,
		1, 1,
		0, 0,
		1, 0,
	}
	textureRotated90 = [8]float32{
		1, 1,
		1, 0,
		0, 1,
		0, 0,
	}
	textureRotated180 = [8]float32{
		1, 0,
		0, 0,
		1, 1,
		0, 1,
	}
	textureRotated270 = [8]float32{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
	}
)

// TextureCoords returns the strip coordinates for o
func TextureCoords(o Orientation) [8]float32 {
	var tc [8]float32
	switch o.Rotation {
	case Rotation90:
		tc = textureRotated90
	case Rotation180:
		tc = textureRotated180
	case Rotation270:
		tc = textureRotated270
	default:
		tc = textureNoRotation
	}
	if o.FlipH {
		for i := 0; i < 8; i += 2 {
			tc[i] = 1 - tc[i]
		}
	}
	if o.FlipV {
		for i := 1; i < 8; i += 2 {
			tc[i] = 1 - tc[i]
		}
	}
	return tc
}

// FullQuad covers the whole target with the unrotated image
func FullQuad() gpu.Geometry {
	return gpu.Geometry{
		Positions:  cube,
		TexCoords:  textureNoRotation,
		TexCoords2: textureNoRotation,
	}
}

// ComputeGeometry fits an imgW x imgH texture onto an outW x outH target.
// For 90 and 270 degree rotations the output is measured sideways.
func ComputeGeometry(imgW, imgH, outW, outH int, o Orientation, st ScaleType) gpu.Geometry {
	g := FullQuad()
	g.TexCoords = TextureCoords(o)
	if imgW <= 0 || imgH <= 0 || outW <= 0 || outH <= 0 {
		return g
	}

	ow, oh := float64(outW), float64(outH)
	if o.Rotation == Rotation90 || o.Rotation == Rotation270 {
		ow, oh = oh, ow
	}

	ratioMax := math.Max(ow/float64(imgW), oh/float64(imgH))
	newW := math.Round(float64(imgW) * ratioMax)
	newH := math.Round(float64(imgH) * ratioMax)
	ratioW := float32(newW / ow)
	ratioH := float32(newH / oh)

	if st == ScaleCenterInside {
		for i := 0; i < 8; i += 2 {
			g.Positions[i] = cube[i] / ratioH
			g.Positions[i+1] = cube[i+1] / ratioW
		}
		return g
	}

	distH := (1 - 1/ratioW) / 2
	distV := (1 - 1/ratioH) / 2
	for i := 0; i < 8; i += 2 {
		g.TexCoords[i] = addDistance(g.TexCoords[i], distH)
		g.TexCoords[i+1] = addDistance(g.TexCoords[i+1], distV)
	}
	return g
}

func addDistance(coord, dist float32) float32 {
	if coord == 0 {
		return dist
	}
	return 1 - dist
}

type geometryKey struct {
	imgW, imgH int
	outW, outH int
	o          Orientation
	st         ScaleType
}

// GeometryCache recomputes the preview geometry only when one of its inputs
// changes. It is owned by the render goroutine.
type GeometryCache struct {
	key        geometryKey
	geom       gpu.Geometry
	valid      bool
	recomputes uint64
}

// Get returns the geometry for the given inputs
func (c *GeometryCache) Get(imgW, imgH, outW, outH int, o Orientation, st ScaleType) gpu.Geometry {
	k := geometryKey{imgW, imgH, outW, outH, o, st}
	if c.valid && c.key == k {
		return c.geom
	}
	c.key = k
	c.geom = ComputeGeometry(imgW, imgH, outW, outH, o, st)
	c.valid = true
	c.recomputes++
	return c.geom
}

// Recomputes returns how many times the geometry has been rebuilt
func (c *GeometryCache) Recomputes() uint64 {
	return c.recomputes
}
