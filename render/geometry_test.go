package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCoords(t *testing.T, want, got [8]float32) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5, "index %d: want %v got %v", i, want, got)
	}
}

func TestTextureCoords(t *testing.T) {
	tests := []struct {
		name string
		o    Orientation
		want [8]float32
	}{
		{"none", Orientation{}, textureNoRotation},
		{"rot90", Orientation{Rotation: Rotation90}, textureRotated90},
		{"rot180", Orientation{Rotation: Rotation180}, textureRotated180},
		{"rot270", Orientation{Rotation: Rotation270}, textureRotated270},
		{"flipH", Orientation{FlipH: true}, [8]float32{1, 1, 0, 1, 1, 0, 0, 0}},
		{"flipV", Orientation{FlipV: true}, [8]float32{0, 0, 1, 0, 0, 1, 1, 1}},
		{"flipBoth", Orientation{FlipH: true, FlipV: true}, textureRotated180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCoords(t, tt.want, TextureCoords(tt.o))
		})
	}
}

func TestComputeGeometryMatchingAspect(t *testing.T) {
	g := ComputeGeometry(640, 480, 1280, 960, Orientation{}, ScaleCenterCrop)
	assertCoords(t, cube, g.Positions)
	assertCoords(t, textureNoRotation, g.TexCoords)
	assertCoords(t, textureNoRotation, g.TexCoords2)
}

func TestComputeGeometryCenterCrop(t *testing.T) {
	// a 4:3 frame on a square output loses 1/8 on each side
	g := ComputeGeometry(640, 480, 480, 480, Orientation{}, ScaleCenterCrop)
	assertCoords(t, cube, g.Positions)
	assertCoords(t, [8]float32{0.125, 1, 0.875, 1, 0.125, 0, 0.875, 0}, g.TexCoords)
}

func TestComputeGeometryCenterCropVertical(t *testing.T) {
	// a square frame on a 2:1 output loses 1/4 top and bottom
	g := ComputeGeometry(100, 100, 200, 100, Orientation{}, ScaleCenterCrop)
	assertCoords(t, [8]float32{0, 0.75, 1, 0.75, 0, 0.25, 1, 0.25}, g.TexCoords)
}

func TestComputeGeometryRotationSwapsOutput(t *testing.T) {
	// a portrait sensor frame shown rotated on a landscape output needs no crop
	g := ComputeGeometry(480, 640, 640, 480, Orientation{Rotation: Rotation90}, ScaleCenterCrop)
	assertCoords(t, textureRotated90, g.TexCoords)

	// without rotation the same frame is cropped
	g = ComputeGeometry(480, 640, 640, 480, Orientation{}, ScaleCenterCrop)
	assert.NotEqual(t, textureNoRotation, g.TexCoords)
}

func TestComputeGeometryCenterInside(t *testing.T) {
	g := ComputeGeometry(640, 480, 480, 480, Orientation{}, ScaleCenterInside)
	assertCoords(t, [8]float32{-1, -0.75, 1, -0.75, -1, 0.75, 1, 0.75}, g.Positions)
	assertCoords(t, textureNoRotation, g.TexCoords)
}

func TestComputeGeometryDegenerate(t *testing.T) {
	g := ComputeGeometry(0, 0, 640, 480, Orientation{}, ScaleCenterCrop)
	assert.Equal(t, FullQuad(), g)
}

func TestGeometryCache(t *testing.T) {
	var c GeometryCache
	a := c.Get(640, 480, 480, 480, Orientation{}, ScaleCenterCrop)
	b := c.Get(640, 480, 480, 480, Orientation{}, ScaleCenterCrop)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(1), c.Recomputes())

	c.Get(640, 480, 640, 480, Orientation{}, ScaleCenterCrop)
	c.Get(640, 480, 640, 480, Orientation{FlipH: true}, ScaleCenterCrop)
	c.Get(320, 240, 640, 480, Orientation{FlipH: true}, ScaleCenterCrop)
	assert.Equal(t, uint64(4), c.Recomputes())
}

func TestParseRotationAndScale(t *testing.T) {
	r, err := ParseRotation(270)
	require.NoError(t, err)
	assert.Equal(t, Rotation270, r)
	_, err = ParseRotation(45)
	assert.Error(t, err)

	s, err := ParseScaleType("center_inside")
	require.NoError(t, err)
	assert.Equal(t, ScaleCenterInside, s)
	s, err = ParseScaleType("")
	require.NoError(t, err)
	assert.Equal(t, ScaleCenterCrop, s)
	_, err = ParseScaleType("stretch")
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from  Mode
		ready bool
		want  Mode
	}{
		{ModePresentingToDisplay, false, ModePresentingToDisplay},
		{ModePresentingToDisplay, true, ModeRenderingOffscreenCapture},
		{ModeRenderingOffscreenCapture, false, ModePresentingToDisplay},
		{ModeRenderingOffscreenCapture, true, ModePresentingToDisplay},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Transition(tt.from, tt.ready), "%s ready=%v", tt.from, tt.ready)
	}
}
