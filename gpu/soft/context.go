// Package soft is a CPU rasterizer implementing gpu.Context. It needs no
// display server and is the default backend on headless devices and in tests.
package soft

import (
	"fmt"
	"image"

	"greenscreen-camera/gpu"

	"go.uber.org/zap"
)

// BackendName is the name the software backend registers under
const BackendName = "software"

func init() {
	gpu.Register(BackendName, func(opts gpu.Options) (gpu.Context, error) {
		return New(opts)
	})
}

// Context rasterizes into in-memory RGBA surfaces
type Context struct {
	logger *zap.Logger
	sink   gpu.DisplaySink

	display   *image.RGBA
	offscreen *image.RGBA
	current   gpu.Target

	textures map[gpu.TextureID]*image.RGBA
	nextID   gpu.TextureID
	programs map[*program]struct{}

	released bool
	counters gpu.Counters
}

// New creates a software context with a display surface of the requested size
func New(opts gpu.Options) (*Context, error) {
	if opts.DisplayWidth <= 0 || opts.DisplayHeight <= 0 {
		return nil, fmt.Errorf("%w: display size %dx%d", gpu.ErrSurfaceInit, opts.DisplayWidth, opts.DisplayHeight)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Context{
		logger:   logger.With(zap.String("backend", BackendName)),
		sink:     opts.Sink,
		display:  image.NewRGBA(image.Rect(0, 0, opts.DisplayWidth, opts.DisplayHeight)),
		current:  gpu.TargetDisplay,
		textures: make(map[gpu.TextureID]*image.RGBA),
		nextID:   1,
		programs: make(map[*program]struct{}),
	}

	c.logger.Info("Software GPU context created",
		zap.Int("width", opts.DisplayWidth),
		zap.Int("height", opts.DisplayHeight))

	return c, nil
}

func (c *Context) target() *image.RGBA {
	if c.current == gpu.TargetOffscreen {
		return c.offscreen
	}
	return c.display
}

// MakeCurrent selects the target for subsequent draws
func (c *Context) MakeCurrent(target gpu.Target) error {
	if c.released {
		return gpu.ErrContextLost
	}
	if target == gpu.TargetOffscreen && c.offscreen == nil {
		return fmt.Errorf("%w: offscreen target has no size", gpu.ErrSurfaceInit)
	}
	c.current = target
	return nil
}

// SetOffscreenSize allocates the offscreen surface, reusing it when the size is unchanged
func (c *Context) SetOffscreenSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: offscreen size %dx%d", gpu.ErrSurfaceInit, width, height)
	}
	if c.offscreen != nil && c.offscreen.Rect.Dx() == width && c.offscreen.Rect.Dy() == height {
		return nil
	}
	c.offscreen = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// ResizeDisplay reallocates the display surface
func (c *Context) ResizeDisplay(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: display size %dx%d", gpu.ErrSurfaceInit, width, height)
	}
	if c.display.Rect.Dx() == width && c.display.Rect.Dy() == height {
		return nil
	}
	c.display = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// TargetSize returns the current target dimensions
func (c *Context) TargetSize() (int, int) {
	t := c.target()
	if t == nil {
		return 0, 0
	}
	return t.Rect.Dx(), t.Rect.Dy()
}

// Clear fills the current target with one color
func (c *Context) Clear(r, g, b, a float32) {
	t := c.target()
	if t == nil {
		return
	}
	px := [4]uint8{toByte(r), toByte(g), toByte(b), toByte(a)}
	for i := 0; i < len(t.Pix); i += 4 {
		copy(t.Pix[i:i+4], px[:])
	}
}

// UploadTexture copies img into a texture, allocating one for gpu.NoTexture
func (c *Context) UploadTexture(id gpu.TextureID, img *image.RGBA) (gpu.TextureID, error) {
	if img == nil {
		return id, fmt.Errorf("upload: nil image")
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()

	if id == gpu.NoTexture {
		id = c.nextID
		c.nextID++
		c.counters.TextureCreated()
	} else if _, ok := c.textures[id]; !ok {
		return id, fmt.Errorf("%w: %d", gpu.ErrInvalidTexture, id)
	}

	tex := c.textures[id]
	if tex == nil || tex.Rect.Dx() != w || tex.Rect.Dy() != h {
		tex = image.NewRGBA(image.Rect(0, 0, w, h))
		c.textures[id] = tex
	}
	for y := 0; y < h; y++ {
		srcOff := y * img.Stride
		copy(tex.Pix[y*tex.Stride:y*tex.Stride+w*4], img.Pix[srcOff:srcOff+w*4])
	}
	c.counters.TextureUploaded()
	return id, nil
}

// DeleteTexture frees a texture. Unknown IDs are ignored.
func (c *Context) DeleteTexture(id gpu.TextureID) {
	if _, ok := c.textures[id]; !ok {
		return
	}
	delete(c.textures, id)
	c.counters.TextureDeleted()
}

// ReadPixels copies the current target
func (c *Context) ReadPixels() (*image.RGBA, error) {
	t := c.target()
	if t == nil {
		return nil, fmt.Errorf("%w: no current target", gpu.ErrSurfaceInit)
	}
	out := image.NewRGBA(t.Rect)
	copy(out.Pix, t.Pix)
	c.counters.ReadBack()
	return out, nil
}

// Present hands the display surface to the sink
func (c *Context) Present() error {
	if c.released {
		return gpu.ErrContextLost
	}
	if c.sink != nil {
		c.sink(c.display)
	}
	c.counters.Presented()
	return nil
}

// Stats returns the context counters
func (c *Context) Stats() gpu.Stats {
	return c.counters.Snapshot()
}

// Release frees every texture and program still owned by the context
func (c *Context) Release() error {
	if c.released {
		return nil
	}
	for p := range c.programs {
		p.Delete()
	}
	for id := range c.textures {
		c.DeleteTexture(id)
	}
	c.display = nil
	c.offscreen = nil
	c.released = true
	c.logger.Info("Software GPU context released")
	return nil
}

func toByte(f float32) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f*255 + 0.5)
}
