package filter

import (
	"fmt"
	"image"
	"image/color"

	"greenscreen-camera/gpu"
)

// Kind tags the variant held by a filter slot
type Kind int

const (
	KindPassthrough Kind = iota
	KindChromaKey
)

func (k Kind) String() string {
	if k == KindChromaKey {
		return "chroma-key"
	}
	return "passthrough"
}

// Filter is a compiled program ready to draw an input texture
type Filter interface {
	Kind() Kind
	Program() gpu.Program
	Draw(input gpu.TextureID, geom gpu.Geometry) error
	Destroy(ctx gpu.Context)
}

// Passthrough draws the input unchanged
type Passthrough struct {
	program gpu.Program
}

// NewPassthrough compiles the identity program
func NewPassthrough(ctx gpu.Context) (*Passthrough, error) {
	p, err := ctx.CompileProgram(PassthroughSource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile passthrough program: %w", err)
	}
	return &Passthrough{program: p}, nil
}

func (p *Passthrough) Kind() Kind           { return KindPassthrough }
func (p *Passthrough) Program() gpu.Program { return p.program }

// Draw draws input through the identity program
func (p *Passthrough) Draw(input gpu.TextureID, geom gpu.Geometry) error {
	p.program.BindTexture(0, input)
	return p.program.Draw(geom)
}

// Destroy deletes the program
func (p *Passthrough) Destroy(gpu.Context) {
	p.program.Delete()
}

// ChromaKey composites the input over a background texture wherever the
// input is close to the key color.
type ChromaKey struct {
	program    gpu.Program
	background gpu.Texture
	smoothing  float32
}

// NewChromaKey compiles the chroma-key program and uploads its background.
// A nil background is replaced by a single texel of fallback color.
func NewChromaKey(ctx gpu.Context, params Parameters, background *image.RGBA, fallback color.RGBA, smoothing float32) (*ChromaKey, error) {
	p, err := ctx.CompileProgram(ChromaKeySource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chroma-key program: %w", err)
	}

	c := &ChromaKey{program: p, smoothing: smoothing}
	if err := c.ReplaceBackground(ctx, background, fallback); err != nil {
		p.Delete()
		return nil, err
	}
	c.SetParameters(params)
	return c, nil
}

func (c *ChromaKey) Kind() Kind           { return KindChromaKey }
func (c *ChromaKey) Program() gpu.Program { return c.program }

// Background returns the background texture
func (c *ChromaKey) Background() gpu.Texture {
	return c.background
}

// SetParameters updates the key color and threshold uniforms in place
func (c *ChromaKey) SetParameters(params Parameters) {
	col := params.EffectiveColor()
	c.program.SetVec3(uniformColor, [3]float32(col))
	c.program.SetFloat(uniformThreshold, params.EffectiveSensitivity())
	c.program.SetFloat(uniformSmoothing, c.smoothing)
}

// ReplaceBackground re-uploads the background texture, reusing the handle
func (c *ChromaKey) ReplaceBackground(ctx gpu.Context, background *image.RGBA, fallback color.RGBA) error {
	if background == nil {
		background = image.NewRGBA(image.Rect(0, 0, 1, 1))
		background.SetRGBA(0, 0, fallback)
	}
	id, err := ctx.UploadTexture(c.background.ID, background)
	if err != nil {
		return fmt.Errorf("failed to upload chroma background: %w", err)
	}
	c.background = gpu.Texture{ID: id, Width: background.Rect.Dx(), Height: background.Rect.Dy()}
	return nil
}

// Draw keys input against the background
func (c *ChromaKey) Draw(input gpu.TextureID, geom gpu.Geometry) error {
	c.program.BindTexture(0, input)
	c.program.BindTexture(1, c.background.ID)
	return c.program.Draw(geom)
}

// Destroy deletes the program and the background texture
func (c *ChromaKey) Destroy(ctx gpu.Context) {
	c.program.Delete()
	if c.background.Valid() {
		ctx.DeleteTexture(c.background.ID)
		c.background = gpu.Texture{}
	}
}
