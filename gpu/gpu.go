// Package gpu defines the graphics context used by the render goroutine.
//
// A Context is bound to the goroutine that opened it. Every method must be
// called from that goroutine; nothing in this package is safe for concurrent
// use. Backends register themselves by name and are selected from config.
package gpu

import (
	"errors"
	"image"

	"go.uber.org/zap"
)

var (
	// ErrContextInit is returned when a backend cannot create its context
	ErrContextInit = errors.New("gpu context initialization failed")
	// ErrSurfaceInit is returned when a render target cannot be created
	ErrSurfaceInit = errors.New("gpu surface initialization failed")
	// ErrContextLost is returned when a target can no longer be made current
	ErrContextLost = errors.New("gpu context lost")
	// ErrUnknownBackend is returned by Open for unregistered names
	ErrUnknownBackend = errors.New("unknown gpu backend")
	// ErrInvalidTexture is returned for texture IDs the context does not own
	ErrInvalidTexture = errors.New("invalid texture")
	// ErrProgramDeleted is returned when drawing with a deleted program
	ErrProgramDeleted = errors.New("program deleted")
)

// TextureID names a texture owned by a Context
type TextureID uint32

// NoTexture is the zero handle; uploading to it allocates a new texture
const NoTexture TextureID = 0

// Texture is a handle plus the dimensions it was last allocated with
type Texture struct {
	ID     TextureID
	Width  int
	Height int
}

// Valid reports whether the texture has been allocated
func (t Texture) Valid() bool {
	return t.ID != NoTexture
}

// Target selects where draws land
type Target int

const (
	// TargetDisplay is the on-screen surface
	TargetDisplay Target = iota
	// TargetOffscreen is the still-capture surface
	TargetOffscreen
)

func (t Target) String() string {
	if t == TargetOffscreen {
		return "offscreen"
	}
	return "display"
}

// Geometry is a four-vertex triangle strip in BL, BR, TL, TR order.
// TexCoords address the input texture on unit 0; TexCoords2 address the
// secondary texture on unit 1.
type Geometry struct {
	Positions  [8]float32
	TexCoords  [8]float32
	TexCoords2 [8]float32
}

// DisplaySink receives each presented display frame. The image is only
// valid for the duration of the call.
type DisplaySink func(frame *image.RGBA)

// Options configures a backend when it is opened
type Options struct {
	DisplayWidth  int
	DisplayHeight int
	Title         string
	Visible       bool
	Sink          DisplaySink
	Logger        *zap.Logger
}

// Program is a linked shader program
type Program interface {
	Name() string
	SetFloat(name string, v float32)
	SetVec3(name string, v [3]float32)
	BindTexture(unit int, id TextureID)
	Draw(geom Geometry) error
	Delete()
}

// Context is a graphics context together with its display and offscreen targets
type Context interface {
	// MakeCurrent directs subsequent draws at target
	MakeCurrent(target Target) error
	// SetOffscreenSize (re)allocates the offscreen target
	SetOffscreenSize(width, height int) error
	// ResizeDisplay changes the display target size
	ResizeDisplay(width, height int) error
	// TargetSize returns the dimensions of the current target
	TargetSize() (int, int)
	Clear(r, g, b, a float32)
	// UploadTexture copies img into texture id, allocating when id is
	// NoTexture. The returned ID replaces id.
	UploadTexture(id TextureID, img *image.RGBA) (TextureID, error)
	DeleteTexture(id TextureID)
	CompileProgram(src ProgramSource) (Program, error)
	// ReadPixels copies the current target, top row first
	ReadPixels() (*image.RGBA, error)
	// Present publishes the display target
	Present() error
	Stats() Stats
	Release() error
}
