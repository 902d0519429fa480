// Package asset resolves and prepares background images for the chroma-key filter.
package asset

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	// Registered decoders for background files
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotAvailable is returned when a background cannot be resolved. Callers
// fall back to a solid color.
var ErrNotAvailable = errors.New("background not available")

// Resolver turns a background reference into decoded pixels
type Resolver interface {
	Resolve(path string) (image.Image, error)
}

// FileResolver decodes backgrounds from the local filesystem
type FileResolver struct {
	// Dir confines lookups when set: paths must be relative and stay under it
	Dir string
	// MaxPixels caps the decoded area; <= 0 uses DefaultMaxPixels
	MaxPixels int
}

// Resolve opens and decodes path. Every failure wraps ErrNotAvailable.
func (r FileResolver) Resolve(path string) (image.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotAvailable)
	}
	full := path
	if r.Dir != "" {
		if !filepath.IsLocal(path) {
			return nil, fmt.Errorf("%w: %q is not inside %s", ErrNotAvailable, path, r.Dir)
		}
		full = filepath.Join(r.Dir, path)
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer f.Close()

	img, _, err := Decode(f, r.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrNotAvailable, full, err)
	}
	return img, nil
}

// MemoryResolver serves images registered in memory. It is used by the
// one-shot CLI and tests.
type MemoryResolver struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewMemoryResolver creates an empty resolver
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{images: make(map[string]image.Image)}
}

// Add registers img under path
func (m *MemoryResolver) Add(path string, img image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = img
}

// Resolve returns the image registered under path
func (m *MemoryResolver) Resolve(path string) (image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotAvailable, path)
	}
	return img, nil
}

// Solid returns a w x h image filled with c
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}
