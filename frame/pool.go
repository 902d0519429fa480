package frame

import (
	"image"
	"sync"
	"sync/atomic"
)

// Pool recycles decoded RGBA images of one fixed size
type Pool struct {
	width  int
	height int
	pool   sync.Pool

	allocated atomic.Uint64
}

// NewPool creates a pool of width x height RGBA images
func NewPool(width, height int) *Pool {
	p := &Pool{width: width, height: height}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return p
}

// Get returns an image from the pool; its contents are undefined
func (p *Pool) Get() *image.RGBA {
	return p.pool.Get().(*image.RGBA)
}

// Put returns an image to the pool. Images of another size are dropped.
func (p *Pool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Dx() != p.width || img.Rect.Dy() != p.height {
		return
	}
	p.pool.Put(img)
}

// Size returns the image dimensions served by the pool
func (p *Pool) Size() (int, int) {
	return p.width, p.height
}

// Allocated returns how many images the pool has created
func (p *Pool) Allocated() uint64 {
	return p.allocated.Load()
}
