package render

import (
	"fmt"
	"image"
	"sync/atomic"

	"greenscreen-camera/frame"

	"go.uber.org/zap"
)

// ImageTarget is the surface a capture goroutine renders preview frames
// into. Submit decodes on the caller's goroutine and offers the result to
// the render goroutine; a frame still waiting there is replaced.
type ImageTarget struct {
	engine *Engine
	pool   *frame.Pool
	width  int
	height int

	submitted    atomic.Uint64
	decodeErrors atomic.Uint64
}

func newImageTarget(e *Engine, width, height int) *ImageTarget {
	return &ImageTarget{
		engine: e,
		pool:   frame.NewPool(width, height),
		width:  width,
		height: height,
	}
}

// Size returns the frame dimensions the target accepts
func (t *ImageTarget) Size() (int, int) {
	return t.width, t.height
}

// Submit decodes buf and queues it as the next preview frame
func (t *ImageTarget) Submit(buf frame.PixelBuffer) error {
	if buf.Width != t.width || buf.Height != t.height {
		return fmt.Errorf("%w: frame %dx%d, target %dx%d",
			frame.ErrInvalidDimensions, buf.Width, buf.Height, t.width, t.height)
	}
	if !t.engine.Running() {
		return ErrEngineNotRunning
	}

	img := t.pool.Get()
	if err := frame.Decode(buf, img); err != nil {
		t.pool.Put(img)
		t.decodeErrors.Add(1)
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return t.offer(img)
}

// SubmitImage queues an already decoded frame. The image is copied.
func (t *ImageTarget) SubmitImage(src *image.RGBA) error {
	if src.Rect.Dx() != t.width || src.Rect.Dy() != t.height {
		return fmt.Errorf("%w: image %dx%d, target %dx%d",
			frame.ErrInvalidDimensions, src.Rect.Dx(), src.Rect.Dy(), t.width, t.height)
	}
	if !t.engine.Running() {
		return ErrEngineNotRunning
	}

	img := t.pool.Get()
	for y := 0; y < t.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+t.width*4], src.Pix[y*src.Stride:])
	}
	return t.offer(img)
}

func (t *ImageTarget) offer(img *image.RGBA) error {
	t.submitted.Add(1)
	release := func() { t.pool.Put(img) }
	task := func(rc *RenderContext) {
		defer release()
		if err := rc.SetPreviewFrame(img); err != nil {
			rc.Logger.Debug("Preview upload failed", zap.Error(err))
		}
	}
	if !t.engine.queue.OfferFrame(task, release) {
		return ErrEngineNotRunning
	}
	return nil
}

// Submitted returns how many frames were handed to the engine
func (t *ImageTarget) Submitted() uint64 {
	return t.submitted.Load()
}

// DecodeErrors returns how many submitted buffers failed to decode
func (t *ImageTarget) DecodeErrors() uint64 {
	return t.decodeErrors.Load()
}
