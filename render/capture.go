package render

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// CaptureFunc receives the filtered still image, or the reason there is
// none. It runs on the render goroutine and must hand blocking work off.
type CaptureFunc func(result *image.RGBA, err error)

// CaptureRequest is one outstanding still-image filter
type CaptureRequest struct {
	ID        string
	Image     *image.RGBA
	Submitted time.Time

	done  CaptureFunc
	ready bool
}

// CaptureStats counts still captures
type CaptureStats struct {
	Submitted      uint64 `json:"submitted"`
	Completed      uint64 `json:"completed"`
	Failed         uint64 `json:"failed"`
	Rejected       uint64 `json:"rejected"`
	CallbackPanics uint64 `json:"callback_panics"`
	Pending        bool   `json:"pending"`
}

// CaptureCoordinator holds at most one outstanding still capture. A second
// request while one is outstanding is rejected with ErrCaptureInProgress.
type CaptureCoordinator struct {
	logger *zap.Logger

	mu       sync.Mutex
	pending  *CaptureRequest
	last     *image.RGBA
	disposed bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// NewCaptureCoordinator creates an idle coordinator
func NewCaptureCoordinator(logger *zap.Logger) *CaptureCoordinator {
	return &CaptureCoordinator{logger: logger.With(zap.String("component", "capture"))}
}

// Submit records a request for img. The image is copied so the caller may
// reuse it. The request is not serviced until MarkReady is called with its ID.
func (c *CaptureCoordinator) Submit(img image.Image, done CaptureFunc) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrEmptyImage
	}
	if done == nil {
		done = func(*image.RGBA, error) {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return "", ErrEngineDisposed
	}
	if c.pending != nil {
		c.rejected.Add(1)
		return "", ErrCaptureInProgress
	}

	req := &CaptureRequest{
		ID:        uuid.NewString(),
		Image:     toRGBA(img),
		Submitted: time.Now(),
		done:      done,
	}
	c.pending = req
	c.submitted.Add(1)
	c.logger.Debug("Still capture submitted",
		zap.String("id", req.ID),
		zap.Int("width", req.Image.Rect.Dx()),
		zap.Int("height", req.Image.Rect.Dy()))
	return req.ID, nil
}

// MarkReady makes the request with id eligible for the off-screen pass
func (c *CaptureCoordinator) MarkReady(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.ID == id {
		c.pending.ready = true
	}
}

// Pending reports whether a request is outstanding
func (c *CaptureCoordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// ready returns the outstanding request if it may be serviced now
func (c *CaptureCoordinator) ready() *CaptureRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.ready {
		return c.pending
	}
	return nil
}

// complete clears req and fires its callback exactly once
func (c *CaptureCoordinator) complete(req *CaptureRequest, result *image.RGBA, err error) {
	c.mu.Lock()
	if c.pending != req {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if err == nil {
		c.last = result
	}
	c.mu.Unlock()

	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("Still capture failed", zap.String("id", req.ID), zap.Error(err))
	} else {
		c.completed.Add(1)
		c.logger.Debug("Still capture completed",
			zap.String("id", req.ID),
			zap.Duration("latency", time.Since(req.Submitted)))
	}
	c.notify(req, result, err)
}

// notify runs the caller's callback. A panic there is logged and counted so
// it cannot take down the render loop.
func (c *CaptureCoordinator) notify(req *CaptureRequest, result *image.RGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.logger.Error("Still capture callback panicked",
				zap.String("id", req.ID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	req.done(result, err)
}

// abort fails the outstanding request with err and rejects future ones
func (c *CaptureCoordinator) abort(err error) {
	c.mu.Lock()
	c.disposed = true
	req := c.pending
	c.mu.Unlock()

	if req != nil {
		c.complete(req, nil, err)
	}
}

// Last returns the most recent successful result, or nil. The image must
// not be modified.
func (c *CaptureCoordinator) Last() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stats returns a snapshot of the counters
func (c *CaptureCoordinator) Stats() CaptureStats {
	return CaptureStats{
		Submitted:      c.submitted.Load(),
		Completed:      c.completed.Load(),
		Failed:         c.failed.Load(),
		Rejected:       c.rejected.Load(),
		CallbackPanics: c.panics.Load(),
		Pending:        c.Pending(),
	}
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
