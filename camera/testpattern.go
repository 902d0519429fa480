package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"greenscreen-camera/frame"

	"go.uber.org/zap"
)

// Colors used by the test pattern
var (
	PatternScreen  = color.RGBA{G: 255, A: 255}
	PatternSubject = color.RGBA{R: 200, G: 150, B: 120, A: 255}
	PatternBar     = color.RGBA{R: 255, A: 255}
)

// TestPattern produces synthetic NV21 frames: a green screen with a fixed
// subject in the middle and a red bar sweeping across the bottom.
type TestPattern struct {
	width, height, fps int
	logger             *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	frameCount atomic.Uint64
}

// NewTestPattern creates a width x height source ticking at fps
func NewTestPattern(width, height, fps int, logger *zap.Logger) *TestPattern {
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:  width,
		height: height,
		fps:    fps,
		logger: logger.With(zap.String("source", SourceTestPattern)),
	}
}

func (p *TestPattern) Name() string              { return SourceTestPattern }
func (p *TestPattern) Size() (int, int)          { return p.width, p.height }
func (p *TestPattern) Format() frame.PixelFormat { return frame.FormatNV21 }

// FramesCaptured returns the number of frames delivered so far
func (p *TestPattern) FramesCaptured() uint64 { return p.frameCount.Load() }

// Start begins producing frames
func (p *TestPattern) Start(ctx context.Context, handler FrameHandler) error {
	if _, err := frame.RequiredSize(frame.FormatNV21, p.width, p.height); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, handler, p.done)

	p.logger.Info("Test pattern started",
		zap.Int("width", p.width),
		zap.Int("height", p.height),
		zap.Int("fps", p.fps))
	return nil
}

func (p *TestPattern) run(ctx context.Context, handler FrameHandler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		DrawPattern(img, i)
		buf, err := frame.EncodeYUV(img, frame.FormatNV21)
		if err != nil {
			p.logger.Error("Failed to encode test frame", zap.Error(err))
			return
		}
		buf.Timestamp = time.Now()
		p.frameCount.Add(1)
		handler(buf)
	}
}

// Stop halts the pattern and waits for the producer goroutine
func (p *TestPattern) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	p.logger.Info("Test pattern stopped", zap.Uint64("frames", p.frameCount.Load()))
	return nil
}

// DrawPattern renders frame n of the pattern into img
func DrawPattern(img *image.RGBA, n int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	subject := image.Rect(w/4, h/4, w*3/4, h*3/4).Add(b.Min)
	barW := max(w/8, 1)
	barX := (n * max(w/32, 1)) % w
	bar := image.Rect(barX, h*7/8, barX+barW, h).Add(b.Min)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pt := image.Pt(x, y)
			c := PatternScreen
			switch {
			case pt.In(bar):
				c = PatternBar
			case pt.In(subject):
				c = PatternSubject
			}
			img.SetRGBA(x, y, c)
		}
	}
}
