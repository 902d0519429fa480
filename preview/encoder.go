// Package preview publishes presented display frames as JPEG. The encoder
// runs off the render goroutine and fans frames out to the RTP streamer and
// websocket viewers.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Frame is one encoded preview frame
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
	Seq    uint64
	Time   time.Time
}

// Consumer receives encoded frames on the encoder goroutine. It must not
// block and must not modify the frame.
type Consumer func(Frame)

// EncoderConfig configures an Encoder
type EncoderConfig struct {
	Quality   int // JPEG quality 1-100
	MaxFPS    int // 0 encodes every offered frame
	QueueSize int
}

// EncoderStats holds encoder counters
type EncoderStats struct {
	Offered   uint64 `json:"offered"`
	Encoded   uint64 `json:"encoded"`
	Dropped   uint64 `json:"dropped"`
	Throttled uint64 `json:"throttled"`
	Errors    uint64 `json:"errors"`
	Consumers int    `json:"consumers"`
}

// Encoder compresses display frames to JPEG
type Encoder struct {
	cfg    EncoderConfig
	logger *zap.Logger

	in     chan *image.RGBA
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	consumers map[int]Consumer
	nextID    int

	running    atomic.Bool
	lastOffer  atomic.Int64
	minPeriod  time.Duration
	seq        atomic.Uint64
	offered    atomic.Uint64
	encoded    atomic.Uint64
	dropped    atomic.Uint64
	throttled  atomic.Uint64
	encodeErrs atomic.Uint64
}

// NewEncoder creates an encoder. Call Start before offering frames.
func NewEncoder(cfg EncoderConfig, logger *zap.Logger) *Encoder {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 85 // Default quality
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2
	}
	e := &Encoder{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "preview_encoder")),
		in:        make(chan *image.RGBA, cfg.QueueSize),
		consumers: make(map[int]Consumer),
	}
	if cfg.MaxFPS > 0 {
		e.minPeriod = time.Second / time.Duration(cfg.MaxFPS)
	}
	return e
}

// Start launches the encode goroutine
func (e *Encoder) Start(ctx context.Context) error {
	if e.running.Swap(true) {
		return fmt.Errorf("preview encoder already running")
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.encodeLoop(ctx)
	e.logger.Info("Preview encoder started",
		zap.Int("quality", e.cfg.Quality),
		zap.Int("max_fps", e.cfg.MaxFPS))
	return nil
}

// Stop halts the encode goroutine. Queued frames are discarded.
func (e *Encoder) Stop() error {
	if !e.running.Swap(false) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	stats := e.Stats()
	e.logger.Info("Preview encoder stopped",
		zap.Uint64("encoded", stats.Encoded),
		zap.Uint64("dropped", stats.Dropped))
	return nil
}

// Subscribe registers fn for every encoded frame and returns a function
// that removes it
func (e *Encoder) Subscribe(fn Consumer) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.consumers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.consumers, id)
		e.mu.Unlock()
	}
}

func (e *Encoder) hasConsumers() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.consumers) > 0
}

// Offer hands a presented frame to the encoder. It never blocks: the image
// is copied and, when the queue is full, the oldest queued frame is dropped.
// Its signature matches gpu.DisplaySink.
func (e *Encoder) Offer(img *image.RGBA) {
	if !e.running.Load() || !e.hasConsumers() {
		return
	}
	e.offered.Add(1)

	now := time.Now().UnixNano()
	if e.minPeriod > 0 && now-e.lastOffer.Load() < int64(e.minPeriod) {
		e.throttled.Add(1)
		return
	}

	cp := cropCopy(img)
	if cp == nil {
		return
	}
	e.lastOffer.Store(now)

	for {
		select {
		case e.in <- cp:
			return
		default:
		}
		select {
		case <-e.in:
			e.dropped.Add(1)
		default:
		}
	}
}

// cropCopy copies img into a new image whose size is a multiple of 8 in
// both directions, as RTP/JPEG requires
func cropCopy(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx()&^7, b.Dy()&^7
	if w == 0 || h == 0 {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], src[:w*4])
	}
	return dst
}

func (e *Encoder) encodeLoop(ctx context.Context) {
	defer e.wg.Done()

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: e.cfg.Quality}
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-e.in:
			buf.Reset()
			if err := jpeg.Encode(&buf, img, opts); err != nil {
				e.encodeErrs.Add(1)
				e.logger.Error("Failed to encode preview frame", zap.Error(err))
				continue
			}
			f := Frame{
				JPEG:   bytes.Clone(buf.Bytes()),
				Width:  img.Rect.Dx(),
				Height: img.Rect.Dy(),
				Seq:    e.seq.Add(1),
				Time:   time.Now(),
			}
			e.encoded.Add(1)
			e.publish(f)
		}
	}
}

func (e *Encoder) publish(f Frame) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.consumers {
		fn(f)
	}
}

// Stats returns the encoder counters
func (e *Encoder) Stats() EncoderStats {
	e.mu.RLock()
	n := len(e.consumers)
	e.mu.RUnlock()
	return EncoderStats{
		Offered:   e.offered.Load(),
		Encoded:   e.encoded.Load(),
		Dropped:   e.dropped.Load(),
		Throttled: e.throttled.Load(),
		Errors:    e.encodeErrs.Load(),
		Consumers: n,
	}
}
