// Package render runs the render goroutine: it owns the graphics context,
// drains work queued by producers, draws the active filter and either
// presents the preview or filters a still image off screen.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"greenscreen-camera/filter"
	"greenscreen-camera/gpu"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config configures an Engine
type Config struct {
	Backend       string
	DisplayWidth  int
	DisplayHeight int
	FPS           int
	Title         string
	Visible       bool

	Orientation Orientation
	ScaleType   ScaleType
	ClearColor  color.RGBA
	Fallback    color.RGBA
	Smoothing   float32

	// Sink receives every presented display frame on the render goroutine
	Sink gpu.DisplaySink
}

// Stats is a snapshot of engine activity
type Stats struct {
	Mode           string        `json:"mode"`
	Running        bool          `json:"running"`
	Iterations     uint64        `json:"iterations"`
	FramesRendered uint64        `json:"frames_rendered"`
	Presents       uint64        `json:"presents"`
	DrawErrors     uint64        `json:"draw_errors"`
	Queue          QueueStats    `json:"queue"`
	Capture        CaptureStats  `json:"capture"`
	Filter         filter.Stats  `json:"filter"`
	GPU            gpu.Stats     `json:"gpu"`
	Uptime         time.Duration `json:"uptime_ns"`
}

// Engine is the render goroutine and the handles producers use to reach it
type Engine struct {
	cfg    Config
	logger *zap.Logger

	queue   *TaskQueue
	capture *CaptureCoordinator
	filters *filter.Slots

	// ctx is written before Start returns and only read afterwards
	ctx gpu.Context

	started     atomic.Bool
	running     atomic.Bool
	stop        chan struct{}
	done        chan struct{}
	disposeOnce sync.Once
	startTime   time.Time

	errMu sync.Mutex
	err   error

	mode           atomic.Int32
	iterations     atomic.Uint64
	framesRendered atomic.Uint64
	presents       atomic.Uint64
	drawErrors     atomic.Uint64
}

// NewEngine creates an engine. Nothing runs until Start.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Backend == "" {
		cfg.Backend = "software"
	}
	logger = logger.With(zap.String("component", "render"))

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		queue:   NewTaskQueue(logger),
		capture: NewCaptureCoordinator(logger),
		filters: filter.NewSlots(filter.Options{Fallback: cfg.Fallback, Smoothing: cfg.Smoothing}, logger),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the render goroutine and waits for it to create the
// context. Initialization failures are returned here and the goroutine exits.
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineStarted
	}

	initErr := make(chan error, 1)
	go e.loop(initErr)

	if err := <-initErr; err != nil {
		<-e.done
		return fmt.Errorf("failed to start render engine: %w", err)
	}

	e.logger.Info("Render engine started",
		zap.String("backend", e.cfg.Backend),
		zap.Int("width", e.cfg.DisplayWidth),
		zap.Int("height", e.cfg.DisplayHeight),
		zap.Int("fps", e.cfg.FPS))
	return nil
}

// Dispose stops the loop after its current iteration, fails any outstanding
// still capture with ErrEngineDisposed and releases every GPU resource. It
// waits for the goroutine to exit and returns the engine error, if any.
func (e *Engine) Dispose() error {
	e.disposeOnce.Do(func() {
		close(e.stop)
	})
	if !e.started.Load() {
		e.queue.Close()
		e.capture.abort(ErrEngineDisposed)
		return nil
	}
	<-e.done
	return e.Err()
}

// Done is closed when the render goroutine has exited
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that stopped the loop, if any
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

func (e *Engine) setErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.err = multierr.Append(e.err, err)
}

// Running reports whether the loop is active
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Queue returns the task queue feeding the render goroutine
func (e *Engine) Queue() *TaskQueue {
	return e.queue
}

// Captures returns the still capture coordinator
func (e *Engine) Captures() *CaptureCoordinator {
	return e.capture
}

// FilterState returns the filter state machine position
func (e *Engine) FilterState() filter.State {
	return e.filters.State()
}

// Mode returns the mode of the latest iteration
func (e *Engine) Mode() Mode {
	return Mode(e.mode.Load())
}

// Do queues a control task
func (e *Engine) Do(task Task) error {
	if !e.running.Load() {
		return ErrEngineNotRunning
	}
	if !e.queue.Push(task) {
		return ErrEngineNotRunning
	}
	return nil
}

// FilterStill submits img for off-screen filtering. The request is serviced
// after every task queued before it, so parameter changes made first apply.
func (e *Engine) FilterStill(img image.Image, done CaptureFunc) (string, error) {
	if !e.running.Load() {
		return "", ErrEngineNotRunning
	}
	id, err := e.capture.Submit(img, done)
	if err != nil {
		return "", err
	}
	// A closed queue means the loop is shutting down and will abort the request
	e.queue.Push(func(*RenderContext) { e.capture.MarkReady(id) })
	return id, nil
}

// NewImageTarget returns a target that producers submit width x height frames to
func (e *Engine) NewImageTarget(width, height int) *ImageTarget {
	return newImageTarget(e, width, height)
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	s := Stats{
		Mode:           e.Mode().String(),
		Running:        e.running.Load(),
		Iterations:     e.iterations.Load(),
		FramesRendered: e.framesRendered.Load(),
		Presents:       e.presents.Load(),
		DrawErrors:     e.drawErrors.Load(),
		Queue:          e.queue.Stats(),
		Capture:        e.capture.Stats(),
		Filter:         e.filters.Stats(),
	}
	if e.running.Load() && e.ctx != nil {
		s.GPU = e.ctx.Stats()
		s.Uptime = time.Since(e.startTime)
	}
	return s
}

func (e *Engine) loop(initErr chan<- error) {
	// The graphics context is bound to this OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	rc, err := e.init()
	if err != nil {
		e.queue.Close()
		e.capture.abort(ErrEngineDisposed)
		initErr <- err
		return
	}
	e.startTime = time.Now()
	e.running.Store(true)
	initErr <- nil

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FPS))
	defer ticker.Stop()

	mode := ModePresentingToDisplay
	for {
		select {
		case <-e.stop:
			e.shutdown(rc)
			return
		default:
		}

		mode = Transition(mode, e.capture.ready() != nil)
		e.mode.Store(int32(mode))
		e.iterations.Add(1)

		var err error
		if mode == ModeRenderingOffscreenCapture {
			err = e.renderCapture(rc)
		} else {
			err = e.renderDisplay(rc)
		}
		if err != nil {
			e.logger.Error("Render loop stopped", zap.Error(err))
			e.setErr(err)
			e.shutdown(rc)
			return
		}

		select {
		case <-e.stop:
			e.shutdown(rc)
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) init() (*RenderContext, error) {
	ctx, err := gpu.Open(e.cfg.Backend, gpu.Options{
		DisplayWidth:  e.cfg.DisplayWidth,
		DisplayHeight: e.cfg.DisplayHeight,
		Title:         e.cfg.Title,
		Visible:       e.cfg.Visible,
		Sink:          e.cfg.Sink,
		Logger:        e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", e.cfg.Backend, err)
	}

	if err := e.filters.Init(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: %v", gpu.ErrContextInit, err), ctx.Release())
	}
	if err := ctx.MakeCurrent(gpu.TargetDisplay); err != nil {
		e.filters.Release(ctx)
		return nil, multierr.Append(err, ctx.Release())
	}

	e.ctx = ctx
	return &RenderContext{
		GPU:         ctx,
		Filters:     e.filters,
		Uploader:    &Uploader{},
		Logger:      e.logger,
		orientation: e.cfg.Orientation,
		scale:       e.cfg.ScaleType,
	}, nil
}

func (e *Engine) clear(ctx gpu.Context) {
	c := e.cfg.ClearColor
	ctx.Clear(float32(c.R)/255, float32(c.G)/255, float32(c.B)/255, float32(c.A)/255)
}

// renderDisplay runs queued tasks, draws the preview and presents it. Only a
// lost context is returned; draw failures are counted and absorbed.
func (e *Engine) renderDisplay(rc *RenderContext) error {
	if err := rc.GPU.MakeCurrent(gpu.TargetDisplay); err != nil {
		return fmt.Errorf("failed to make display current: %w", err)
	}
	e.clear(rc.GPU)

	before := rc.framesUploaded
	e.queue.DrainAndRunAll(rc)
	e.framesRendered.Add(rc.framesUploaded - before)

	if tex := rc.Uploader.Preview(); tex.Valid() {
		if err := rc.Filters.Draw(tex.ID, rc.previewGeometry(tex)); err != nil {
			e.drawErrors.Add(1)
			e.logger.Debug("Preview draw failed", zap.Error(err))
		}
	}

	if err := rc.GPU.Present(); err != nil {
		if errors.Is(err, gpu.ErrContextLost) {
			return err
		}
		e.drawErrors.Add(1)
		e.logger.Debug("Present failed", zap.Error(err))
		return nil
	}
	e.presents.Add(1)
	return nil
}

// renderCapture filters the ready still image off screen and restores the
// display as the current target
func (e *Engine) renderCapture(rc *RenderContext) error {
	req := e.capture.ready()
	if req == nil {
		return nil
	}

	result, err := e.filterStill(rc, req.Image)
	e.capture.complete(req, result, err)

	if err := rc.GPU.MakeCurrent(gpu.TargetDisplay); err != nil {
		return fmt.Errorf("failed to restore display target: %w", err)
	}
	return nil
}

func (e *Engine) filterStill(rc *RenderContext, img *image.RGBA) (*image.RGBA, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if err := rc.GPU.SetOffscreenSize(w, h); err != nil {
		return nil, err
	}
	if err := rc.GPU.MakeCurrent(gpu.TargetOffscreen); err != nil {
		return nil, err
	}
	e.clear(rc.GPU)

	if err := rc.Uploader.UploadCapture(rc.GPU, img); err != nil {
		return nil, err
	}
	if err := rc.Filters.Draw(rc.Uploader.Capture().ID, FullQuad()); err != nil {
		e.drawErrors.Add(1)
		return nil, fmt.Errorf("failed to draw still image: %w", err)
	}

	out, err := rc.GPU.ReadPixels()
	if err != nil {
		return nil, fmt.Errorf("failed to read back still image: %w", err)
	}
	return out, nil
}

// shutdown releases resources in reverse order of acquisition
func (e *Engine) shutdown(rc *RenderContext) {
	e.running.Store(false)
	e.queue.Close()
	e.capture.abort(ErrEngineDisposed)

	e.filters.Release(rc.GPU)
	rc.Uploader.Release(rc.GPU)
	if err := rc.GPU.Release(); err != nil {
		e.setErr(fmt.Errorf("failed to release gpu context: %w", err))
	}

	e.logger.Info("Render engine stopped",
		zap.Uint64("iterations", e.iterations.Load()),
		zap.Uint64("frames_rendered", e.framesRendered.Load()),
		zap.Uint64("frames_dropped", e.queue.Stats().FramesDropped))
}
