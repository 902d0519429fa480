// Package pipeline is the control surface of the greenscreen filter. It turns
// enable, disable, parameter and output-size requests into render tasks and
// exposes the preview target and still-image filtering to collaborators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"greenscreen-camera/asset"
	"greenscreen-camera/filter"
	"greenscreen-camera/render"

	"go.uber.org/zap"
)

// Options configures a Pipeline
type Options struct {
	Engine render.Config
	// Resolver loads background images; failures fall back to a solid color.
	// Nil resolves names relative to the working directory.
	Resolver asset.Resolver
	// BackgroundOrientation selects how backgrounds are laid onto the output
	BackgroundOrientation asset.Orientation
}

// Stats is a snapshot of the whole pipeline
type Stats struct {
	Engine             render.Stats      `json:"engine"`
	Parameters         filter.Parameters `json:"parameters"`
	OutputWidth        int               `json:"output_width"`
	OutputHeight       int               `json:"output_height"`
	BackgroundResolved bool              `json:"background_resolved"`
	AssetFailures      uint64            `json:"asset_failures"`
}

// Pipeline owns the render engine and the filter parameter snapshot
type Pipeline struct {
	engine   *render.Engine
	resolver asset.Resolver
	logger   *zap.Logger

	// mu serializes control requests so tasks are queued in merge order
	mu            sync.Mutex
	params        filter.Parameters
	outW, outH    int
	orientation   asset.Orientation
	bgSource      image.Image
	background    *image.RGBA
	assetFailures atomic.Uint64

	targetsMu sync.Mutex
	targets   map[image.Point]*render.ImageTarget
}

// New creates a pipeline. Call Start before submitting work.
func New(opts Options, logger *zap.Logger) *Pipeline {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = asset.FileResolver{Dir: "."}
	}
	return &Pipeline{
		engine:      render.NewEngine(opts.Engine, logger),
		resolver:    resolver,
		logger:      logger.With(zap.String("component", "pipeline")),
		params:      filter.NewParameters(),
		outW:        opts.Engine.DisplayWidth,
		outH:        opts.Engine.DisplayHeight,
		orientation: opts.BackgroundOrientation,
		targets:     make(map[image.Point]*render.ImageTarget),
	}
}

// Start starts the render engine. Initialization errors are returned here.
func (p *Pipeline) Start() error {
	return p.engine.Start()
}

// Close disposes the render engine
func (p *Pipeline) Close() error {
	return p.engine.Dispose()
}

// Engine returns the underlying render engine
func (p *Pipeline) Engine() *render.Engine {
	return p.engine
}

// EnableFilter selects the chroma-key filter. It has no effect until a
// parameter update has built one.
func (p *Pipeline) EnableFilter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Do(func(rc *render.RenderContext) {
		rc.Filters.Enable()
	})
}

// DisableFilter selects the passthrough filter and keeps the chroma-key one
func (p *Pipeline) DisableFilter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Do(func(rc *render.RenderContext) {
		rc.Filters.Disable()
	})
}

// UpdateParameters merges u onto the current parameters and queues the
// resulting build, rebuild or uniform update. A background that cannot be
// resolved is logged and replaced by the fallback color.
func (p *Pipeline) UpdateParameters(u filter.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.params.Merge(u)
	changed := next.Background != p.params.Background
	src, bg := p.bgSource, p.background
	if changed {
		src, bg = p.loadBackground(next.Background)
	}

	change := filter.Change{
		Params:            next,
		Background:        bg,
		BackgroundChanged: changed,
	}
	if err := p.engine.Do(func(rc *render.RenderContext) {
		if err := rc.Filters.Apply(rc.GPU, change); err != nil {
			rc.Logger.Error("Failed to apply filter parameters", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	p.params = next
	p.bgSource, p.background = src, bg
	p.logger.Debug("Filter parameters updated",
		zap.Bool("background_changed", changed),
		zap.Float32("sensitivity", next.EffectiveSensitivity()))
	return nil
}

// loadBackground resolves path and prepares it for the current output size.
// Both results are nil when there is no usable background. Called with mu held.
func (p *Pipeline) loadBackground(path string) (image.Image, *image.RGBA) {
	if path == "" {
		return nil, nil
	}

	src, err := p.resolver.Resolve(path)
	if err != nil {
		p.assetFailures.Add(1)
		p.logger.Warn("Background not available, using fallback color",
			zap.String("background", path),
			zap.Error(err))
		return nil, nil
	}
	return src, asset.Prepare(src, p.outW, p.outH, p.orientation)
}

// SetOutputSize resizes the display target and re-fits the background
func (p *Pipeline) SetOutputSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", width, height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.outW, p.outH = width, height
	if p.bgSource != nil {
		p.background = asset.Prepare(p.bgSource, width, height, p.orientation)
	}
	bg := p.background
	refit := p.bgSource != nil

	return p.engine.Do(func(rc *render.RenderContext) {
		if err := rc.SetOutputSize(width, height); err != nil {
			rc.Logger.Error("Failed to resize output", zap.Error(err))
			return
		}
		if refit {
			if err := rc.Filters.ReplaceBackground(rc.GPU, bg); err != nil {
				rc.Logger.Error("Failed to replace background", zap.Error(err))
			}
		}
	})
}

// GetImageTargetSurface returns the target a capture source should submit
// width x height frames to. Targets are cached per size.
func (p *Pipeline) GetImageTargetSurface(width, height int) *render.ImageTarget {
	p.targetsMu.Lock()
	defer p.targetsMu.Unlock()

	key := image.Pt(width, height)
	if t, ok := p.targets[key]; ok {
		return t
	}
	t := p.engine.NewImageTarget(width, height)
	p.targets[key] = t
	return t
}

// FilterStillImage filters img off screen with the active filter.
// onComplete runs exactly once on the render goroutine.
func (p *Pipeline) FilterStillImage(img image.Image, onComplete render.CaptureFunc) (string, error) {
	return p.engine.FilterStill(img, onComplete)
}

// FilterStillImageSync filters img and waits for the result or ctx
func (p *Pipeline) FilterStillImageSync(ctx context.Context, img image.Image) (*image.RGBA, error) {
	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	if _, err := p.FilterStillImage(img, func(r *image.RGBA, err error) {
		done <- result{r, err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("still capture: %w", ctx.Err())
	}
}

// GetLastFilteredResult returns the most recent filtered still, or nil
func (p *Pipeline) GetLastFilteredResult() *image.RGBA {
	return p.engine.Captures().Last()
}

// Parameters returns the current parameter snapshot
func (p *Pipeline) Parameters() filter.Parameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// OutputSize returns the requested display size
func (p *Pipeline) OutputSize() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outW, p.outH
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Parameters:         p.params,
		OutputWidth:        p.outW,
		OutputHeight:       p.outH,
		BackgroundResolved: p.background != nil,
	}
	p.mu.Unlock()

	s.Engine = p.engine.Stats()
	s.AssetFailures = p.assetFailures.Load()
	return s
}

// MonitorStats logs frame rates and drop counts every interval until ctx is
// done or the engine stops
func (p *Pipeline) MonitorStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := p.engine.Stats()
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.engine.Done():
			return
		case <-ticker.C:
			current := p.engine.Stats()
			now := time.Now()
			elapsed := now.Sub(lastTime).Seconds()

			// Calculate rates
			frameRate := float64(current.FramesRendered-last.FramesRendered) / elapsed
			presentRate := float64(current.Presents-last.Presents) / elapsed

			p.logger.Info("Render pipeline stats",
				zap.Float64("fps", frameRate),
				zap.Float64("present_fps", presentRate),
				zap.Uint64("total_frames", current.FramesRendered),
				zap.Uint64("dropped_frames", current.Queue.FramesDropped),
				zap.Uint64("draw_errors", current.DrawErrors),
				zap.Uint64("stills", current.Capture.Completed),
				zap.String("filter", current.Filter.State))

			last = current
			lastTime = now
		}
	}
}

// IsUnavailable reports whether err means the engine can no longer accept work
func IsUnavailable(err error) bool {
	return errors.Is(err, render.ErrEngineNotRunning) || errors.Is(err, render.ErrEngineDisposed)
}
