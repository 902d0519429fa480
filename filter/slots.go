package filter

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"greenscreen-camera/gpu"

	"go.uber.org/zap"
)

// ErrNotInitialized is returned when slots are used before Init
var ErrNotInitialized = errors.New("filter slots not initialized")

// DefaultFallback is the background drawn when no background image is available
var DefaultFallback = color.RGBA{R: 255, G: 0, B: 255, A: 255}

// State is the filter state machine position
type State int32

const (
	StateNoFilter State = iota
	StateIdentityActive
	StateChromaKeyActive
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateNoFilter:
		return "no_filter"
	case StateIdentityActive:
		return "identity_active"
	case StateChromaKeyActive:
		return "chroma_key_active"
	case StateRebuilding:
		return "rebuilding"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Change is one parameter update as seen by the render goroutine. Background
// is the prepared image for Params.Background, or nil when none resolved.
type Change struct {
	Params            Parameters
	Background        *image.RGBA
	BackgroundChanged bool
}

// Options configures Slots
type Options struct {
	Fallback  color.RGBA
	Smoothing float32
}

// Stats counts state machine activity
type Stats struct {
	State          string `json:"state"`
	Builds         uint64 `json:"builds"`
	Rebuilds       uint64 `json:"rebuilds"`
	Destroys       uint64 `json:"destroys"`
	UniformUpdates uint64 `json:"uniform_updates"`
	Enables        uint64 `json:"enables"`
	Disables       uint64 `json:"disables"`
}

// Slots holds the always-present passthrough filter and at most one
// chroma-key filter. chromaActive selects which one draws. All methods except
// State and Stats must be called on the render goroutine.
type Slots struct {
	logger *zap.Logger
	opts   Options

	identity     *Passthrough
	chroma       *ChromaKey
	chromaActive bool
	params       Parameters

	state          atomic.Int32
	builds         atomic.Uint64
	rebuilds       atomic.Uint64
	destroys       atomic.Uint64
	uniformUpdates atomic.Uint64
	enables        atomic.Uint64
	disables       atomic.Uint64
}

// NewSlots creates empty slots
func NewSlots(opts Options, logger *zap.Logger) *Slots {
	if opts.Fallback == (color.RGBA{}) {
		opts.Fallback = DefaultFallback
	}
	if opts.Smoothing <= 0 {
		opts.Smoothing = DefaultSmoothing
	}
	return &Slots{
		logger: logger.With(zap.String("component", "filter")),
		opts:   opts,
		params: NewParameters(),
	}
}

// Init compiles the passthrough filter. It is called once the context exists.
func (s *Slots) Init(ctx gpu.Context) error {
	p, err := NewPassthrough(ctx)
	if err != nil {
		return err
	}
	s.identity = p
	s.setState()
	return nil
}

// State returns the current state. Safe from any goroutine.
func (s *Slots) State() State {
	return State(s.state.Load())
}

func (s *Slots) setState() {
	switch {
	case s.identity == nil:
		s.state.Store(int32(StateNoFilter))
	case s.chromaActive && s.chroma != nil:
		s.state.Store(int32(StateChromaKeyActive))
	default:
		s.state.Store(int32(StateIdentityActive))
	}
}

// Enable activates the chroma-key filter. It reports false, changing
// nothing, when no chroma-key filter has been built yet.
func (s *Slots) Enable() bool {
	if s.chroma == nil {
		s.logger.Debug("Enable ignored, no chroma-key filter built yet")
		return false
	}
	if !s.chromaActive {
		s.chromaActive = true
		s.enables.Add(1)
		s.setState()
		s.logger.Info("Chroma-key filter enabled")
	}
	return true
}

// Disable activates the passthrough filter and keeps the chroma-key filter
func (s *Slots) Disable() bool {
	if !s.chromaActive {
		return false
	}
	s.chromaActive = false
	s.disables.Add(1)
	s.setState()
	s.logger.Info("Chroma-key filter disabled")
	return true
}

// Apply brings the chroma-key filter in line with ch: a first build, a
// rebuild when the background changed, or a uniform update otherwise. The
// active slot never references a destroyed filter.
func (s *Slots) Apply(ctx gpu.Context, ch Change) error {
	if s.identity == nil {
		return ErrNotInitialized
	}
	s.params = ch.Params

	if s.chroma == nil {
		c, err := NewChromaKey(ctx, ch.Params, ch.Background, s.opts.Fallback, s.opts.Smoothing)
		if err != nil {
			return err
		}
		s.chroma = c
		s.builds.Add(1)
		s.setState()
		s.logger.Info("Chroma-key filter built",
			zap.Bool("fallback_background", ch.Background == nil),
			zap.Float32("sensitivity", ch.Params.EffectiveSensitivity()))
		return nil
	}

	if ch.BackgroundChanged {
		s.state.Store(int32(StateRebuilding))
		next, err := NewChromaKey(ctx, ch.Params, ch.Background, s.opts.Fallback, s.opts.Smoothing)
		if err != nil {
			s.setState()
			return fmt.Errorf("failed to rebuild chroma-key filter: %w", err)
		}
		old := s.chroma
		s.chroma = next
		old.Destroy(ctx)
		s.rebuilds.Add(1)
		s.destroys.Add(1)
		s.setState()
		s.logger.Info("Chroma-key filter rebuilt",
			zap.String("background", ch.Params.Background),
			zap.Bool("active", s.chromaActive))
		return nil
	}

	s.chroma.SetParameters(ch.Params)
	s.uniformUpdates.Add(1)
	return nil
}

// ReplaceBackground swaps the background texture of the existing chroma-key
// filter without recompiling it. It is a no-op when none exists.
func (s *Slots) ReplaceBackground(ctx gpu.Context, background *image.RGBA) error {
	if s.chroma == nil {
		return nil
	}
	return s.chroma.ReplaceBackground(ctx, background, s.opts.Fallback)
}

// Params returns the parameters last applied
func (s *Slots) Params() Parameters {
	return s.params
}

// Active returns the filter that draws this frame
func (s *Slots) Active() Filter {
	if s.chromaActive && s.chroma != nil {
		return s.chroma
	}
	if s.identity == nil {
		return nil
	}
	return s.identity
}

// Chroma returns the chroma-key filter, or nil
func (s *Slots) Chroma() *ChromaKey {
	return s.chroma
}

// Draw draws input with the active filter
func (s *Slots) Draw(input gpu.TextureID, geom gpu.Geometry) error {
	f := s.Active()
	if f == nil {
		return ErrNotInitialized
	}
	return f.Draw(input, geom)
}

// Release destroys both filters
func (s *Slots) Release(ctx gpu.Context) {
	if s.chroma != nil {
		s.chroma.Destroy(ctx)
		s.chroma = nil
		s.destroys.Add(1)
	}
	if s.identity != nil {
		s.identity.Destroy(ctx)
		s.identity = nil
	}
	s.chromaActive = false
	s.setState()
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (s *Slots) Stats() Stats {
	return Stats{
		State:          s.State().String(),
		Builds:         s.builds.Load(),
		Rebuilds:       s.rebuilds.Load(),
		Destroys:       s.destroys.Load(),
		UniformUpdates: s.uniformUpdates.Load(),
		Enables:        s.enables.Load(),
		Disables:       s.disables.Load(),
	}
}
