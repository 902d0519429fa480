package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"greenscreen-camera/config"
	"greenscreen-camera/frame"

	"go.uber.org/zap"
)

// Target receives frames from the manager. render.ImageTarget implements it.
type Target interface {
	Submit(frame.PixelBuffer) error
}

// Manager connects a Source to a Target and keeps delivery counters
type Manager struct {
	source Source
	target Target
	logger *zap.Logger

	frameLogInterval uint64
	startupDelay     time.Duration

	mu        sync.Mutex
	isRunning bool
	startTime time.Time

	frames       atomic.Uint64
	submitErrors atomic.Uint64
	lastError    atomic.Value // string
}

// NewManager creates a manager for source and target
func NewManager(source Source, target Target, cfg *config.Config, logger *zap.Logger) *Manager {
	interval := cfg.Logging.FrameLogInterval
	if interval <= 0 {
		interval = 300
	}
	return &Manager{
		source:           source,
		target:           target,
		logger:           logger.With(zap.String("camera", source.Name())),
		frameLogInterval: uint64(interval),
		startupDelay:     time.Duration(cfg.Timeouts.CameraStartupDelay) * time.Millisecond,
	}
}

// Start starts the source. The configured startup delay is observed first
// so the sensor can settle after a previous session released it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("camera %s is already running", m.source.Name())
	}

	if m.startupDelay > 0 {
		select {
		case <-time.After(m.startupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.source.Start(ctx, m.handleFrame); err != nil {
		return fmt.Errorf("failed to start camera %s: %w", m.source.Name(), err)
	}

	m.isRunning = true
	m.startTime = time.Now()
	w, h := m.source.Size()
	m.logger.Info("Camera started",
		zap.Int("width", w),
		zap.Int("height", h),
		zap.String("format", m.source.Format().String()))
	return nil
}

func (m *Manager) handleFrame(buf frame.PixelBuffer) {
	n := m.frames.Add(1)
	if err := m.target.Submit(buf); err != nil {
		if m.submitErrors.Add(1) == 1 {
			m.logger.Warn("Failed to submit frame", zap.Error(err))
		} else {
			m.logger.Debug("Failed to submit frame", zap.Error(err))
		}
		m.lastError.Store(err.Error())
	}

	if n%m.frameLogInterval == 0 {
		m.logger.Info("Camera frames delivered",
			zap.Uint64("frames", n),
			zap.Uint64("submit_errors", m.submitErrors.Load()))
	}
}

// Stop stops the source
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}
	m.isRunning = false

	if err := m.source.Stop(); err != nil {
		return fmt.Errorf("failed to stop camera %s: %w", m.source.Name(), err)
	}
	m.logger.Info("Camera stopped", zap.Uint64("frames", m.frames.Load()))
	return nil
}

// IsRunning reports whether the source has been started and not stopped
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// GetStatus returns the camera status for the stats endpoint
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.Lock()
	running, started := m.isRunning, m.startTime
	m.mu.Unlock()

	w, h := m.source.Size()
	status := map[string]interface{}{
		"source":        m.source.Name(),
		"running":       running,
		"width":         w,
		"height":        h,
		"format":        m.source.Format().String(),
		"frames":        m.frames.Load(),
		"submit_errors": m.submitErrors.Load(),
	}
	if running {
		status["uptime_seconds"] = time.Since(started).Seconds()
	}
	if last, ok := m.lastError.Load().(string); ok {
		status["last_error"] = last
	}
	return status
}
