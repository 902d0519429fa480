// Package camera produces preview frames for the render engine. A Source
// delivers frame.PixelBuffer values on its own goroutine and a Manager
// forwards them to the engine's image target.
package camera

import (
	"context"
	"errors"
	"fmt"

	"greenscreen-camera/config"
	"greenscreen-camera/frame"

	"go.uber.org/zap"
)

// Source names accepted in [camera] source
const (
	SourceGStreamer   = "gstreamer"
	SourceTestPattern = "test"
)

// ErrUnknownSource is returned by NewSource for an unsupported source name
var ErrUnknownSource = errors.New("unknown camera source")

// FrameHandler receives each captured frame. Ownership of the buffer passes
// to the handler.
type FrameHandler func(frame.PixelBuffer)

// Source is a frame producer
type Source interface {
	// Start begins delivering frames to handler until ctx is done or Stop is called
	Start(ctx context.Context, handler FrameHandler) error
	Stop() error
	Size() (int, int)
	Format() frame.PixelFormat
	Name() string
}

// NewSource creates the source selected by cfg.Source
func NewSource(cfg config.CameraConfig, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case SourceGStreamer, "":
		return NewGStreamerSource(cfg, logger), nil
	case SourceTestPattern:
		return NewTestPattern(cfg.Width, cfg.Height, cfg.FPS, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
}
