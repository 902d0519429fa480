package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"greenscreen-camera/config"
	"greenscreen-camera/frame"

	"go.uber.org/zap"
)

// stopTimeout bounds how long Stop waits for gst-launch after SIGINT
const stopTimeout = 5 * time.Second

// GStreamerSource runs gst-launch-1.0 and reads raw I420 frames from its stdout
type GStreamerSource struct {
	cfg    config.CameraConfig
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	exited  chan struct{}
	running bool

	frameCount atomic.Uint64
}

// NewGStreamerSource creates a source for cfg. Nothing runs until Start.
func NewGStreamerSource(cfg config.CameraConfig, logger *zap.Logger) *GStreamerSource {
	return &GStreamerSource{
		cfg:    cfg,
		logger: logger.With(zap.String("source", SourceGStreamer), zap.String("device", cfg.Device)),
	}
}

// Name returns the source name
func (s *GStreamerSource) Name() string { return SourceGStreamer }

// Size returns the negotiated frame size
func (s *GStreamerSource) Size() (int, int) { return s.cfg.Width, s.cfg.Height }

// Format returns the layout of delivered buffers
func (s *GStreamerSource) Format() frame.PixelFormat { return frame.FormatI420 }

// FramesCaptured returns the number of frames delivered so far
func (s *GStreamerSource) FramesCaptured() uint64 { return s.frameCount.Load() }

// Start launches the GStreamer process
func (s *GStreamerSource) Start(ctx context.Context, handler FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	pipeline := BuildPipeline(s.cfg)
	gstCtx, cancel := context.WithCancel(ctx)
	args := append([]string{"-q"}, strings.Fields(pipeline)...)
	cmd := exec.CommandContext(gstCtx, "gst-launch-1.0", args...)
	// let gst-launch send EOS and exit on its own before it is killed
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGINT) }
	cmd.WaitDelay = stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe from GStreamer: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stderr pipe from GStreamer: %w", err)
	}

	s.logger.Info("Starting GStreamer capture", zap.String("pipeline", pipeline))
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start GStreamer: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Warn("gstreamer_stderr", zap.String("line", scanner.Text()))
		}
	}()

	s.cmd = cmd
	s.cancel = cancel
	s.exited = make(chan struct{})
	s.running = true

	go func() {
		n, err := readFrames(bufio.NewReaderSize(stdout, 1<<20), s.cfg.Width, s.cfg.Height, &s.frameCount, handler)
		if err != nil && gstCtx.Err() == nil {
			s.logger.Error("Error reading frame from GStreamer", zap.Error(err))
		}
		s.logger.Info("GStreamer capture loop finished", zap.Uint64("frames", n))
	}()
	go s.monitor(gstCtx, cmd, s.exited)
	return nil
}

// readFrames reads fixed-size I420 frames until r fails. A clean EOF on a
// frame boundary is not an error.
func readFrames(r io.Reader, width, height int, count *atomic.Uint64, handler FrameHandler) (uint64, error) {
	size, err := frame.RequiredSize(frame.FormatI420, width, height)
	if err != nil {
		return 0, err
	}

	var n uint64
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("failed to read frame %d: %w", n, err)
		}
		n++
		count.Add(1)
		handler(frame.PixelBuffer{
			Data:      buf,
			Width:     width,
			Height:    height,
			Format:    frame.FormatI420,
			Timestamp: time.Now(),
		})
	}
}

// monitor waits for the process and logs how it ended
func (s *GStreamerSource) monitor(ctx context.Context, cmd *exec.Cmd, exited chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(exited)
	}()

	err := cmd.Wait()
	if ctx.Err() != nil {
		s.logger.Info("GStreamer process stopped gracefully by context cancellation")
		return
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Error("GStreamer process exited with an error",
				zap.Error(err),
				zap.Int("exit_code", exitErr.ExitCode()))
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				s.logger.Error("GStreamer process was terminated by a signal",
					zap.String("signal", ws.Signal().String()))
			}
		} else {
			s.logger.Error("Error waiting for GStreamer process", zap.Error(err))
		}
	} else {
		s.logger.Info("GStreamer process finished successfully")
	}
}

// Stop interrupts the GStreamer process and waits for it to exit
func (s *GStreamerSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, exited := s.cancel, s.exited
	s.mu.Unlock()

	s.logger.Info("Stopping video capture")
	cancel()

	select {
	case <-exited:
	case <-time.After(2 * stopTimeout):
		return fmt.Errorf("GStreamer process did not exit within %s", 2*stopTimeout)
	}
	s.logger.Info("GStreamer capture stopped")
	return nil
}

// BuildPipeline returns the gst-launch description for cfg. Frames leave on
// stdout as tightly packed I420 at exactly the configured size.
func BuildPipeline(cfg config.CameraConfig) string {
	var pipeline strings.Builder

	pipeline.WriteString(sourceElement(cfg.Device))
	pipeline.WriteString(" ! videoconvert")

	// Flip before scaling so the caps below still fix the output size
	if flip := flipElement(cfg.FlipMethod); flip != "" {
		pipeline.WriteString(" ! " + flip)
	}

	pipeline.WriteString(" ! videoscale")
	pipeline.WriteString(fmt.Sprintf(" ! video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, cfg.FPS))
	pipeline.WriteString(" ! queue leaky=downstream max-size-buffers=2")
	pipeline.WriteString(" ! fdsink fd=1 sync=false")
	return pipeline.String()
}

func sourceElement(device string) string {
	switch {
	case device == "":
		return "autovideosrc"
	case device == "videotestsrc":
		return "videotestsrc is-live=true pattern=smpte"
	case isMacOSWebcam(device):
		return fmt.Sprintf("avfvideosrc device-index=%s capture-screen=false", device)
	case strings.HasPrefix(device, "/dev/video"):
		return fmt.Sprintf("v4l2src device=%s", device)
	}
	// libcamera names look like /base/axi/pcie@1000120000/rp1/i2c@88000/imx219@10
	return fmt.Sprintf(`libcamerasrc camera-name="%s"`, device)
}

// isMacOSWebcam reports whether device is an AVFoundation device index
func isMacOSWebcam(device string) bool {
	if len(device) >= 5 {
		return false
	}
	_, err := strconv.Atoi(device)
	return err == nil
}

// flipElement maps a flip method to a videoflip element, or "" for none
func flipElement(method string) string {
	switch method {
	case "rotate-180":
		return "videoflip method=rotate-180"
	case "rotate-90":
		return "videoflip method=clockwise"
	case "rotate-270":
		return "videoflip method=counterclockwise"
	case "vertical-flip":
		return "videoflip method=vertical-flip"
	case "horizontal-flip":
		return "videoflip method=horizontal-flip"
	}
	return ""
}
