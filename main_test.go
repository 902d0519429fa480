package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"greenscreen-camera/asset"
	"greenscreen-camera/camera"
	"greenscreen-camera/config"
	"greenscreen-camera/filter"
	"greenscreen-camera/pipeline"
	"greenscreen-camera/render"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Camera.Source = camera.SourceTestPattern
	cfg.Camera.Width, cfg.Camera.Height = 64, 48
	cfg.Output.Width, cfg.Output.Height = 64, 48
	cfg.Server.WebPort = 0
	cfg.Server.BindIP = "127.0.0.1"
	cfg.Server.AdvertiseIP = "127.0.0.1"
	cfg.Timeouts.CameraStartupDelay = 0
	cfg.Logging.StatsLogInterval = 0
	return cfg
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestRenderConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Output.Rotation = 270
	cfg.Output.FlipH = true
	cfg.Output.ScaleType = "center_inside"
	cfg.Render.ClearColor = "#102030"

	rc, err := renderConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "software", rc.Backend)
	assert.Equal(t, 64, rc.DisplayWidth)
	assert.Equal(t, render.Rotation270, rc.Orientation.Rotation)
	assert.True(t, rc.Orientation.FlipH)
	assert.Equal(t, render.ScaleCenterInside, rc.ScaleType)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, rc.ClearColor)
	assert.Equal(t, filter.DefaultFallback, rc.Fallback)

	cfg.Filter.FallbackColor = "pink"
	_, err = renderConfig(cfg)
	assert.Error(t, err)
}

func TestApplyFilterConfig(t *testing.T) {
	rc, err := renderConfig(testConfig())
	require.NoError(t, err)
	p := pipeline.New(pipeline.Options{Engine: rc, Resolver: asset.NewMemoryResolver()}, zaptest.NewLogger(t))
	require.NoError(t, p.Start())
	defer p.Close()

	fc := testConfig().Filter
	fc.Color = "#0000ff"
	fc.Sensitivity = 0.25
	require.NoError(t, applyFilterConfig(p, fc, true))

	params := p.Parameters()
	assert.Equal(t, filter.Color{0, 0, 1}, params.Color)
	assert.Equal(t, float32(0.25), params.Sensitivity)

	fc.Color = "blue"
	assert.Error(t, applyFilterConfig(p, fc, false))
}

func TestRunStill(t *testing.T) {
	dir := t.TempDir()
	blue := color.RGBA{B: 255, A: 255}
	writePNG(t, filepath.Join(dir, "bg.png"), asset.Solid(16, 16, blue))
	in := filepath.Join(dir, "in.png")
	writePNG(t, in, asset.Solid(40, 30, color.RGBA{G: 255, A: 255}))
	out := filepath.Join(dir, "out.png")

	cfg := testConfig()
	cfg.Filter.BackgroundDir = dir
	cfg.Filter.Background = "bg.png"

	require.NoError(t, runStill(cfg, in, out, zaptest.NewLogger(t)))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
	assert.Equal(t, blue, color.RGBAModel.Convert(img.At(20, 15)))

	assert.Error(t, runStill(cfg, filepath.Join(dir, "missing.png"), out, zaptest.NewLogger(t)))
}

func TestBackgroundResolver(t *testing.T) {
	cfg := testConfig()
	r := backgroundResolver(cfg)
	assert.Equal(t, ".", r.Dir)
	assert.Equal(t, cfg.Limits.MaxImagePixels, r.MaxPixels)

	_, err := r.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, asset.ErrNotAvailable)

	cfg.Filter.BackgroundDir = t.TempDir()
	assert.Equal(t, cfg.Filter.BackgroundDir, backgroundResolver(cfg).Dir)
}

func TestApplicationLifecycle(t *testing.T) {
	app := NewApplication(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, app.Start())

	base := "http://" + app.webServer.Addr()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	// Frames from the test pattern reach the render goroutine
	require.Eventually(t, func() bool {
		return app.pipeline.Stats().Engine.FramesRendered > 0
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
	assert.False(t, app.pipeline.Engine().Running())
	assert.False(t, app.cameraManager.IsRunning())
}
