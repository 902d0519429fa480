package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"greenscreen-camera/asset"
	"greenscreen-camera/camera"
	"greenscreen-camera/config"
	"greenscreen-camera/filter"
	"greenscreen-camera/pipeline"
	"greenscreen-camera/preview"
	"greenscreen-camera/render"
	"greenscreen-camera/web"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "greenscreen-camera/gpu/soft"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Greenscreen Camera"
	AppVersion        = "1.0.0"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Components
	pipeline      *pipeline.Pipeline
	cameraManager *camera.Manager
	encoder       *preview.Encoder
	streamer      *preview.Streamer
	webServer     *web.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		stillIn    = flag.String("still", "", "Filter this image once and exit")
		stillOut   = flag.String("out", "filtered.png", "Output PNG path for -still")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("A real-time chroma-key filter for live camera preview and still images")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		fmt.Println("\nEnvironment Variables:")
		fmt.Printf("  %s - Override the background image (relative to filter.background_dir)\n", config.EnvBackground)
		fmt.Printf("  %s - Override the web server bind address\n", config.EnvBindIP)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := createLogger(*logLevel, cfg.Limits.MaxLogFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting greenscreen camera",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	if *stillIn != "" {
		if err := runStill(cfg, *stillIn, *stillOut, logger); err != nil {
			logger.Error("Still filtering failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	logger.Info("Configuration loaded",
		zap.String("advertise_ip", cfg.Server.AdvertiseIP),
		zap.Int("web_port", cfg.Server.WebPort),
		zap.String("camera_source", cfg.Camera.Source),
		zap.String("render_backend", cfg.Render.Backend))

	app := NewApplication(cfg, logger)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		logger.Error("Failed to start application", zap.Error(err))
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	// Wait for shutdown signal
	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-app.ctx.Done():
		logger.Info("Application context cancelled")
	}

	// Graceful shutdown
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeouts.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts all application components
func (a *Application) Start() error {
	a.logger.Info("Starting application components")

	renderCfg, err := renderConfig(a.config)
	if err != nil {
		return err
	}

	if a.config.Preview.Enabled {
		a.encoder = preview.NewEncoder(preview.EncoderConfig{
			Quality:   a.config.Preview.Quality,
			MaxFPS:    a.config.Preview.MaxFPS,
			QueueSize: a.config.Buffers.EncodeQueueSize,
		}, a.logger)
		renderCfg.Sink = a.encoder.Offer
	}

	a.pipeline = pipeline.New(pipeline.Options{
		Engine:                renderCfg,
		Resolver:              backgroundResolver(a.config),
		BackgroundOrientation: backgroundOrientation(a.config),
	}, a.logger)
	if err := a.pipeline.Start(); err != nil {
		return err
	}
	if err := applyFilterConfig(a.pipeline, a.config.Filter, a.config.Filter.Enabled); err != nil {
		return fmt.Errorf("failed to apply filter config: %w", err)
	}

	a.webServer = web.NewServer(a.config, a.pipeline, a.logger)

	if err := a.startPreview(); err != nil {
		return fmt.Errorf("failed to start preview: %w", err)
	}
	if err := a.initializeCamera(); err != nil {
		return fmt.Errorf("failed to initialize camera: %w", err)
	}
	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	// Start camera
	a.wg.Add(1)
	go a.startCameraAsync()

	if interval := a.config.Logging.StatsLogInterval; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.pipeline.MonitorStats(a.ctx, time.Duration(interval)*time.Second)
		}()
	}

	// A render engine that dies takes the application down with it
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-a.pipeline.Engine().Done():
			if err := a.pipeline.Engine().Err(); err != nil {
				a.logger.Error("Render engine stopped", zap.Error(err))
			}
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	a.logger.Info("Application started successfully",
		zap.String("web_url", fmt.Sprintf("http://%s:%d", a.config.Server.AdvertiseIP, a.config.Server.WebPort)),
		zap.String("preview_ws", fmt.Sprintf("ws://%s:%d/ws/preview", a.config.Server.AdvertiseIP, a.config.Server.WebPort)))
	return nil
}

// startPreview starts the JPEG encoder and its consumers
func (a *Application) startPreview() error {
	if a.encoder == nil {
		return nil
	}
	if err := a.encoder.Start(a.ctx); err != nil {
		return err
	}
	a.encoder.Subscribe(a.webServer.Hub().Broadcast)

	rtpCfg := a.config.Preview.RTP
	if rtpCfg.Enabled {
		a.streamer = preview.NewStreamer(preview.StreamerConfig{
			DestHost:  rtpCfg.DestHost,
			DestPort:  rtpCfg.DestPort,
			LocalPort: rtpCfg.LocalPort,
			MTU:       rtpCfg.MTU,
			DSCP:      rtpCfg.DSCP,
			SSRC:      rtpCfg.SSRC,
		}, a.logger)
		if err := a.streamer.Start(a.ctx); err != nil {
			return err
		}
		a.encoder.Subscribe(a.streamer.Consume)
		if interval := a.config.Logging.StatsLogInterval; interval > 0 {
			a.streamer.MonitorStats(time.Duration(interval) * time.Second)
		}
	}

	a.webServer.SetPreview(a.encoder, a.streamer)
	return nil
}

// initializeCamera wires the configured source to the preview target
func (a *Application) initializeCamera() error {
	source, err := camera.NewSource(a.config.Camera, a.logger)
	if err != nil {
		return err
	}
	w, h := source.Size()
	target := a.pipeline.GetImageTargetSurface(w, h)
	a.cameraManager = camera.NewManager(source, target, a.config, a.logger)
	a.webServer.SetCameraManager(a.cameraManager)
	return nil
}

// startCameraAsync starts the camera without holding up the web server
func (a *Application) startCameraAsync() {
	defer a.wg.Done()

	if err := a.cameraManager.Start(a.ctx); err != nil {
		if a.ctx.Err() == nil {
			a.logger.Error("Failed to start camera", zap.Error(err))
		}
	}
}

// Stop gracefully stops all application components
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")
	a.cancel()

	var errs error
	if a.webServer != nil {
		errs = multierr.Append(errs, a.webServer.Stop())
	}
	if a.cameraManager != nil {
		errs = multierr.Append(errs, a.cameraManager.Stop())
	}
	if a.streamer != nil {
		errs = multierr.Append(errs, a.streamer.Stop())
	}
	if a.encoder != nil {
		errs = multierr.Append(errs, a.encoder.Stop())
	}
	if a.pipeline != nil {
		errs = multierr.Append(errs, a.pipeline.Close())
	}

	// Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All components stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	return errs
}

// renderConfig maps the file configuration onto the render engine
func renderConfig(cfg *config.Config) (render.Config, error) {
	rotation, err := render.ParseRotation(cfg.Output.Rotation)
	if err != nil {
		return render.Config{}, err
	}
	scale, err := render.ParseScaleType(cfg.Output.ScaleType)
	if err != nil {
		return render.Config{}, err
	}
	clearColor, err := config.ParseHexColor(cfg.Render.ClearColor)
	if err != nil {
		return render.Config{}, fmt.Errorf("render.clear_color: %w", err)
	}
	fallback, err := config.ParseHexColor(cfg.Filter.FallbackColor)
	if err != nil {
		return render.Config{}, fmt.Errorf("filter.fallback_color: %w", err)
	}

	return render.Config{
		Backend:       cfg.Render.Backend,
		DisplayWidth:  cfg.Output.Width,
		DisplayHeight: cfg.Output.Height,
		FPS:           cfg.Render.FPS,
		Title:         cfg.Render.Title,
		Visible:       cfg.Render.Visible,
		Orientation: render.Orientation{
			Rotation: rotation,
			FlipH:    cfg.Output.FlipH,
			FlipV:    cfg.Output.FlipV,
		},
		ScaleType:  scale,
		ClearColor: clearColor,
		Fallback:   fallback,
		Smoothing:  cfg.Filter.Smoothing,
	}, nil
}

// backgroundResolver confines background lookups to filter.background_dir,
// or the working directory when none is configured
func backgroundResolver(cfg *config.Config) asset.FileResolver {
	dir := cfg.Filter.BackgroundDir
	if dir == "" {
		dir = "."
	}
	return asset.FileResolver{Dir: dir, MaxPixels: cfg.Limits.MaxImagePixels}
}

func backgroundOrientation(cfg *config.Config) asset.Orientation {
	if cfg.Output.Orientation == "portrait" {
		return asset.Portrait
	}
	return asset.Landscape
}

// applyFilterConfig sends the configured chroma-key parameters and
// optionally enables the filter
func applyFilterConfig(p *pipeline.Pipeline, fc config.FilterConfig, enable bool) error {
	c, err := config.ParseHexColor(fc.Color)
	if err != nil {
		return err
	}
	color := filter.ColorFromRGB8(c.R, c.G, c.B)
	sensitivity := fc.Sensitivity
	u := filter.Update{Color: &color, Sensitivity: &sensitivity}
	if fc.Background != "" {
		u.Background = &fc.Background
	}

	if err := p.UpdateParameters(u); err != nil {
		return err
	}
	if enable {
		return p.EnableFilter()
	}
	return nil
}

// runStill filters one image through the off-screen path and saves it as PNG
func runStill(cfg *config.Config, in, out string, logger *zap.Logger) error {
	src, err := asset.FileResolver{MaxPixels: cfg.Limits.MaxImagePixels}.Resolve(in)
	if err != nil {
		return err
	}

	renderCfg, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	renderCfg.Visible = false

	p := pipeline.New(pipeline.Options{
		Engine:                renderCfg,
		Resolver:              backgroundResolver(cfg),
		BackgroundOrientation: backgroundOrientation(cfg),
	}, logger)
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Close()

	// Backgrounds are fitted to the output size, so match it to the still
	b := src.Bounds()
	if err := p.SetOutputSize(b.Dx(), b.Dy()); err != nil {
		return err
	}
	if err := applyFilterConfig(p, cfg.Filter, true); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeouts.StillTimeout)*time.Millisecond)
	defer cancel()
	result, err := p.FilterStillImageSync(ctx, src)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := png.Encode(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info("Still image filtered",
		zap.String("input", in),
		zap.String("output", out),
		zap.Int("width", result.Rect.Dx()),
		zap.Int("height", result.Rect.Dy()))
	return nil
}

// createLogger creates a structured logger writing to stdout and a rotating
// set of files under logs/
func createLogger(level string, keep int) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	if keep <= 0 {
		keep = 20
	}

	// Prepare log directory and file path
	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("greenscreen-camera-%s.log", ts))

	// Clean up old logs, leaving room for the new one
	files, _ := filepath.Glob(filepath.Join(logDir, "greenscreen-camera-*.log"))
	if len(files) >= keep {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-keep+1] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}
