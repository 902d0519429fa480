package config

import (
	"errors"
	"fmt"
	"image/color"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Environment variables that override file values
const (
	EnvBackground = "GREENSCREEN_BACKGROUND"
	EnvBindIP     = "GREENSCREEN_BIND_IP"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the application configuration
type Config struct {
	Camera   CameraConfig  `toml:"camera" json:"camera"`
	Output   OutputConfig  `toml:"output" json:"output"`
	Filter   FilterConfig  `toml:"filter" json:"filter"`
	Render   RenderConfig  `toml:"render" json:"render"`
	Preview  PreviewConfig `toml:"preview" json:"preview"`
	Server   ServerConfig  `toml:"server" json:"server"`
	Buffers  BufferConfig  `toml:"buffers" json:"buffers"`
	Timeouts TimeoutConfig `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig `toml:"logging" json:"logging"`
	Limits   LimitConfig   `toml:"limits" json:"limits"`
}

// CameraConfig holds capture settings
type CameraConfig struct {
	Source     string `toml:"source" json:"source"` // "gstreamer" or "test"
	Device     string `toml:"device" json:"device"`
	Width      int    `toml:"width" json:"width"`
	Height     int    `toml:"height" json:"height"`
	FPS        int    `toml:"fps" json:"fps"`
	FlipMethod string `toml:"flip_method" json:"flip_method"`
}

// OutputConfig describes the display target and how frames are fitted to it
type OutputConfig struct {
	Width       int    `toml:"width" json:"width"`
	Height      int    `toml:"height" json:"height"`
	Rotation    int    `toml:"rotation" json:"rotation"`
	FlipH       bool   `toml:"flip_horizontal" json:"flip_horizontal"`
	FlipV       bool   `toml:"flip_vertical" json:"flip_vertical"`
	ScaleType   string `toml:"scale_type" json:"scale_type"`
	Orientation string `toml:"orientation" json:"orientation"` // "landscape" or "portrait"
}

// FilterConfig holds the initial chroma-key parameters
type FilterConfig struct {
	Enabled       bool    `toml:"enabled" json:"enabled"`
	Color         string  `toml:"color" json:"color"`
	Sensitivity   float32 `toml:"sensitivity" json:"sensitivity"`
	Smoothing     float32 `toml:"smoothing" json:"smoothing"`
	Background    string  `toml:"background" json:"background"`
	BackgroundDir string  `toml:"background_dir" json:"background_dir"`
	FallbackColor string  `toml:"fallback_color" json:"fallback_color"`
}

// RenderConfig selects the GPU backend and loop rate
type RenderConfig struct {
	Backend    string `toml:"backend" json:"backend"`
	FPS        int    `toml:"fps" json:"fps"`
	Visible    bool   `toml:"visible" json:"visible"`
	Title      string `toml:"title" json:"title"`
	ClearColor string `toml:"clear_color" json:"clear_color"`
}

// PreviewConfig controls how presented frames leave the process
type PreviewConfig struct {
	Enabled    bool      `toml:"enabled" json:"enabled"`
	Quality    int       `toml:"quality" json:"quality"`
	MaxFPS     int       `toml:"max_fps" json:"max_fps"`
	MaxClients int       `toml:"max_clients" json:"max_clients"`
	RTP        RTPConfig `toml:"rtp" json:"rtp"`
}

// RTPConfig holds RTP/JPEG output settings
type RTPConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled"`
	DestHost  string `toml:"dest_host" json:"dest_host"`
	DestPort  int    `toml:"dest_port" json:"dest_port"`
	LocalPort int    `toml:"local_port" json:"local_port"`
	MTU       int    `toml:"mtu" json:"mtu"`
	DSCP      int    `toml:"dscp" json:"dscp"`
	SSRC      uint32 `toml:"ssrc" json:"ssrc"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	WebPort     int    `toml:"web_port" json:"web_port"`
	BindIP      string `toml:"bind_ip" json:"bind_ip"`
	AdvertiseIP string `toml:"advertise_ip" json:"advertise_ip"` // Auto-detected if empty
}

// BufferConfig holds buffer size settings for channels
type BufferConfig struct {
	EncodeQueueSize  int `toml:"encode_queue_size" json:"encode_queue_size"`
	ClientSendBuffer int `toml:"client_send_buffer" json:"client_send_buffer"`
}

// TimeoutConfig holds timeout and delay settings
type TimeoutConfig struct {
	CameraStartupDelay  int `toml:"camera_startup_delay_ms" json:"camera_startup_delay_ms"`
	StillTimeout        int `toml:"still_timeout_ms" json:"still_timeout_ms"`
	ClientWriteTimeout  int `toml:"client_write_timeout_ms" json:"client_write_timeout_ms"`
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
}

// LoggingConfig holds logging interval settings
type LoggingConfig struct {
	FrameLogInterval int `toml:"frame_log_interval" json:"frame_log_interval"`
	StatsLogInterval int `toml:"stats_log_interval_seconds" json:"stats_log_interval_seconds"`
}

// LimitConfig holds resource limit settings
type LimitConfig struct {
	MaxLogFiles      int `toml:"max_log_files" json:"max_log_files"`
	MaxPayloadSizeMB int `toml:"max_payload_size_mb" json:"max_payload_size_mb"`
	// MaxImagePixels caps the declared size of decoded stills and backgrounds
	MaxImagePixels   int `toml:"max_image_pixels" json:"max_image_pixels"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:     "gstreamer",
			Device:     "/base/axi/pcie@1000120000/rp1/i2c@88000/imx219@10",
			Width:      640,
			Height:     480,
			FPS:        30,
			FlipMethod: "none",
		},
		Output: OutputConfig{
			Width:       640,
			Height:      480,
			ScaleType:   "center_crop",
			Orientation: "landscape",
		},
		Filter: FilterConfig{
			Color:         "#00ff00",
			Sensitivity:   0.4,
			Smoothing:     0.1,
			FallbackColor: "#ff00ff",
		},
		Render: RenderConfig{
			Backend:    "software",
			FPS:        30,
			Title:      "greenscreen-camera",
			ClearColor: "#000000",
		},
		Preview: PreviewConfig{
			Enabled:    true,
			Quality:    80,
			MaxFPS:     15,
			MaxClients: 4,
			RTP: RTPConfig{
				DestHost: "127.0.0.1",
				DestPort: 5000,
				MTU:      1400,
				SSRC:     0x12345678,
			},
		},
		Server: ServerConfig{
			WebPort: 8080,
			BindIP:  "0.0.0.0",
		},
		Buffers: BufferConfig{
			EncodeQueueSize:  2,
			ClientSendBuffer: 4,
		},
		Timeouts: TimeoutConfig{
			CameraStartupDelay:  1000,
			StillTimeout:        5000,
			ClientWriteTimeout:  2000,
			ShutdownTimeout:     30,
			HTTPShutdownTimeout: 5,
		},
		Logging: LoggingConfig{
			FrameLogInterval: 300,
			StatsLogInterval: 60,
		},
		Limits: LimitConfig{
			MaxLogFiles:      20,
			MaxPayloadSizeMB: 16,
			MaxImagePixels:   16_000_000,
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Set default values
	config := Default()

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	config.applyEnv(logger)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Auto-detect advertised IP if not set
	if config.Server.AdvertiseIP == "" {
		if ip := getLocalIP(); ip != "" {
			config.Server.AdvertiseIP = ip
			logger.Info("Auto-detected local IP", zap.String("ip", ip))
		} else {
			config.Server.AdvertiseIP = "localhost"
			logger.Warn("Could not detect local IP, using localhost")
		}
	}

	return config, nil
}

func (c *Config) applyEnv(logger *zap.Logger) {
	if v, ok := os.LookupEnv(EnvBackground); ok {
		c.Filter.Background = v
		logger.Info("Background overridden from environment", zap.String("background", v))
	}
	if v := os.Getenv(EnvBindIP); v != "" {
		c.Server.BindIP = v
		logger.Info("Bind IP overridden from environment", zap.String("bind_ip", v))
	}
}

// Validate checks value ranges and parses the color fields
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 || c.Camera.FPS <= 0 {
		return fmt.Errorf("%w: camera %dx%d@%d", ErrInvalidConfig, c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("%w: output %dx%d", ErrInvalidConfig, c.Output.Width, c.Output.Height)
	}
	switch c.Output.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalidConfig, c.Output.Rotation)
	}
	switch c.Output.Orientation {
	case "", "landscape", "portrait":
	default:
		return fmt.Errorf("%w: orientation %q", ErrInvalidConfig, c.Output.Orientation)
	}
	if c.Render.FPS <= 0 {
		return fmt.Errorf("%w: render fps %d", ErrInvalidConfig, c.Render.FPS)
	}
	if c.Filter.Sensitivity < 0 || c.Filter.Smoothing < 0 {
		return fmt.Errorf("%w: negative sensitivity or smoothing", ErrInvalidConfig)
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("%w: preview quality %d", ErrInvalidConfig, c.Preview.Quality)
	}
	if c.Limits.MaxPayloadSizeMB <= 0 || c.Limits.MaxImagePixels <= 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	for name, v := range map[string]string{
		"filter.color":          c.Filter.Color,
		"filter.fallback_color": c.Filter.FallbackColor,
		"render.clear_color":    c.Render.ClearColor,
	} {
		if _, err := ParseHexColor(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa". Alpha defaults to opaque.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// MustHexColor is ParseHexColor for values already checked by Validate
func MustHexColor(s string) color.RGBA {
	c, err := ParseHexColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

// getLocalIP attempts to determine the local IP address
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
