package config

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests default configuration loading
func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvBackground, "")
	os.Unsetenv(EnvBackground)

	// Use non-existent file to trigger defaults
	cfg, err := LoadConfig("non-existent-config.toml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Verify default values
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("Default camera = %dx%d, want 640x480", cfg.Camera.Width, cfg.Camera.Height)
	}

	if cfg.Render.Backend != "software" {
		t.Errorf("Default Render.Backend = %s, want software", cfg.Render.Backend)
	}

	if cfg.Filter.Sensitivity != 0.4 {
		t.Errorf("Default Filter.Sensitivity = %v, want 0.4", cfg.Filter.Sensitivity)
	}

	if cfg.Filter.FallbackColor != "#ff00ff" {
		t.Errorf("Default Filter.FallbackColor = %s, want #ff00ff", cfg.Filter.FallbackColor)
	}

	if cfg.Server.WebPort != 8080 {
		t.Errorf("Default Server.WebPort = %d, want 8080", cfg.Server.WebPort)
	}

	if cfg.Preview.RTP.Enabled {
		t.Error("RTP preview should be disabled by default")
	}

	if cfg.Server.AdvertiseIP == "" {
		t.Error("AdvertiseIP should be auto-detected or localhost")
	}
}

// TestLoadConfigFromFile tests loading config from TOML file
func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	// Write test config
	configContent := `
[camera]
source = "test"
width = 1280
height = 720
fps = 15

[output]
width = 720
height = 1280
rotation = 90
orientation = "portrait"

[filter]
enabled = true
color = "#10e020"
sensitivity = 0.3
background = "beach.jpg"

[server]
web_port = 9090

[preview.rtp]
enabled = true
dest_host = "192.168.1.100"
dest_port = 6000
ssrc = 0xAABBCCDD
`
	if err := os.WriteFile(path, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Camera.Source != "test" || cfg.Camera.Width != 1280 || cfg.Camera.FPS != 15 {
		t.Errorf("Camera = %+v", cfg.Camera)
	}

	if cfg.Output.Rotation != 90 || cfg.Output.Orientation != "portrait" {
		t.Errorf("Output = %+v", cfg.Output)
	}

	if !cfg.Filter.Enabled || cfg.Filter.Background != "beach.jpg" {
		t.Errorf("Filter = %+v", cfg.Filter)
	}

	// Unset keys keep their defaults
	if cfg.Filter.Smoothing != 0.1 {
		t.Errorf("Filter.Smoothing = %v, want default 0.1", cfg.Filter.Smoothing)
	}

	if cfg.Server.WebPort != 9090 {
		t.Errorf("Server.WebPort = %d, want 9090", cfg.Server.WebPort)
	}

	if !cfg.Preview.RTP.Enabled || cfg.Preview.RTP.DestPort != 6000 {
		t.Errorf("Preview.RTP = %+v", cfg.Preview.RTP)
	}

	if cfg.Preview.RTP.SSRC != 0xAABBCCDD {
		t.Errorf("RTP SSRC = %x, want 0xAABBCCDD", cfg.Preview.RTP.SSRC)
	}
}

// TestEnvOverrides tests environment variables taking precedence over the file
func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBackground, "/srv/backgrounds/studio.png")
	t.Setenv(EnvBindIP, "127.0.0.1")

	cfg, err := LoadConfig("non-existent-config.toml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Filter.Background != "/srv/backgrounds/studio.png" {
		t.Errorf("Filter.Background = %s", cfg.Filter.Background)
	}

	if cfg.Server.BindIP != "127.0.0.1" {
		t.Errorf("Server.BindIP = %s, want 127.0.0.1", cfg.Server.BindIP)
	}
}

// TestSaveConfig tests configuration saving
func TestSaveConfig(t *testing.T) {
	cfg := Default()
	cfg.Camera.Device = "/dev/video0"
	cfg.Filter.Background = "office.png"
	cfg.Preview.RTP.Enabled = true
	cfg.Server.AdvertiseIP = "192.168.1.1"

	path := filepath.Join(t.TempDir(), "saved.toml")

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	// Load it back
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Camera.Device != cfg.Camera.Device {
		t.Errorf("Saved/loaded Camera.Device mismatch: %s != %s", loaded.Camera.Device, cfg.Camera.Device)
	}

	if loaded.Preview.RTP.Enabled != cfg.Preview.RTP.Enabled {
		t.Error("Saved/loaded Preview.RTP.Enabled mismatch")
	}

	if loaded.Server.AdvertiseIP != "192.168.1.1" {
		t.Errorf("Saved/loaded AdvertiseIP mismatch: %s", loaded.Server.AdvertiseIP)
	}
}

// TestInvalidConfigFile tests handling of invalid config files
func TestInvalidConfigFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"syntax", "[camera\nwidth = \"not a number\"\n", false},
		{"rotation", "[output]\nrotation = 45\n", true},
		{"color", "[filter]\ncolor = \"green\"\n", true},
		{"quality", "[preview]\nquality = 0\n", true},
		{"output", "[output]\nwidth = 0\n", true},
		{"orientation", "[output]\norientation = \"diagonal\"\n", true},
		{"image limit", "[limits]\nmax_image_pixels = 0\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected error for invalid config file")
			}
			if tt.invalid && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v is not ErrInvalidConfig", err)
			}
		})
	}
}

// TestParseHexColor tests color parsing used for filter and render colors
func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#00ff00", color.RGBA{G: 255, A: 255}, false},
		{"ff00ff", color.RGBA{R: 255, B: 255, A: 255}, false},
		{"#10203040", color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0x40}, false},
		{"#fff", color.RGBA{}, true},
		{"#gg0000", color.RGBA{}, true},
	}

	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHexColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHexColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestTimeoutConfigDefaults tests timeout configuration defaults
func TestTimeoutConfigDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Timeouts.ShutdownTimeout == 0 {
		t.Error("ShutdownTimeout is 0")
	}

	if cfg.Timeouts.HTTPShutdownTimeout == 0 {
		t.Error("HTTPShutdownTimeout is 0")
	}

	if cfg.Timeouts.StillTimeout == 0 {
		t.Error("StillTimeout is 0")
	}
}

// TestLoggingConfigDefaults tests logging configuration defaults
func TestLoggingConfigDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Logging.FrameLogInterval == 0 {
		t.Error("FrameLogInterval is 0")
	}

	if cfg.Limits.MaxLogFiles == 0 {
		t.Error("MaxLogFiles is 0")
	}

	if cfg.Limits.MaxImagePixels == 0 {
		t.Error("MaxImagePixels is 0")
	}
}
