package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Printer       PrinterConfig        `yaml:"printer"`
	Ticker        TickerConfig         `yaml:"ticker"`
	Voice         VoiceConfig          `yaml:"voice"`
	Sound         SoundConfig          `yaml:"sound"`
	Log           LogConfig            `yaml:"log"`
	History       HistoryConfig        `yaml:"history"`
	Server        ServerConfig         `yaml:"server"`
	Ingress       IngressConfig        `yaml:"ingress"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Announcements []AnnouncementConfig `yaml:"announcements"`
}

// PrinterConfig selects and configures the output backend.
type PrinterConfig struct {
	Backend    string           `yaml:"backend"` // "console", "network", "device"
	Network    NetworkConfig    `yaml:"network"`
	Device     DeviceConfig     `yaml:"device"`
	Console    ConsoleConfig    `yaml:"console"`
	PaperWidth int              `yaml:"paper_width"` // printable dots per line
	Formatting FormattingConfig `yaml:"formatting"`
}

// NetworkConfig holds settings for a raw TCP (port 9100) printer.
type NetworkConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
}

// DeviceConfig holds settings for a printer exposed as a device file.
type DeviceConfig struct {
	Path string `yaml:"path"` // e.g. /dev/usb/lp0
}

// ConsoleConfig holds settings for the console backend.
type ConsoleConfig struct {
	ImageDir string `yaml:"image_dir"` // images are saved here as PNG when set
}

// FormattingConfig is the initial formatting applied before every printed job.
type FormattingConfig struct {
	Align    string `yaml:"align"`     // left, center, right
	Font     string `yaml:"font"`      // a, b
	TextType string `yaml:"text_type"` // normal, B, U, U2, BU, BU2
	Width    int    `yaml:"width"`     // 1-8
	Height   int    `yaml:"height"`    // 1-8
	Density  int    `yaml:"density"`   // 0-8, 9 leaves the printer default
	Invert   bool   `yaml:"invert"`
	Smooth   bool   `yaml:"smooth"`
	Flip     bool   `yaml:"flip"`
}

// TickerConfig holds the poll intervals of the two loops.
type TickerConfig struct {
	Dispatch Duration `yaml:"dispatch"`
	Voice    Duration `yaml:"voice"`
}

// VoiceConfig holds text-to-speech settings.
type VoiceConfig struct {
	Engine  string `yaml:"engine"`   // "log", "windows-sapi", "edge-tts", "command"
	VoiceID string `yaml:"voice"`    // SAPI voice token id or Edge voice name
	Command string `yaml:"command"`  // e.g. "espeak-ng -s 160 {text}"
	TempDir string `yaml:"temp_dir"` // scratch dir for synthesized audio
}

// SoundConfig holds sound playback settings.
type SoundConfig struct {
	Enabled bool    `yaml:"enabled"`
	Volume  float64 `yaml:"volume"` // 0.0 - 1.0
	Root    string  `yaml:"root"`   // network producers may only play files below this directory
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// HistoryConfig holds settings for history journals.
type HistoryConfig struct {
	Dispatch HistorySettings `yaml:"dispatch"`
	TTS      HistorySettings `yaml:"tts"`
}

// HistorySettings holds settings for a specific journal.
type HistorySettings struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	Retain  Duration `yaml:"retain"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// IngressConfig holds settings for job producers.
type IngressConfig struct {
	NATS      NATSConfig      `yaml:"nats"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// NATSConfig holds settings for the NATS subscriber.
type NATSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	URL            string   `yaml:"url"`
	Subject        string   `yaml:"subject"`
	Token          string   `yaml:"token"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// WebSocketConfig holds settings for the websocket ingress.
type WebSocketConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// AnnouncementConfig describes a recurring output collection.
type AnnouncementConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron spec or descriptor, e.g. "@every 10m"
	Text     string `yaml:"text"`
	Bold     bool   `yaml:"bold"`
	Voice    string `yaml:"voice"`
	Sound    string `yaml:"sound"`
	Front    bool   `yaml:"front"` // queue ahead of waiting collections
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Printer: PrinterConfig{
			Backend: "console",
			Network: NetworkConfig{
				Port:    9100,
				Timeout: Duration(60 * time.Second),
			},
			Device: DeviceConfig{
				Path: "/dev/usb/lp0",
			},
			PaperWidth: 512,
			Formatting: FormattingConfig{
				Align:    "left",
				Font:     "a",
				TextType: "normal",
				Width:    1,
				Height:   1,
				Density:  9,
			},
		},
		Ticker: TickerConfig{
			Dispatch: Duration(500 * time.Millisecond),
			Voice:    Duration(100 * time.Millisecond),
		},
		Voice: VoiceConfig{
			Engine:  "log",
			TempDir: "./data/tts",
		},
		Sound: SoundConfig{
			Enabled: true,
			Volume:  1.0,
			Root:    "./sounds",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
		},
		History: HistoryConfig{
			Dispatch: HistorySettings{
				Enabled: true,
				Path:    "./data/history.db",
				Retain:  Duration(7 * Day),
			},
			TTS: HistorySettings{
				Enabled: false,
				Path:    "./logs/tts.log",
			},
		},
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Ingress: IngressConfig{
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				Subject:        "printcast.jobs",
				ConnectTimeout: Duration(5 * time.Second),
			},
			WebSocket: WebSocketConfig{
				Enabled:    true,
				RatePerSec: 5,
				Burst:      10,
			},
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			ServiceName: "printcast",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Env fallbacks are never written back to disk.
		if cfg.Ingress.NATS.Token == "" {
			if token := os.Getenv("PRINTCAST_NATS_TOKEN"); token != "" {
				cfg.Ingress.NATS.Token = token
			}
		}
		if url := os.Getenv("PRINTCAST_NATS_URL"); url != "" {
			cfg.Ingress.NATS.URL = url
		}

		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

var (
	validAligns    = map[string]bool{"left": true, "center": true, "right": true}
	validFonts     = map[string]bool{"a": true, "b": true}
	validTextTypes = map[string]bool{"normal": true, "B": true, "U": true, "U2": true, "BU": true, "BU2": true}
)

// Validate checks enum and range fields.
func Validate(cfg *Config) error {
	f := cfg.Printer.Formatting
	if !validAligns[f.Align] {
		return fmt.Errorf("invalid printer.formatting.align '%s': must be left, center or right", f.Align)
	}
	if !validFonts[f.Font] {
		return fmt.Errorf("invalid printer.formatting.font '%s': must be a or b", f.Font)
	}
	if !validTextTypes[f.TextType] {
		return fmt.Errorf("invalid printer.formatting.text_type '%s'", f.TextType)
	}
	if f.Width < 1 || f.Width > 8 || f.Height < 1 || f.Height > 8 {
		return fmt.Errorf("invalid printer.formatting size %dx%d: width and height must be 1-8", f.Width, f.Height)
	}
	if f.Density < 0 || f.Density > 9 {
		return fmt.Errorf("invalid printer.formatting.density %d: must be 0-9", f.Density)
	}
	if cfg.Printer.PaperWidth <= 0 {
		return fmt.Errorf("invalid printer.paper_width %d", cfg.Printer.PaperWidth)
	}
	if cfg.Ticker.Dispatch <= 0 || cfg.Ticker.Voice <= 0 {
		return fmt.Errorf("ticker intervals must be positive")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# printcast Configuration
# ----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	reBackend := regexp.MustCompile(`(?m)^(\s+)backend:`)
	data = reBackend.ReplaceAll(data, []byte("${1}# Options: console, network, device\n${1}backend:"))

	reEngine := regexp.MustCompile(`(?m)^(\s+)engine:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: log, windows-sapi, edge-tts, command\n${1}engine:"))

	reDensity := regexp.MustCompile(`(?m)^(\s+)density:`)
	data = reDensity.ReplaceAll(data, []byte("${1}# 0-8, 9 keeps the printer default\n${1}density:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
