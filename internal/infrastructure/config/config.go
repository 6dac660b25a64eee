package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Model     ModelConfig
	Device    DeviceConfig
	Agent     AgentConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8800" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" toml:"host"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// ModelConfig holds vision-language model endpoint configuration.
type ModelConfig struct {
	BaseURL     string        `envconfig:"MODEL_BASE_URL" default:"http://localhost:8000/v1" toml:"base_url"`
	Name        string        `envconfig:"MODEL_NAME" default:"autoglm-phone" toml:"name"`
	APIKey      string        `envconfig:"MODEL_API_KEY" default:"" toml:"api_key"`
	Timeout     time.Duration `envconfig:"MODEL_TIMEOUT" default:"120s" toml:"timeout"`
	MaxRetries  int           `envconfig:"MODEL_MAX_RETRIES" default:"3" toml:"max_retries"`
	Stream      bool          `envconfig:"MODEL_STREAM" default:"true" toml:"stream"`
	Thirdparty  bool          `envconfig:"MODEL_THIRDPARTY" default:"false" toml:"thirdparty"`
	Thinking    bool          `envconfig:"MODEL_THINKING" default:"true" toml:"thinking"`
	RatePerSec  float64       `envconfig:"MODEL_RATE_PER_SEC" default:"2" toml:"rate_per_sec"`
	RateBurst   int           `envconfig:"MODEL_RATE_BURST" default:"4" toml:"rate_burst"`
	HistoryTurn int           `envconfig:"MODEL_HISTORY_TURNS" default:"5" toml:"history_turns"`
}

// DeviceConfig holds device backend configuration.
type DeviceConfig struct {
	ADBPath           string        `envconfig:"ADB_PATH" default:"adb" toml:"adb_path"`
	HDCPath           string        `envconfig:"HDC_PATH" default:"hdc" toml:"hdc_path"`
	XCTestURL         string        `envconfig:"XCTEST_URL" default:"" toml:"xctest_url"`
	CommandTimeout    time.Duration `envconfig:"DEVICE_COMMAND_TIMEOUT" default:"10s" toml:"command_timeout"`
	CaptureTimeout    time.Duration `envconfig:"DEVICE_CAPTURE_TIMEOUT" default:"15s" toml:"capture_timeout"`
	ProbeTimeout      time.Duration `envconfig:"DEVICE_PROBE_TIMEOUT" default:"5s" toml:"probe_timeout"`
	TextChunkSize     int           `envconfig:"DEVICE_TEXT_CHUNK" default:"256" toml:"text_chunk"`
	ForegroundPattern string        `envconfig:"DEVICE_FOREGROUND_PATTERN" default:"" toml:"foreground_pattern"`
	AppCatalogPath    string        `envconfig:"DEVICE_APP_CATALOG" default:"" toml:"app_catalog"`
}

// AgentConfig holds control loop configuration.
type AgentConfig struct {
	MaxSteps      int           `envconfig:"AGENT_MAX_STEPS" default:"100" toml:"max_steps"`
	DecodeRetries int           `envconfig:"AGENT_DECODE_RETRIES" default:"3" toml:"decode_retries"`
	StepDelay     time.Duration `envconfig:"AGENT_STEP_DELAY" default:"500ms" toml:"step_delay"`
	LoopWindow    int           `envconfig:"AGENT_LOOP_WINDOW" default:"6" toml:"loop_window"`
	StuckScreens  int           `envconfig:"AGENT_STUCK_SCREENS" default:"5" toml:"stuck_screens"`
	Language      string        `envconfig:"AGENT_LANG" default:"en" toml:"lang"`
	AuditDir      string        `envconfig:"AGENT_AUDIT_DIR" default:"" toml:"audit_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"dev"`
}

// RateLimitConfig holds per-IP API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays a TOML config file on top of cfg. Keys absent from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay struct {
		Server    *ServerConfig    `toml:"server"`
		Model     *ModelConfig     `toml:"model"`
		Device    *DeviceConfig    `toml:"device"`
		Agent     *AgentConfig     `toml:"agent"`
		Logging   *LogConfig       `toml:"logging"`
		RateLimit *RateLimitConfig `toml:"rate_limit"`
	}
	overlay.Server = &cfg.Server
	overlay.Model = &cfg.Model
	overlay.Device = &cfg.Device
	overlay.Agent = &cfg.Agent
	overlay.Logging = &cfg.Logging
	overlay.RateLimit = &cfg.RateLimit

	if err := toml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8800",
			Host: "0.0.0.0",
		},
		Model: ModelConfig{
			BaseURL:     "http://localhost:8000/v1",
			Name:        "autoglm-phone",
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			Stream:      true,
			Thinking:    true,
			RatePerSec:  2,
			RateBurst:   4,
			HistoryTurn: 5,
		},
		Device: DeviceConfig{
			ADBPath:        "adb",
			HDCPath:        "hdc",
			CommandTimeout: 10 * time.Second,
			CaptureTimeout: 15 * time.Second,
			ProbeTimeout:   5 * time.Second,
			TextChunkSize:  256,
		},
		Agent: AgentConfig{
			MaxSteps:      100,
			DecodeRetries: 3,
			StepDelay:     500 * time.Millisecond,
			LoopWindow:    6,
			StuckScreens:  5,
			Language:      "en",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
