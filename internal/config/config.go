package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigFileEnv names an optional YAML/TOML/ENV file read before the environment.
const ConfigFileEnv = "VOXREC_CONFIG"

// Config holds all runtime configuration. Environment variables override the file.
type Config struct {
	// Control surface
	Port int `yaml:"port" env:"VOXREC_PORT" env-default:"8080"`

	// Meeting backend (collaborator)
	Backend BackendConfig `yaml:"backend"`

	// On-disk layout
	RecordingsDir string `yaml:"recordings_dir" env:"VOXREC_RECORDINGS_DIR" env-default:"recordings"`
	OutputDir     string `yaml:"output_dir" env:"VOXREC_OUTPUT_DIR" env-default:"output"`

	// Capture behavior
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"VOXREC_CONNECT_TIMEOUT" env-default:"30s"`
	SilenceWindow  time.Duration `yaml:"silence_window" env:"VOXREC_SILENCE_WINDOW" env-default:"100ms"`
	STUNServers    []string      `yaml:"stun_servers" env:"VOXREC_STUN_SERVERS" env-separator:","`

	// Assembly
	FFmpegPath string        `yaml:"ffmpeg_path" env:"VOXREC_FFMPEG" env-default:"ffmpeg"`
	Codec      string        `yaml:"codec" env:"VOXREC_CODEC" env-default:"libopus"`
	EncodedExt string        `yaml:"encoded_ext" env:"VOXREC_ENCODED_EXT" env-default:"ogg"`
	SilenceDB  float64       `yaml:"silence_threshold_db" env:"VOXREC_SILENCE_THRESHOLD_DB" env-default:"-50"`
	SilenceMin time.Duration `yaml:"silence_min_duration" env:"VOXREC_SILENCE_MIN_DURATION" env-default:"3s"`

	// Logging
	LogLevel string `yaml:"log_level" env:"VOXREC_LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `yaml:"log_json" env:"VOXREC_LOG_JSON" env-default:"false"`
}

type BackendConfig struct {
	URL           string        `yaml:"url" env:"VOXREC_BACKEND_URL" env-default:"http://localhost:3000"`
	Timeout       time.Duration `yaml:"timeout" env:"VOXREC_BACKEND_TIMEOUT" env-default:"30s"`
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"VOXREC_BACKEND_UPLOAD_TIMEOUT" env-default:"2m"`
}

// Load reads the optional config file named by VOXREC_CONFIG, then the environment.
func Load() (*Config, error) {
	var cfg Config
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %v", c.ConnectTimeout)
	}
	if c.SilenceWindow <= 0 {
		return fmt.Errorf("silence window must be positive, got %v", c.SilenceWindow)
	}
	if c.SilenceDB > 0 {
		return fmt.Errorf("silence threshold must be <= 0 dB, got %v", c.SilenceDB)
	}
	if c.RecordingsDir == "" || c.OutputDir == "" {
		return fmt.Errorf("recordings and output directories are required")
	}
	return nil
}
