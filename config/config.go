package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Tutortoise/posture-service/posture"
	"github.com/Tutortoise/posture-service/session"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Debug   bool          `yaml:"debug"`
	Locale  string        `yaml:"locale"`
	Server  ServerConfig  `yaml:"server"`
	Posture PostureConfig `yaml:"posture"`
	Session SessionConfig `yaml:"session"`
	Model   ModelConfig   `yaml:"model"`
	Archive ArchiveConfig `yaml:"archive"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxSessions  int           `yaml:"max_sessions"`
}

type PostureConfig struct {
	Mode string `yaml:"mode"`
	// Thresholds names a preset ("default" or "strict"); Custom overrides it.
	Thresholds string               `yaml:"thresholds"`
	Custom     *posture.Thresholds  `yaml:"custom_thresholds,omitempty"`
	Judge      posture.JudgeMargins `yaml:"judge"`
}

type SessionConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	CaptureWindow time.Duration `yaml:"capture_window"`
}

type ModelConfig struct {
	Enabled           bool    `yaml:"enabled"`
	LibraryPath       string  `yaml:"library_path"`
	Path              string  `yaml:"path"`
	PoolSize          int     `yaml:"pool_size"`
	PresenceThreshold float32 `yaml:"presence_threshold"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
	Prefix    string `yaml:"prefix"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load layers the embedded defaults, the optional YAML file at path and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("POSTURE_ADDR", &c.Server.Addr)
	str("POSTURE_MODE", &c.Posture.Mode)
	str("POSTURE_THRESHOLDS", &c.Posture.Thresholds)
	str("POSTURE_LOCALE", &c.Locale)
	str("ONNX_LIB_PATH", &c.Model.LibraryPath)
	str("POSE_MODEL_PATH", &c.Model.Path)
	str("S3_ENDPOINT", &c.Archive.Endpoint)
	str("ACCESS_KEY", &c.Archive.AccessKey)
	str("SECRET_KEY", &c.Archive.SecretKey)
	str("S3_BUCKET", &c.Archive.Bucket)
	str("S3_REGION", &c.Archive.Region)

	// DEBUG only turns debugging on for the literal value "true".
	if v, ok := lookup("DEBUG"); ok {
		c.Debug = v == "true"
	}
	if err := boolean("S3_SECURE", &c.Archive.Secure); err != nil {
		return err
	}
	if err := boolean("POSE_MODEL_ENABLED", &c.Model.Enabled); err != nil {
		return err
	}
	return boolean("ARCHIVE_ENABLED", &c.Archive.Enabled)
}

// Validate checks the configuration and fills in defaults for optional values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxSessions < 0 {
		return errors.New("server.max_sessions must not be negative")
	}

	if _, err := session.ParseMode(c.Posture.Mode); err != nil {
		return fmt.Errorf("posture.mode: %w", err)
	}
	if _, err := c.Thresholds(); err != nil {
		return fmt.Errorf("posture: %w", err)
	}
	if c.Posture.Judge.Nose < 0 || c.Posture.Judge.Ear < 0 {
		return errors.New("posture.judge margins must not be negative")
	}
	if c.Posture.Judge == (posture.JudgeMargins{}) {
		c.Posture.Judge = posture.DefaultJudgeMargins
	}
	if _, err := posture.CatalogFor(c.Locale); err != nil {
		return err
	}

	if c.Session.TickInterval <= 0 {
		c.Session.TickInterval = session.DefaultTickInterval
	}
	if c.Session.CaptureWindow <= 0 {
		c.Session.CaptureWindow = session.DefaultCaptureWindow
	}

	if c.Model.Enabled {
		if c.Model.Path == "" {
			return errors.New("model.path is required when the model is enabled")
		}
		if c.Model.PoolSize <= 0 {
			c.Model.PoolSize = 4
		}
		if c.Model.PresenceThreshold <= 0 || c.Model.PresenceThreshold >= 1 {
			c.Model.PresenceThreshold = 0.5
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" || c.Archive.Bucket == "" {
			return errors.New("archive.endpoint and archive.bucket are required when the archive is enabled")
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return errors.New("archive credentials are required when the archive is enabled")
		}
	}
	return nil
}

// Thresholds resolves the comparator thresholds.
func (c *Config) Thresholds() (posture.Thresholds, error) {
	if c.Posture.Custom != nil {
		return *c.Posture.Custom, c.Posture.Custom.Validate()
	}
	return posture.ThresholdsByName(c.Posture.Thresholds)
}

// SessionOptions builds the controller options described by the config.
func (c *Config) SessionOptions() (session.Options, error) {
	mode, err := session.ParseMode(c.Posture.Mode)
	if err != nil {
		return session.Options{}, err
	}
	th, err := c.Thresholds()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Mode:          mode,
		Thresholds:    th,
		Margins:       c.Posture.Judge,
		CaptureWindow: c.Session.CaptureWindow,
	}, nil
}
