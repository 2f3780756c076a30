package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raihanakbr/iat-relay/internal/capture"
	"github.com/raihanakbr/iat-relay/internal/iat"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	IAT     IATConfig     `yaml:"iat"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP listener configuration
type ServerConfig struct {
	Address string `yaml:"address"`
}

// IATConfig contains upstream recognition service configuration
type IATConfig struct {
	AppID       string `yaml:"app_id"`
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	HostURL     string `yaml:"host_url"`
	RequestPath string `yaml:"request_path"`
	Simulated   bool   `yaml:"simulated"`

	Language          string `yaml:"language"`
	Domain            string `yaml:"domain"`
	Accent            string `yaml:"accent"`
	Punctuation       bool   `yaml:"punctuation"`
	DynamicCorrection string `yaml:"dynamic_correction"`

	ConnectTimeout     int `yaml:"connect_timeout"`      // seconds
	FinalResultTimeout int `yaml:"final_result_timeout"` // seconds
}

// AudioConfig selects where session audio comes from
type AudioConfig struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8080"},
		IAT: IATConfig{
			HostURL:            "wss://iat-api.xfyun.cn",
			RequestPath:        "/v2/iat",
			Language:           iat.DefaultLanguage,
			Domain:             iat.DefaultDomain,
			Punctuation:        true,
			ConnectTimeout:     10,
			FinalResultTimeout: 5,
		},
		Audio: AudioConfig{Source: capture.SourceBrowser},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("IAT_HTTP_ADDR", &c.Server.Address)
	str("IAT_APP_ID", &c.IAT.AppID)
	str("IAT_API_KEY", &c.IAT.APIKey)
	str("IAT_API_SECRET", &c.IAT.APISecret)
	str("IAT_HOST_URL", &c.IAT.HostURL)
	str("IAT_REQUEST_PATH", &c.IAT.RequestPath)
	str("IAT_LANGUAGE", &c.IAT.Language)
	str("IAT_DOMAIN", &c.IAT.Domain)
	str("IAT_ACCENT", &c.IAT.Accent)
	str("IAT_DYNAMIC_CORRECTION", &c.IAT.DynamicCorrection)
	str("AUDIO_SOURCE", &c.Audio.Source)
	str("AUDIO_FILE", &c.Audio.File)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	if err := boolean("IAT_SIMULATED", &c.IAT.Simulated); err != nil {
		return err
	}
	if err := boolean("IAT_PUNCTUATION", &c.IAT.Punctuation); err != nil {
		return err
	}
	if err := integer("IAT_CONNECT_TIMEOUT", &c.IAT.ConnectTimeout); err != nil {
		return err
	}
	return integer("IAT_FINAL_RESULT_TIMEOUT", &c.IAT.FinalResultTimeout)
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.IAT.Validate(); err != nil {
		return fmt.Errorf("iat config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

// Validate validates upstream configuration. Credentials are only required
// when talking to the real service.
func (i *IATConfig) Validate() error {
	if !i.Simulated {
		if i.AppID == "" {
			return fmt.Errorf("app_id is required unless simulated")
		}
		if i.APIKey == "" {
			return fmt.Errorf("api_key is required unless simulated")
		}
		if i.APISecret == "" {
			return fmt.Errorf("api_secret is required unless simulated")
		}
	}

	if !strings.HasPrefix(i.HostURL, "ws://") && !strings.HasPrefix(i.HostURL, "wss://") {
		return fmt.Errorf("host_url must be a ws:// or wss:// URL, got %q", i.HostURL)
	}

	if !strings.HasPrefix(i.RequestPath, "/") {
		return fmt.Errorf("request_path must start with /, got %q", i.RequestPath)
	}

	if i.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", i.ConnectTimeout)
	}

	if i.FinalResultTimeout < 1 {
		return fmt.Errorf("final_result_timeout must be at least 1 second, got %d", i.FinalResultTimeout)
	}

	return nil
}

// ClientConfig converts the upstream settings for iat.NewFactory.
func (i *IATConfig) ClientConfig() iat.Config {
	punctuation := i.Punctuation
	return iat.Config{
		AppID:       i.AppID,
		HostURL:     i.HostURL,
		RequestPath: i.RequestPath,
		Business: iat.BusinessParams{
			Language:          i.Language,
			Domain:            i.Domain,
			Accent:            i.Accent,
			Punctuation:       &punctuation,
			DynamicCorrection: i.DynamicCorrection,
		},
		ConnectTimeout:     time.Duration(i.ConnectTimeout) * time.Second,
		FinalResultTimeout: time.Duration(i.FinalResultTimeout) * time.Second,
	}
}

// Validate validates audio source configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case capture.SourceBrowser:
	case capture.SourceWAV:
		if a.File == "" {
			return fmt.Errorf("file is required for source %q", a.Source)
		}
	default:
		return fmt.Errorf("source must be %q or %q, got %q", capture.SourceBrowser, capture.SourceWAV, a.Source)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}
	return nil
}
