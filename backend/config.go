package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Application configuration and settings

type Config struct {
	// [server]
	Port     int    `ini:"port"`
	LogLevel string `ini:"log_level"`

	// [downloads]
	OutputDirectory     string `ini:"output_directory"`
	ConcurrentDownloads int    `ini:"concurrent_downloads"`

	// [ytdlp]
	YtDlpPath        string        `ini:"path"`
	AutoUpdate       bool          `ini:"auto_update"`
	ProxyURL         string        `ini:"proxy_url"`
	SocketTimeout    time.Duration `ini:"socket_timeout"`
	Retries          int           `ini:"retries"`
	ExtractorRetries int           `ini:"extractor_retries"`
	RetrySleep       time.Duration `ini:"retry_sleep"`
	BackoffStep      time.Duration `ini:"backoff_step"`
	BackoffMax       time.Duration `ini:"backoff_max"`

	// [catalog]
	CatalogBaseURL  string        `ini:"base_url"`
	CatalogRate     float64       `ini:"requests_per_second"`
	CatalogCacheTTL time.Duration `ini:"cache_ttl"`
	RedisURL        string        `ini:"redis_url"`
}

var defaultConfig = Config{
	Port:                8080,
	LogLevel:            "info",
	OutputDirectory:     "",
	ConcurrentDownloads: 2,
	YtDlpPath:           "yt-dlp",
	AutoUpdate:          false,
	SocketTimeout:       DefaultExtractorConfig.SocketTimeout,
	Retries:             DefaultExtractorConfig.Retries,
	ExtractorRetries:    DefaultExtractorConfig.ExtractorRetries,
	RetrySleep:          DefaultExtractorConfig.RetrySleep,
	BackoffStep:         DefaultExtractorConfig.BackoffStep,
	BackoffMax:          DefaultExtractorConfig.BackoffMax,
	CatalogBaseURL:      "https://saavn.sumit.co",
	CatalogRate:         5,
	CatalogCacheTTL:     10 * time.Minute,
}

// DefaultConfig returns a copy of the built-in defaults.
func DefaultConfig() *Config {
	cfg := defaultConfig
	cfg.OutputDirectory = GetDefaultOutputDirectory()
	return &cfg
}

// GetConfigPath returns the path to the config file.
// HONGIT_CONFIG overrides the default location.
func GetConfigPath() string {
	if env := os.Getenv("HONGIT_CONFIG"); env != "" {
		return env
	}
	configDir, _ := os.UserConfigDir()
	return filepath.Join(configDir, "hongit", "config.ini")
}

// GetDefaultOutputDirectory returns the default download folder.
func GetDefaultOutputDirectory() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, "Music", "Hongit")
}

// LoadConfig loads configuration from the default path and applies
// environment overrides.
func LoadConfig() (*Config, error) {
	return LoadConfigWithEnv(GetConfigPath(), os.Getenv)
}

// LoadConfigWithEnv reads the INI file at path (a missing file means
// defaults) and applies overrides looked up through getenv.
func LoadConfigWithEnv(path string, getenv func(string) string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		file, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := mapConfigSections(file, config); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnvOverrides(config, getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Each section maps onto the same struct; the ini tags are unique across
// sections so partial files leave other fields at their defaults.
func mapConfigSections(file *ini.File, config *Config) error {
	for _, name := range []string{"server", "downloads", "ytdlp", "catalog"} {
		if !file.HasSection(name) {
			continue
		}
		if err := file.Section(name).MapTo(config); err != nil {
			return fmt.Errorf("section [%s]: %w", name, err)
		}
	}
	return nil
}

func applyEnvOverrides(config *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		config.Port = port
	}
	if v := getenv("OUTPUT_DIR"); v != "" {
		config.OutputDirectory = v
	}
	if v := getenv("PROXY_URL"); v != "" {
		config.ProxyURL = v
	}
	if v := getenv("YTDLP_PATH"); v != "" {
		config.YtDlpPath = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		config.RedisURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ConcurrentDownloads < 1 {
		c.ConcurrentDownloads = 1
	}
	if c.Retries < 0 || c.ExtractorRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.OutputDirectory == "" {
		c.OutputDirectory = GetDefaultOutputDirectory()
	}
	return ValidateOutputDirectory(c.OutputDirectory)
}

// ExtractorConfig returns the engine tuning described by the config.
func (c *Config) ExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		SocketTimeout:    c.SocketTimeout,
		Retries:          c.Retries,
		ExtractorRetries: c.ExtractorRetries,
		RetrySleep:       c.RetrySleep,
		BackoffStep:      c.BackoffStep,
		BackoffMax:       c.BackoffMax,
		ProxyURL:         c.ProxyURL,
	}
}

// SaveConfig writes config as INI to path.
func SaveConfig(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file := ini.Empty()
	sections := map[string]any{
		"server": &struct {
			Port     int    `ini:"port"`
			LogLevel string `ini:"log_level"`
		}{config.Port, config.LogLevel},
		"downloads": &struct {
			OutputDirectory     string `ini:"output_directory"`
			ConcurrentDownloads int    `ini:"concurrent_downloads"`
		}{config.OutputDirectory, config.ConcurrentDownloads},
		"ytdlp": &struct {
			Path             string        `ini:"path"`
			AutoUpdate       bool          `ini:"auto_update"`
			ProxyURL         string        `ini:"proxy_url"`
			SocketTimeout    time.Duration `ini:"socket_timeout"`
			Retries          int           `ini:"retries"`
			ExtractorRetries int           `ini:"extractor_retries"`
			RetrySleep       time.Duration `ini:"retry_sleep"`
			BackoffStep      time.Duration `ini:"backoff_step"`
			BackoffMax       time.Duration `ini:"backoff_max"`
		}{
			config.YtDlpPath, config.AutoUpdate, config.ProxyURL,
			config.SocketTimeout, config.Retries, config.ExtractorRetries,
			config.RetrySleep, config.BackoffStep, config.BackoffMax,
		},
		"catalog": &struct {
			BaseURL  string        `ini:"base_url"`
			Rate     float64       `ini:"requests_per_second"`
			CacheTTL time.Duration `ini:"cache_ttl"`
			RedisURL string        `ini:"redis_url"`
		}{config.CatalogBaseURL, config.CatalogRate, config.CatalogCacheTTL, config.RedisURL},
	}

	for _, name := range []string{"server", "downloads", "ytdlp", "catalog"} {
		if err := file.Section(name).ReflectFrom(sections[name]); err != nil {
			return fmt.Errorf("section [%s]: %w", name, err)
		}
	}
	return file.SaveTo(path)
}
