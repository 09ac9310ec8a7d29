package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "ciphertv"

// Config is the root configuration for ciphertv
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Player   PlayerConfig   `mapstructure:"player"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Advanced AdvancedConfig `mapstructure:"advanced"`
}

// APIConfig points at the Consumet-style metadata API
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// SiteURL is used to build shareable watch links
	SiteURL string `mapstructure:"site_url"`
}

// ProxyConfig configures the CORS proxy rewrite
type ProxyConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	LocalPrefix    string   `mapstructure:"local_prefix"`
	TrustedOrigins []string `mapstructure:"trusted_origins"`
}

// PlaybackConfig holds watch-page level options
type PlaybackConfig struct {
	FallbackURL      string `mapstructure:"fallback_url"`
	AutoPlay         bool   `mapstructure:"autoplay"`
	Debug            bool   `mapstructure:"debug"`
	SubtitleLanguage string `mapstructure:"subtitle_language"`
	// CompletedPercent marks a history entry as watched
	CompletedPercent float64 `mapstructure:"completed_percent"`
	// NetworkRetryLimit caps fatal network retries before falling back, 0 is unlimited
	NetworkRetryLimit int `mapstructure:"network_retry_limit"`
}

// PlayerConfig configures the mpv media output
type PlayerConfig struct {
	NativeHLS      bool          `mapstructure:"native_hls"`
	LoadUserConfig bool          `mapstructure:"load_user_config"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Args           []string      `mapstructure:"args"`
}

// StreamConfig tunes the HLS streaming client
type StreamConfig struct {
	MaxBufferLength    float64       `mapstructure:"max_buffer_length"`
	MaxMaxBufferLength float64       `mapstructure:"max_max_buffer_length"`
	MaxBufferSize      int64         `mapstructure:"max_buffer_size"`
	MaxBufferHole      float64       `mapstructure:"max_buffer_hole"`
	LowLatencyMode     bool          `mapstructure:"low_latency_mode"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay"`
	SpoolDir           string        `mapstructure:"spool_dir"`
}

// DatabaseConfig configures the watch history database
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	WALMode        bool   `mapstructure:"wal_mode"`
	AutoVacuum     bool   `mapstructure:"auto_vacuum"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AdvancedConfig holds debugging and platform toggles
type AdvancedConfig struct {
	Debug bool `mapstructure:"debug"`
	// ClipboardCommand overrides the clipboard writer, e.g. "wl-copy"
	ClipboardCommand string `mapstructure:"clipboard_command"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api-consumet-nu.vercel.app")
	v.SetDefault("api.provider", "zoro")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.site_url", "https://ciphertv.dev")

	v.SetDefault("proxy.base_url", "https://hls.ciphertv.dev/proxy?url=")
	v.SetDefault("proxy.local_prefix", "/api/")
	v.SetDefault("proxy.trusted_origins", []string{})

	v.SetDefault("playback.fallback_url", "")
	v.SetDefault("playback.autoplay", true)
	v.SetDefault("playback.debug", false)
	v.SetDefault("playback.subtitle_language", "english")
	v.SetDefault("playback.completed_percent", 90.0)
	v.SetDefault("playback.network_retry_limit", 0)

	v.SetDefault("player.native_hls", false)
	v.SetDefault("player.load_user_config", false)
	v.SetDefault("player.poll_interval", 250*time.Millisecond)
	v.SetDefault("player.args", []string{})

	v.SetDefault("stream.max_buffer_length", 30.0)
	v.SetDefault("stream.max_max_buffer_length", 60.0)
	v.SetDefault("stream.max_buffer_size", 60*1000*1000)
	v.SetDefault("stream.max_buffer_hole", 0.5)
	v.SetDefault("stream.low_latency_mode", false)
	v.SetDefault("stream.retry_delay", time.Second)
	v.SetDefault("stream.max_retry_delay", 30*time.Second)
	v.SetDefault("stream.spool_dir", filepath.Join(os.TempDir(), appName))

	v.SetDefault("database.path", filepath.Join(getDataDir(), appName, appName+".db"))
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.wal_mode", true)
	v.SetDefault("database.auto_vacuum", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.color", true)
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("advanced.debug", false)
	v.SetDefault("advanced.clipboard_command", "")
}

// Load reads the configuration file (explicit path or the default location),
// applies environment overrides and returns the decoded config with its viper instance
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, v, nil
}

// Default returns the configuration produced by the defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// WriteDefault writes a config file populated with defaults to path
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	v := viper.New()
	SetDefaults(v)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// InitializeDirs creates the config, data and state directories
func InitializeDirs() error {
	for _, dir := range []string{
		ConfigDir(),
		filepath.Join(getDataDir(), appName),
		filepath.Join(getStateDir(), appName),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigDir returns the directory holding config.yaml
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appName
	}
	return filepath.Join(home, ".config", appName)
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func getDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}
