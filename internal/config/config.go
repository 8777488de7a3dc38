// Package config loads launcher settings from a YAML file and
// CRAFTLAUNCHER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/distantorigin/craftlauncher/internal/channel"
)

// EnvPrefix prefixes every environment override, e.g. CRAFTLAUNCHER_DATA_DIR
const EnvPrefix = "CRAFTLAUNCHER"

// DefaultFile is looked up in the working directory and the data directory
const DefaultFile = "config.yaml"

type Config struct {
	DataDir  string         `mapstructure:"data_dir" yaml:"data_dir"`
	Channel  string         `mapstructure:"channel" yaml:"channel"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Launch   LaunchConfig   `mapstructure:"launch" yaml:"launch"`
	Preserve []string       `mapstructure:"preserve" yaml:"preserve"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

type CatalogConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
}

type DownloadConfig struct {
	Parallelism    int           `mapstructure:"parallelism" yaml:"parallelism"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	DisableDelta   bool          `mapstructure:"disable_delta" yaml:"disable_delta"`
}

type LaunchConfig struct {
	Executable string   `mapstructure:"executable" yaml:"executable"`
	Args       []string `mapstructure:"args" yaml:"args"`
	Env        []string `mapstructure:"env" yaml:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "craftlauncher")
	}
	return ".craftlauncher"
}

// Load reads the config file at path. An empty path looks for
// config.yaml in the working directory; a missing default file is fine,
// a missing explicit file is not.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("channel", string(channel.Release))
	v.SetDefault("catalog.url", "http://localhost:8600")
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("catalog.cache_size", 64)
	v.SetDefault("download.parallelism", 4)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.initial_backoff", 500*time.Millisecond)
	v.SetDefault("download.max_backoff", 8*time.Second)
	v.SetDefault("download.disable_delta", false)
	v.SetDefault("launch.executable", "java")
	v.SetDefault("launch.args", []string{"-jar", "${instance_dir}/client.jar", "--gameDir", "${instance_dir}", "--version", "${version_id}"})
	v.SetDefault("launch.env", []string{})
	v.SetDefault("preserve", []string{"options.txt", "servers.dat", "saves/", "screenshots/", "logs/", "crash-reports/"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", "127.0.0.1:8700")

	// Support Environment Variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Catalog.URL == "" {
		return errors.New("catalog.url is required")
	}
	if _, err := channel.Parse(c.Channel); err != nil {
		return err
	}

	if c.Download.Parallelism <= 0 {
		c.Download.Parallelism = 4
	}
	if c.Download.MaxAttempts <= 0 {
		c.Download.MaxAttempts = 3
	}
	if c.Download.MaxBackoff < c.Download.InitialBackoff {
		return fmt.Errorf("download.max_backoff (%s) is shorter than download.initial_backoff (%s)", c.Download.MaxBackoff, c.Download.InitialBackoff)
	}
	return nil
}

// DBPath is the sqlite database holding instance records
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "launcher.db")
}

// InstancesDir holds one directory per instance
func (c *Config) InstancesDir() string {
	return filepath.Join(c.DataDir, "instances")
}

// CatalogDir holds cached manifests and version listings
func (c *Config) CatalogDir() string {
	return filepath.Join(c.DataDir, "catalog")
}

// PreserveFile lists extra preserve patterns, one per line
func (c *Config) PreserveFile() string {
	return filepath.Join(c.DataDir, ".preserve")
}
