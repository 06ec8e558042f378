package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chimera/internal/logging"
)

// DeviceConfig identifies the mining device's management endpoint.
type DeviceConfig struct {
	IP       string
	Password string
	Username string
}

// Config holds the bridge configuration
type Config struct {
	StratumListen      string        `mapstructure:"stratum_listen"`
	DistributionListen string        `mapstructure:"distribution_listen"`
	APIListen          string        `mapstructure:"api_listen"`
	Difficulty         float64       `mapstructure:"difficulty"`
	Extranonce1        string        `mapstructure:"extranonce1"`
	Extranonce2Size    int           `mapstructure:"extranonce2_size"`
	JobInterval        time.Duration `mapstructure:"job_interval"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	WakeFrequencyMHz   int           `mapstructure:"wake_frequency_mhz"`
	InitialSeed        string        `mapstructure:"initial_seed"`

	RhythmWindow int `mapstructure:"rhythm_window"`
	RhythmBins   int `mapstructure:"rhythm_bins"`
	RingCapacity int `mapstructure:"ring_capacity"`
	JobCacheSize int `mapstructure:"job_cache_size"`
	BurstLimit   int `mapstructure:"burst_limit"`

	DeviceIP            string        `mapstructure:"device_ip"`
	DeviceUsername      string        `mapstructure:"device_username"`
	DevicePassword      string        `mapstructure:"device_password"`
	TelemetryInterval   time.Duration `mapstructure:"telemetry_interval"`
	TelemetryTimeout    time.Duration `mapstructure:"telemetry_timeout"`
	ControlTimeout      time.Duration `mapstructure:"control_timeout"`
	DrainInterval       time.Duration `mapstructure:"drain_interval"`
	RestartCooldown     time.Duration `mapstructure:"restart_cooldown"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	HomeostasisFloorMHz int           `mapstructure:"homeostasis_floor_mhz"`
	HomeostasisBoostMHz int           `mapstructure:"homeostasis_boost_mhz"`
	HomeostasisBoostMV  int           `mapstructure:"homeostasis_boost_mv"`

	StatusInterval time.Duration `mapstructure:"status_interval"`
	LogLevel       string        `mapstructure:"log_level"`
	LogOutput      string        `mapstructure:"log_output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stratum_listen", "0.0.0.0:3333")
	v.SetDefault("distribution_listen", "0.0.0.0:4028")
	v.SetDefault("api_listen", "127.0.0.1:8080")
	v.SetDefault("difficulty", 1)
	v.SetDefault("extranonce1", "08000002")
	v.SetDefault("extranonce2_size", 4)
	v.SetDefault("job_interval", "10s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("wake_frequency_mhz", 400)
	v.SetDefault("initial_seed", "CHRONOS_BASELINE")

	v.SetDefault("rhythm_window", 10)
	v.SetDefault("rhythm_bins", 10)
	v.SetDefault("ring_capacity", 1000)
	v.SetDefault("job_cache_size", 64)
	v.SetDefault("burst_limit", 1000)

	v.SetDefault("device_ip", "")
	v.SetDefault("device_username", "")
	v.SetDefault("device_password", "")
	v.SetDefault("telemetry_interval", "3s")
	v.SetDefault("telemetry_timeout", "2s")
	v.SetDefault("control_timeout", "5s")
	v.SetDefault("drain_interval", "500ms")
	v.SetDefault("restart_cooldown", "10s")
	v.SetDefault("settle_delay", "2s")
	v.SetDefault("homeostasis_floor_mhz", 0)
	v.SetDefault("homeostasis_boost_mhz", 400)
	v.SetDefault("homeostasis_boost_mv", 1200)

	v.SetDefault("status_interval", "5s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_output", "stdout")
}

// Load reads configuration from, in increasing priority: defaults, a YAML
// file (path, or chimera.yaml on the search path), .env in the project
// root, and the environment. Keys map to CHIMERA_<KEY>; device credentials
// also accept DEVICE_IP, DEVICE_USERNAME and DEVICE_PASSWORD.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(findProjectRoot(), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", envPath, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHIMERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"device_ip", "device_username", "device_password"} {
		if err := v.BindEnv(key, "CHIMERA_"+strings.ToUpper(key), strings.ToUpper(key)); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chimera")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/chimera/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.StratumListen == "" {
		return errors.New("stratum_listen is required")
	}
	if c.DistributionListen == "" {
		return errors.New("distribution_listen is required")
	}
	if len(c.Extranonce1) != 8 {
		return fmt.Errorf("extranonce1 must be 8 hex characters, got %q", c.Extranonce1)
	}
	if c.Extranonce2Size <= 0 {
		return errors.New("extranonce2_size must be positive")
	}
	if c.RhythmWindow < 2 {
		return errors.New("rhythm_window must be at least 2")
	}
	if c.RingCapacity <= 0 {
		return errors.New("ring_capacity must be positive")
	}
	if c.JobInterval <= 0 {
		return errors.New("job_interval must be positive")
	}
	return nil
}

// Device returns the device endpoint settings.
func (c *Config) Device() DeviceConfig {
	return DeviceConfig{IP: c.DeviceIP, Username: c.DeviceUsername, Password: c.DevicePassword}
}

// Logging returns the logger settings.
func (c *Config) Logging() *logging.LoggingConfig {
	return &logging.LoggingConfig{Level: c.LogLevel, Output: c.LogOutput}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	// First check CWD for .env file
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	// Then walk up looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
