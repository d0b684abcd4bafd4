package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the process-wide configuration for the supervision
// substrate. It is intentionally narrow, not the full surface of a
// front-end application. Log is applied by the serve command and Lifecycle
// by the supervisor; the Hook, PTY, Bridge and Locator values are loaded
// (with their defaults) but not passed to the components, which use their
// own built-in values.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`

	Hook struct {
		// PortRangeLow/High describe a port range for the loopback hook
		// listener. Zero means "let the OS pick". The hook listener does
		// not read them: it always binds 127.0.0.1:0.
		PortRangeLow  int `mapstructure:"port_range_low"`
		PortRangeHigh int `mapstructure:"port_range_high"`
	} `mapstructure:"hook"`

	PTY struct {
		ScrollbackKiB int           `mapstructure:"scrollback_kib"`
		TailKiB       int           `mapstructure:"tail_kib"`
		GraceWindow   time.Duration `mapstructure:"grace_window"`
	} `mapstructure:"pty"`

	Bridge struct {
		RelayTimeout time.Duration `mapstructure:"relay_timeout"`
	} `mapstructure:"bridge"`

	Locator struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		ExecTTL  time.Duration `mapstructure:"exec_ttl"`
	} `mapstructure:"locator"`

	Lifecycle struct {
		StallSweepInterval time.Duration `mapstructure:"stall_sweep_interval"`
		QuickAutoExitDelay time.Duration `mapstructure:"quick_auto_exit_delay"`
	} `mapstructure:"lifecycle"`
}

// SetDefaults installs the default timeouts and ports.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("hook.port_range_low", 0)
	v.SetDefault("hook.port_range_high", 0)

	v.SetDefault("pty.scrollback_kib", 512)
	v.SetDefault("pty.tail_kib", 8)
	v.SetDefault("pty.grace_window", 5*time.Second)

	v.SetDefault("bridge.relay_timeout", 1500*time.Millisecond)

	v.SetDefault("locator.cache_ttl", 5*time.Minute)
	v.SetDefault("locator.exec_ttl", 5*time.Second)

	v.SetDefault("lifecycle.stall_sweep_interval", 10*time.Second)
	v.SetDefault("lifecycle.quick_auto_exit_delay", 2*time.Second)
}

// Load reads configuration from the given path (if it exists), environment
// variables prefixed CLUBHOUSE_, and the defaults, with env over file over
// default precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("CLUBHOUSE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
