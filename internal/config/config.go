// Package config loads the agent's resolved configuration record (§6,
// §10): serial link parameters, per-command timeout overrides, the
// plugin install root, and the logging sink, from flags, environment,
// and an optional YAML file, with CLI > env > file > defaults
// precedence, in the same shape dittofs's pkg/config builds on viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable this agent reads
// (SERCLIENT_SERIAL_PORT, SERCLIENT_TIMEOUTS_DEFAULT_COMMAND_TIMEOUT_SEC, ...).
const envPrefix = "SERCLIENT"

// defaultUpdateSoftwareTimeoutSec is the built-in override applied even
// when the config file doesn't mention updateSoftware explicitly (§4.7).
const defaultUpdateSoftwareTimeoutSec = 90

// Serial holds the link's physical parameters (§6).
type Serial struct {
	Port     string `mapstructure:"port" yaml:"port" validate:"required"`
	BaudRate int    `mapstructure:"baudrate" yaml:"baudrate" validate:"required,gt=0"`
	ByteSize int    `mapstructure:"bytesize" yaml:"bytesize" validate:"oneof=5 6 7 8"`
	Parity   string `mapstructure:"parity" yaml:"parity" validate:"oneof=N E O M S"`
	StopBits string `mapstructure:"stopbits" yaml:"stopbits" validate:"oneof=1 1.5 2"`
}

// Timeouts holds the default and per-alias command timeouts (§4.7, §6).
type Timeouts struct {
	DefaultSec int            `mapstructure:"default_command_timeout_sec" yaml:"default_command_timeout_sec" validate:"gt=0"`
	PerCommand map[string]int `mapstructure:"per_command" yaml:"per_command"`
}

// Logging controls where diagnostic output goes (§10).
type Logging struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Sink  string `mapstructure:"sink" yaml:"sink" validate:"required"`
}

// Metrics controls the optional Prometheus HTTP endpoint (§11).
type Metrics struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Record is the fully resolved configuration the dispatcher and its
// collaborators consume. The core never parses the legacy .ini format
// itself (§6); Record is the shape any front end must produce.
type Record struct {
	Serial     Serial   `mapstructure:"serial" yaml:"serial"`
	Timeouts   Timeouts `mapstructure:"timeouts" yaml:"timeouts"`
	InstallRoot string  `mapstructure:"install_root" yaml:"install_root" validate:"required"`
	Logging    Logging  `mapstructure:"logging" yaml:"logging"`
	Metrics    Metrics  `mapstructure:"metrics" yaml:"metrics"`
}

// PerCommandDurations converts the record's per-alias second counts (plus
// the built-in updateSoftware override) into supervisor.Timeouts shape.
func (r Record) PerCommandDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(r.Timeouts.PerCommand)+1)
	out["updateSoftware"] = defaultUpdateSoftwareTimeoutSec * time.Second
	for alias, sec := range r.Timeouts.PerCommand {
		out[alias] = time.Duration(sec) * time.Second
	}
	return out
}

// DefaultDuration is the configured default command timeout as a
// time.Duration.
func (r Record) DefaultDuration() time.Duration {
	return time.Duration(r.Timeouts.DefaultSec) * time.Second
}

func setDefaults(v *viper.Viper) {
	// Empty defaults make these keys known to viper, so AutomaticEnv values
	// (SERCLIENT_SERIAL_PORT, SERCLIENT_INSTALL_ROOT) reach Unmarshal.
	v.SetDefault("serial.port", "")
	v.SetDefault("install_root", "")
	v.SetDefault("serial.baudrate", 115200)
	v.SetDefault("serial.bytesize", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stopbits", "1")
	v.SetDefault("timeouts.default_command_timeout_sec", 40)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.sink", "stdout")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}

// Load builds a Record from, in increasing precedence: built-in defaults,
// an optional YAML file at configPath, environment variables prefixed
// SERCLIENT_, and flagOverrides (already-parsed CLI flag values, applied
// last so they always win).
func Load(configPath string, flagOverrides map[string]any) (*Record, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	for key, val := range flagOverrides {
		v.Set(key, val)
	}

	var rec Record
	decodeHook := mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&rec, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&rec); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &rec, nil
}

var validate = validator.New()

// Validate checks rec against its struct tags.
func Validate(rec *Record) error {
	if err := validate.Struct(rec); err != nil {
		return err
	}
	return nil
}

// DefaultConfigPath returns the conventional config file location,
// honoring XDG_CONFIG_HOME, then ~/.config, and falling back to the
// working directory only when the home directory cannot be determined.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "serclient", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "serclient.yaml")
	}
	return filepath.Join(home, ".config", "serclient", "config.yaml")
}
