// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Meeting  MeetingConfig  `mapstructure:"meeting" yaml:"meeting"`
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector"`
	Alert    AlertConfig    `mapstructure:"alert" yaml:"alert"`
	Command  CommandConfig  `mapstructure:"command" yaml:"command"`
}

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes the automated browser instance owned by the bot.
type BrowserConfig struct {
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath  string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args      []string `mapstructure:"args" yaml:"args"`
	// KillSweep enables the POSIX kill-by-name failsafe during release.
	KillSweep bool `mapstructure:"kill_sweep" yaml:"kill_sweep"`
}

// MeetingConfig holds the timing budget for driving the conferencing UI.
// Every wait is bounded; the chains favor many cheap attempts over long
// retries of a single selector.
type MeetingConfig struct {
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	LocateTimeout     time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
	AttemptPause      time.Duration `mapstructure:"attempt_pause" yaml:"attempt_pause"`
	JoinSettle        time.Duration `mapstructure:"join_settle" yaml:"join_settle"`
	ChatConfirmWait   time.Duration `mapstructure:"chat_confirm_wait" yaml:"chat_confirm_wait"`
	LeaveTimeout      time.Duration `mapstructure:"leave_timeout" yaml:"leave_timeout"`
	OpTimeout         time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// DetectorConfig configures the suspicious-process scanner.
type DetectorConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Names    []string      `mapstructure:"names" yaml:"names"`
	Paths    []string      `mapstructure:"paths" yaml:"paths"`
	Hashes   []string      `mapstructure:"hashes" yaml:"hashes"`
}

// AlertConfig configures the chat alert relay.
type AlertConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// CommandConfig configures the inbound chat command channel.
type CommandConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ShutdownToken string        `mapstructure:"shutdown_token" yaml:"shutdown_token"`
}

// SetDefaults registers the default values on the provided viper instance.
// Flags and config-file values override these with viper's usual precedence.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "truely")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 TruelyAgent/1.0")
	v.SetDefault("browser.kill_sweep", true)

	v.SetDefault("meeting.display_name", "Truely Bot")
	v.SetDefault("meeting.navigation_timeout", 30*time.Second)
	v.SetDefault("meeting.locate_timeout", 2*time.Second)
	v.SetDefault("meeting.attempt_pause", 300*time.Millisecond)
	v.SetDefault("meeting.join_settle", 1500*time.Millisecond)
	v.SetDefault("meeting.chat_confirm_wait", 4*time.Second)
	v.SetDefault("meeting.leave_timeout", 10*time.Second)
	v.SetDefault("meeting.op_timeout", 60*time.Second)

	v.SetDefault("detector.interval", 2*time.Second)
	v.SetDefault("detector.names", []string{"cluely"})
	v.SetDefault("detector.paths", []string{})
	v.SetDefault("detector.hashes", []string{})

	v.SetDefault("alert.cooldown", 30*time.Second)

	v.SetDefault("command.poll_interval", 3*time.Second)
	v.SetDefault("command.shutdown_token", "BYEBYE")
}

// Load reads the config file (if any), applies environment overrides and
// defaults, and unmarshals the result into a Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TRUELY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	return Unmarshal(v)
}

// Unmarshal decodes the viper state into a Config and normalizes paths.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Logger.LogFile != "" {
		expanded, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand log file path %q: %w", cfg.Logger.LogFile, err)
		}
		cfg.Logger.LogFile = expanded
	}

	return &cfg, nil
}
