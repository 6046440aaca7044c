// Package config provides application configuration with CLI flag parsing
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/pool"
	"github.com/nebari-dev/portserver/pkg/transport"
)

// Environment variables consulted when the matching flag is not set
const (
	EnvAddress    = "PORTSERVER_ADDRESS"
	EnvStaticPool = "PORTSERVER_STATIC_POOL"
)

// DefaultStaticPool is the port range managed when nothing else is configured
const DefaultStaticPool = "15000-24999"

var (
	// ErrNoUsablePorts means the static pool spec produced no ports at all
	ErrNoUsablePorts = errors.New("no usable ports in static pool")

	// ErrInvalidConfig is returned by Validate
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds application configuration
type Config struct {
	// Optional YAML file; flags and environment override it
	ConfigFile string `yaml:"-"`

	// Server
	Address     string        `yaml:"portserver_address"`
	StaticPool  string        `yaml:"portserver_static_pool"`
	ReadTimeout time.Duration `yaml:"read_timeout"` // zero = no timeout

	// Admin API (disabled when AdminAddress is empty)
	AdminAddress  string        `yaml:"admin_address"`
	StatsInterval time.Duration `yaml:"stats_interval"`

	// Logging
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	ShowCaller bool   `yaml:"log_caller"`
}

// NewFromFlags creates a Config from command line flags using cobra
// Returns the cobra command and config, or error
func NewFromFlags(version, buildTime string) (*cobra.Command, *Config, error) {
	cfg := &Config{}

	rootCmd := &cobra.Command{
		Use:     "portserver [flags]",
		Short:   "Hands out free TCP/UDP ports to concurrent test processes",
		Version: fmt.Sprintf("%s (built %s)", version, buildTime),
		Long: `Runs a local port broker. Clients connect over a unix socket (or a
named pipe on Windows), send their pid and get back a port that is free for
both TCP and UDP. A port is only handed out again once the process holding
it has exited.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	// Server flags
	rootCmd.Flags().StringVar(&cfg.ConfigFile, "config", "",
		"Path to a YAML config file")
	rootCmd.Flags().StringVar(&cfg.Address, "portserver-address", transport.DefaultAddress,
		"Address to listen on; a leading @ selects the abstract namespace (env "+EnvAddress+")")
	rootCmd.Flags().StringVar(&cfg.StaticPool, "portserver-static-pool", DefaultStaticPool,
		"Comma separated port ranges to manage, e.g. 15000-24999,30000-30100 (env "+EnvStaticPool+")")
	rootCmd.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", 0,
		"How long to wait for a client to send its pid (0 = forever)")

	// Admin flags
	rootCmd.Flags().StringVar(&cfg.AdminAddress, "admin-address", "",
		"host:port for the admin HTTP API with /metrics and /api/stats (empty = disabled)")
	rootCmd.Flags().DurationVar(&cfg.StatsInterval, "stats-interval", 5*time.Second,
		"Interval between snapshots on /api/stats/stream")

	// Logging flags
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&cfg.LogFormat, "log-format", "json",
		"Log format (json, pretty)")
	rootCmd.Flags().BoolVar(&cfg.ShowCaller, "log-caller", false,
		"Show file:line in logs")

	return rootCmd, cfg, nil
}

// Load layers the config file and environment under the parsed flags and
// validates the result. Precedence is flag, then environment, then file.
func (c *Config) Load(flags *pflag.FlagSet) error {
	if c.ConfigFile != "" {
		file, err := ReadFile(c.ConfigFile)
		if err != nil {
			return err
		}
		c.mergeFile(file, flags)
	}
	c.applyEnv(flags)
	return c.Validate()
}

// ReadFile parses a YAML config file
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	file := &Config{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return file, nil
}

// mergeFile copies every value set in the file whose flag was not given
func (c *Config) mergeFile(file *Config, flags *pflag.FlagSet) {
	unset := func(name string) bool { return !flags.Changed(name) }

	if unset("portserver-address") && file.Address != "" {
		c.Address = file.Address
	}
	if unset("portserver-static-pool") && file.StaticPool != "" {
		c.StaticPool = file.StaticPool
	}
	if unset("read-timeout") && file.ReadTimeout != 0 {
		c.ReadTimeout = file.ReadTimeout
	}
	if unset("admin-address") && file.AdminAddress != "" {
		c.AdminAddress = file.AdminAddress
	}
	if unset("stats-interval") && file.StatsInterval != 0 {
		c.StatsInterval = file.StatsInterval
	}
	if unset("log-level") && file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if unset("log-format") && file.LogFormat != "" {
		c.LogFormat = file.LogFormat
	}
	if unset("log-caller") && file.ShowCaller {
		c.ShowCaller = true
	}
}

func (c *Config) applyEnv(flags *pflag.FlagSet) {
	if !flags.Changed("portserver-address") {
		if v := os.Getenv(EnvAddress); v != "" {
			c.Address = v
		}
	}
	if !flags.Changed("portserver-static-pool") {
		if v := os.Getenv(EnvStaticPool); v != "" {
			c.StaticPool = v
		}
	}
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: portserver address must not be empty", ErrInvalidConfig)
	}
	if !logger.ValidLevel(logger.Level(c.LogLevel)) {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if !logger.ValidFormat(logger.Format(c.LogFormat)) {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout must not be negative", ErrInvalidConfig)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("%w: stats interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Ports expands StaticPool. Ranges that could not be used are returned in
// skipped so the caller can log them; ErrNoUsablePorts is returned when
// nothing is left.
func (c *Config) Ports() (ports []uint16, skipped []error, err error) {
	ports, skipped = pool.ParseRanges(c.StaticPool)
	if len(ports) == 0 {
		return nil, skipped, fmt.Errorf("%w: %q", ErrNoUsablePorts, c.StaticPool)
	}
	return ports, skipped, nil
}

// LoggerConfig returns the logger settings
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(c.LogLevel)
	cfg.Format = logger.Format(c.LogFormat)
	cfg.ShowCaller = c.ShowCaller
	return cfg
}
