package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parse builds the root command, parses args and loads the layered config
func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cmd, cfg, err := NewFromFlags("test", "now")
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return cfg, cfg.Load(cmd.Flags())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv(EnvAddress, "")
	t.Setenv(EnvStaticPool, "")

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "@unittest-portserver", cfg.Address)
	assert.Equal(t, "15000-24999", cfg.StaticPool)
	assert.Equal(t, time.Duration(0), cfg.ReadTimeout)
	assert.Equal(t, "", cfg.AdminAddress)
	assert.Equal(t, 5*time.Second, cfg.StatsInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv(EnvAddress, "@from-env")
	t.Setenv(EnvStaticPool, "30000-30010")

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "@from-env", cfg.Address)
	assert.Equal(t, "30000-30010", cfg.StaticPool)
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv(EnvAddress, "@from-env")
	t.Setenv(EnvStaticPool, "30000-30010")

	cfg, err := parse(t, "--portserver-address", "@from-flag", "--portserver-static-pool", "40000-40001")
	require.NoError(t, err)
	assert.Equal(t, "@from-flag", cfg.Address)
	assert.Equal(t, "40000-40001", cfg.StaticPool)
}

func TestConfigFile(t *testing.T) {
	t.Setenv(EnvAddress, "")
	t.Setenv(EnvStaticPool, "")
	path := writeFile(t, `
portserver_address: "@from-file"
portserver_static_pool: "20000-20099"
read_timeout: 2s
admin_address: "127.0.0.1:9100"
stats_interval: 1m
log_level: debug
log_format: pretty
log_caller: true
`)

	cfg, err := parse(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "@from-file", cfg.Address)
	assert.Equal(t, "20000-20099", cfg.StaticPool)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "127.0.0.1:9100", cfg.AdminAddress)
	assert.Equal(t, time.Minute, cfg.StatsInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.True(t, cfg.ShowCaller)
}

func TestPrecedence_FlagOverEnvOverFile(t *testing.T) {
	path := writeFile(t, "portserver_address: \"@from-file\"\nportserver_static_pool: \"1000-1001\"\nlog_level: warn\n")
	t.Setenv(EnvAddress, "@from-env")
	t.Setenv(EnvStaticPool, "")

	cfg, err := parse(t, "--config", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "@from-env", cfg.Address, "env beats file")
	assert.Equal(t, "1000-1001", cfg.StaticPool, "file beats default")
	assert.Equal(t, "error", cfg.LogLevel, "flag beats file")
}

func TestConfigFile_Errors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := parse(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := parse(t, "--config", writeFile(t, "read_timeout: [not, a, duration]\n"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Address: "@x", StaticPool: "1-2", LogLevel: "info", LogFormat: "json"}
	}

	tests := map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"valid":                   {mutate: func(*Config) {}},
		"empty address":           {mutate: func(c *Config) { c.Address = "" }, wantErr: true},
		"bad log level":           {mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		"bad log format":          {mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		"negative read timeout":   {mutate: func(c *Config) { c.ReadTimeout = -time.Second }, wantErr: true},
		"negative stats interval": {mutate: func(c *Config) { c.StatsInterval = -time.Second }, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPorts(t *testing.T) {
	c := &Config{StaticPool: "15000-15002, bogus, 70000-70001"}

	ports, skipped, err := c.Ports()
	require.NoError(t, err)
	assert.Equal(t, []uint16{15000, 15001, 15002}, ports)
	assert.Len(t, skipped, 2)
}

func TestPorts_NoUsablePorts(t *testing.T) {
	for _, spec := range []string{"", "bogus", "0-10", "65535-65536"} {
		t.Run(spec, func(t *testing.T) {
			_, _, err := (&Config{StaticPool: spec}).Ports()
			assert.ErrorIs(t, err, ErrNoUsablePorts)
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	c := &Config{LogLevel: "debug", LogFormat: "pretty", ShowCaller: true}
	lc := c.LoggerConfig()
	assert.EqualValues(t, "debug", lc.Level)
	assert.EqualValues(t, "pretty", lc.Format)
	assert.True(t, lc.ShowCaller)
	assert.NotNil(t, lc.Output)
}
