package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name: "creates logger with default config",
			config: Config{
				Level:  LevelInfo,
				Format: FormatJSON,
			},
			want: "portserver",
		},
		{
			name: "creates logger with debug level",
			config: Config{
				Level:  LevelDebug,
				Format: FormatJSON,
			},
			want: "portserver",
		},
		{
			name: "creates pretty logger",
			config: Config{
				Level:  LevelInfo,
				Format: FormatPretty,
			},
			want: "test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Output = buf

			logger := New(tt.config)
			if logger == nil {
				t.Fatal("expected logger to be non-nil")
			}

			logger.Info("test message")
			output := buf.String()

			if !strings.Contains(output, tt.want) {
				t.Errorf("expected output to contain %q, got %q", tt.want, output)
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelWarn, Format: FormatJSON, Output: buf})

	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info message should be filtered at warn level, got %q", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("expected warn message in output, got %q", output)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: buf,
	}

	logger := New(cfg)
	componentLogger := logger.WithComponent("test-component")
	componentLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test-component") {
		t.Errorf("expected output to contain component name, got %q", output)
	}
}

func TestLoggerError(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf})

	logger.Error("accept failed", errors.New("use of closed network connection"))

	output := buf.String()
	if !strings.Contains(output, "error_type") {
		t.Errorf("expected output to contain error type, got %q", output)
	}
	if !strings.Contains(output, "use of closed network connection") {
		t.Errorf("expected output to contain error text, got %q", output)
	}
}

func TestLoggerOddKeyValues(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf})

	logger.Info("lonely key", "port")

	output := buf.String()
	if !strings.Contains(output, "<missing_value>") {
		t.Errorf("expected missing value marker, got %q", output)
	}
}

func TestLoggerStats(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf})

	logger.Stats(7, 2, 1, 10000, 3)

	output := buf.String()
	for _, want := range []string{
		`"total_allocations":7`,
		`"denied_allocations":2`,
		`"client_request_errors":1`,
		`"pool_size":10000`,
		`"last_scan_depth":3`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %s, got %q", want, output)
		}
	}
}

func TestLoggerAllocation(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: buf})

	logger.Allocation(1234, 40000, 1)

	output := buf.String()
	if !strings.Contains(output, `"port":40000`) {
		t.Errorf("expected output to contain port, got %q", output)
	}
	if !strings.Contains(output, `"pid":1234`) {
		t.Errorf("expected output to contain pid, got %q", output)
	}
}

func TestValidLevelAndFormat(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if !ValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	if ValidLevel("trace") {
		t.Error("expected trace to be invalid")
	}
	if !ValidFormat(FormatJSON) || !ValidFormat(FormatPretty) {
		t.Error("expected json and pretty to be valid formats")
	}
	if ValidFormat("xml") {
		t.Error("expected xml to be invalid")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected level to be info, got %v", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected format to be json, got %v", cfg.Format)
	}
	if cfg.ShowCaller != false {
		t.Errorf("expected ShowCaller to be false, got %v", cfg.ShowCaller)
	}
}
