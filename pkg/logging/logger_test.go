package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected JSON output by default")
	}
	if cfg.Output == nil {
		t.Error("Expected a default output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
		{"trace", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestZerologLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{"Warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSetup_Filtering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("lifecycle")
	logger.Debug().Msg("transition installing")
	logger.Info().Msg("install complete")
	logger.Warn().Str("legacy_store", "content-v9").Msg("legacy store left behind")
	logger.Error().Msg("install failed")

	output := buf.String()
	for _, hidden := range []string{"transition installing", "install complete"} {
		if strings.Contains(output, hidden) {
			t.Errorf("Expected %q to be filtered at warn level", hidden)
		}
	}
	for _, shown := range []string{"legacy store left behind", `"legacy_store":"content-v9"`, "install failed"} {
		if !strings.Contains(output, shown) {
			t.Errorf("Expected output to contain %q, got %q", shown, output)
		}
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("interceptor")
	logger.Info().Str("outcome", "hit").Msg("answered")

	output := buf.String()
	if !strings.Contains(output, `"component":"interceptor"`) {
		t.Errorf("Expected output to contain the component field, got %q", output)
	}
	if !strings.Contains(output, `"outcome":"hit"`) {
		t.Errorf("Expected output to contain the outcome field, got %q", output)
	}
}

func TestSetup_NilOutputAndPretty(t *testing.T) {
	// nil output falls back to stderr instead of panicking
	Setup(Config{Level: LevelError})

	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Str("store", "content-v10").Msg("activated")

	output := buf.String()
	if strings.Contains(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "activated") || !strings.Contains(output, "content-v10") {
		t.Errorf("Expected message and field in output, got %q", output)
	}
}
