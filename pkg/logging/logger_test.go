package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Level = %s, want %s", cfg.Level, LevelInfo)
	}
	if cfg.Pretty {
		t.Error("Pretty = true, want false")
	}
	if cfg.Output == nil {
		t.Error("Output = nil, want stderr")
	}
}

func TestSetup_Levels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		level     LogLevel
		debugSeen bool
		infoSeen  bool
		warnSeen  bool
	}{
		{LevelDebug, true, true, true},
		{LevelInfo, false, true, true},
		{LevelWarn, false, false, true},
		{LevelError, false, false, false},
		{"bogus", false, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{Level: tt.level, Output: &buf})

			logger.Debug().Msg("debug line")
			logger.Info().Msg("info line")
			logger.Warn().Msg("warn line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.debugSeen {
				t.Errorf("debug logged = %v, want %v", got, tt.debugSeen)
			}
			if got := strings.Contains(out, "info line"); got != tt.infoSeen {
				t.Errorf("info logged = %v, want %v", got, tt.infoSeen)
			}
			if got := strings.Contains(out, "warn line"); got != tt.warnSeen {
				t.Errorf("warn logged = %v, want %v", got, tt.warnSeen)
			}
		})
	}
}

func TestSetup_JSONAndPretty(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var jsonBuf bytes.Buffer
	jsonLogger := Setup(Config{Level: LevelInfo, Output: &jsonBuf})
	jsonLogger.Info().Int64("id", 8863).Msg("stored")
	if !strings.Contains(jsonBuf.String(), `"id":8863`) {
		t.Errorf("JSON output = %q, want id field", jsonBuf.String())
	}

	var prettyBuf bytes.Buffer
	prettyLogger := Setup(Config{Level: LevelInfo, Pretty: true, Output: &prettyBuf})
	prettyLogger.Info().Int64("id", 8863).Msg("stored")
	out := prettyBuf.String()
	if strings.Contains(out, `"id":8863`) || !strings.Contains(out, "stored") {
		t.Errorf("pretty output = %q, want console format", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_Component(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	Setup(Config{Level: LevelInfo, Output: &buf})

	logger := NewLogger("scheduler")
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"scheduler"`) {
		t.Errorf("output = %q, want component field", buf.String())
	}

	log.Logger = zerolog.Nop()
}
