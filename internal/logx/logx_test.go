package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	log.Info().Msg("dropped")
	log.Warn().Str("task", "task1").Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line written at warn level: %s", out)
	}
	for _, s := range []string{`"level":"warn"`, `"task":"task1"`, `"message":"kept"`, `"time":`} {
		if !strings.Contains(out, s) {
			t.Errorf("output %q missing %s", out, s)
		}
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", "console", &buf)
	l.Info().Msg("hello")
	if out := buf.String(); !strings.Contains(out, "hello") || strings.HasPrefix(out, "{") {
		t.Errorf("unexpected console output %q", out)
	}
}
