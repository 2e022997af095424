package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below the level leaked:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] visible warn") {
		t.Errorf("warn missing:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] visible error") {
		t.Errorf("error missing:\n%s", out)
	}
}

func TestLogFormatting(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelInfo)

	Info("loaded %d rows into %s", 42, "quant.orders")

	out := buf.String()
	if !strings.Contains(out, "loaded 42 rows into quant.orders") {
		t.Errorf("printf args not applied:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("log lines must end with a newline")
	}
}

func TestIsDebug(t *testing.T) {
	SetLevel(LevelInfo)
	if IsDebug() {
		t.Error("IsDebug() at info level")
	}
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)
	if !IsDebug() {
		t.Error("IsDebug() at debug level")
	}
}
