package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/sneh-joshi/dmq/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	l.Info("hello", "channel", 7)
	l.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["channel"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_TextWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	l.Debug("visible", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "visible") || !strings.Contains(out, "k=v") {
		t.Errorf("text output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("non-terminal output must not be coloured: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
