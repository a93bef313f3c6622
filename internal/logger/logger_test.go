package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		format string
		tty    bool
		json   bool
	}{
		{format: "json", tty: true, json: true},
		{format: "pretty", tty: false, json: false},
		{format: "auto", tty: true, json: false},
		{format: "auto", tty: false, json: true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		log := New(&buf, "info", tt.format, tt.tty)
		log.Info().Str("component", "test").Msg("hello")

		line := strings.TrimSpace(buf.String())
		isJSON := json.Valid([]byte(line))
		if isJSON != tt.json {
			t.Errorf("format=%s tty=%v: json output = %v, want %v (%q)", tt.format, tt.tty, isJSON, tt.json, line)
		}
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "loud", "json", false)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("info line missing")
	}
}
