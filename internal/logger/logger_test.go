package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		mode, level string
		wantErr     bool
	}{
		{"dev", "", false},
		{"prod", "warn", false},
		{"", "debug", false},
		{"dev", "loud", true},
	}
	for _, tt := range tests {
		l, err := New(tt.mode, tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q, %q) error = %v, wantErr %v", tt.mode, tt.level, err, tt.wantErr)
		}
		if err == nil && l.SugaredLogger == nil {
			t.Errorf("New(%q, %q) returned no logger", tt.mode, tt.level)
		}
	}
}

func TestRedaction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("client configured",
		"provider", "openai",
		"api_key", "sk-live",
		"headers", map[string]string{"Authorization": "Bearer x", "X-Trace": "1"},
	)
	l.With("OPENAI_API_KEY", "sk-2").Warn("retrying")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["provider"] != "openai" {
		t.Errorf("provider = %v", fields["provider"])
	}
	if fields["api_key"] != redacted {
		t.Errorf("api_key = %v, want redacted", fields["api_key"])
	}
	headers, ok := fields["headers"].(map[string]string)
	if !ok {
		t.Fatalf("headers = %T", fields["headers"])
	}
	if headers["Authorization"] != redacted || headers["X-Trace"] != "1" {
		t.Errorf("headers = %v", headers)
	}
	if got := entries[1].ContextMap()["OPENAI_API_KEY"]; got != redacted {
		t.Errorf("With field = %v, want redacted", got)
	}
}

func TestOddKeyValues(t *testing.T) {
	got := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Errorf("sanitizeKVs = %v", got)
	}
}
