package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "text"},
		{"info level", "info", "text"},
		{"warn level", "warn", "text"},
		{"error level", "error", "text"},
		{"json format", "info", "json"},
		{"default level", "unknown", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.level, tt.format)
			if log == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestNewSilentLogger(t *testing.T) {
	log := NewSilent()
	if log == nil {
		t.Fatal("expected non-nil logger")
	}

	// Should not panic when logging
	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")
}

func TestLoggerWithFields(t *testing.T) {
	log := NewSilent()

	withFields := log.WithFields(map[string]interface{}{
		"policy": "deadline",
		"queue":  "sda",
	})
	if withFields == nil {
		t.Fatal("expected non-nil logger from WithFields")
	}

	withField := log.WithField("device", 8)
	if withField == nil {
		t.Fatal("expected non-nil logger from WithField")
	}
}

func TestCleanFormatter(t *testing.T) {
	f := &CleanFormatter{}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "policy switched",
		Data: logrus.Fields{
			"policy":  "deadline",
			"elapsed": "12ms", // skipped by the formatter
		},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "policy switched") {
		t.Errorf("output missing message: %q", s)
	}
	if !strings.Contains(s, "policy=deadline") {
		t.Errorf("output missing policy field: %q", s)
	}
	if strings.Contains(s, "elapsed") {
		t.Errorf("output should skip elapsed field: %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Error("output should end with newline")
	}
}

func TestFieldsFromArgs(t *testing.T) {
	fields := fieldsFromArgs("sector", 100, "dir", "write")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields["sector"] != 100 {
		t.Errorf("sector = %v, want 100", fields["sector"])
	}

	if fieldsFromArgs() != nil {
		t.Error("no args should produce nil fields")
	}

	// Odd trailing arg becomes a positional field
	fields = fieldsFromArgs("key", "value", "dangling")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
}
