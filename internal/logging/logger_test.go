// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewProdWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "prod", "info")

	logger.Info("workflow started", "instance_id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["service"] != serviceName {
		t.Fatalf("expected service %q got %v", serviceName, record["service"])
	}
	if record["instance_id"] != "abc" {
		t.Fatalf("expected instance_id attr got %v", record["instance_id"])
	}
	if _, ok := record["source"]; ok {
		t.Fatal("expected no source in prod logs")
	}
}

func TestNewDevWritesTextWithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "dev", "")

	logger.Info("hello")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") {
		t.Fatalf("expected text output got %q", out)
	}
	if !strings.Contains(out, "source=") {
		t.Fatalf("expected source location got %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "prod", "warn")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
