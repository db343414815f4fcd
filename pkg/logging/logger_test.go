package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStructuredLogger_LevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewWithCore(core, "test", "1.0.0")
	ctx := WithRunID(context.Background(), "run-1")

	logger.Debug(ctx, "dropped", Fields{"k": "v"})
	logger.Info(ctx, "[TEST] info", Fields{"count": 3})
	logger.Warn(ctx, "[TEST] warn", nil)
	logger.Error(ctx, "[TEST] error", Fields{"stage": "X"}, errors.New("boom"))

	if logs.Len() != 3 {
		t.Fatalf("got %d entries, want 3", logs.Len())
	}

	info := logs.FilterMessage("[TEST] info").All()[0]
	fields := info.ContextMap()
	if fields["count"] != int64(3) {
		t.Errorf("count = %v, want 3", fields["count"])
	}
	if fields["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", fields["run_id"])
	}
	if fields["service"] != "test" {
		t.Errorf("service = %v, want test", fields["service"])
	}

	errEntry := logs.FilterLevelExact(zapcore.ErrorLevel).All()[0]
	if errEntry.ContextMap()["error"] != "boom" {
		t.Errorf("error field = %v, want boom", errEntry.ContextMap()["error"])
	}
}

func TestContextLogger_MergesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, "test", "1.0.0").WithFields(Fields{"location": "Manila", "stage": "EXTRACT"})

	logger.Info(context.Background(), "msg", Fields{"stage": "LOAD"})

	fields := logs.All()[0].ContextMap()
	if fields["location"] != "Manila" {
		t.Errorf("location = %v, want Manila", fields["location"])
	}
	if fields["stage"] != "LOAD" {
		t.Errorf("stage = %v, want LOAD (call fields override)", fields["stage"])
	}
}

func TestNew_SplitsConsoleAndFileSinks(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer

	logger := New(Options{
		Service: "test",
		Version: "1.0.0",
		Level:   InfoLevel,
		Dir:     dir,
		Console: true,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})

	ctx := context.Background()
	logger.Info(ctx, "progress", nil)
	logger.Error(ctx, "failure", nil, errors.New("bad"))
	logger.Sync()

	if !strings.Contains(stdout.String(), "progress") || !strings.Contains(stdout.String(), "failure") {
		t.Errorf("stdout missing entries: %q", stdout.String())
	}
	if strings.Contains(stderr.String(), "progress") {
		t.Errorf("stderr should only receive errors: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "failure") {
		t.Errorf("stderr missing error entry: %q", stderr.String())
	}

	errLog, err := os.ReadFile(filepath.Join(dir, "std_err.log"))
	if err != nil {
		t.Fatalf("read std_err.log: %v", err)
	}
	if strings.Contains(string(errLog), "progress") || !strings.Contains(string(errLog), "failure") {
		t.Errorf("std_err.log content unexpected: %q", errLog)
	}

	outLog, err := os.ReadFile(filepath.Join(dir, "std_out.log"))
	if err != nil {
		t.Fatalf("read std_out.log: %v", err)
	}
	if !strings.Contains(string(outLog), "progress") {
		t.Errorf("std_out.log missing info entry: %q", outLog)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
