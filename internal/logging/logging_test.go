package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("expected Level to be InfoLevel, got %v", cfg.Level)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected Output to be os.Stderr")
	}
	if cfg.Pretty {
		t.Errorf("expected Pretty to be false")
	}
	if cfg.TimeFormat != time.RFC3339 {
		t.Errorf("expected TimeFormat to be RFC3339, got %s", cfg.TimeFormat)
	}
	if cfg.LogToFile {
		t.Errorf("expected LogToFile to be false")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"  DEBUG  ", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"FATAL", FatalLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})

	Debug().Msg("debug message")
	Info().Msg("info message")
	Warn().Msg("warn message")
	Error().Msg("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("messages below Warn should be filtered")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("warn and error messages should appear")
	}
}

func TestLogToFile(t *testing.T) {
	tempDir := t.TempDir()

	Init(Config{
		Level:     InfoLevel,
		Output:    &bytes.Buffer{},
		LogToFile: true,
		LogDir:    tempDir,
	})
	defer Close()

	Info().Msg("file log test")

	logPath := GetLogFilePath()
	if logPath == "" {
		t.Fatal("expected log file path to be set")
	}
	if !strings.HasPrefix(logPath, tempDir) {
		t.Errorf("log file path %s should be in %s", logPath, tempDir)
	}

	fileName := filepath.Base(logPath)
	if !strings.HasPrefix(fileName, "codeloom-") || !strings.HasSuffix(fileName, ".log") {
		t.Errorf("unexpected log file name: %s", fileName)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "file log test") {
		t.Errorf("log file should contain 'file log test', got: %s", string(content))
	}
}

func TestClose(t *testing.T) {
	Init(Config{
		Level:     InfoLevel,
		Output:    &bytes.Buffer{},
		LogToFile: true,
		LogDir:    t.TempDir(),
	})

	if GetLogFilePath() == "" {
		t.Fatal("expected log file path before close")
	}

	Close()

	if GetLogFilePath() != "" {
		t.Error("expected empty log file path after close")
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})

	childLogger := With().Str("component", "duplex").Logger()
	childLogger.Info().Msg("with context")

	output := buf.String()
	if !strings.Contains(output, "component") || !strings.Contains(output, "duplex") {
		t.Errorf("expected output to contain component field, got %s", output)
	}
}
