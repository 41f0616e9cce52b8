package logging_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"warn", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := logging.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, logging.ErrInvalidLevel) {
				t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidLevel", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// The remaining tests share the package-level logging state and cannot run
// in parallel.

func TestInit(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{
			name: "file only",
			cfg:  logging.Config{Level: "info", Path: filepath.Join(dir, "a.log")},
		},
		{
			name: "component override",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(dir, "b.log"),
				Components: map[string]string{"fetch": "debug"},
			},
		},
		{
			name:    "invalid level",
			cfg:     logging.Config{Level: "chatty", Path: filepath.Join(dir, "c.log")},
			wantErr: true,
		},
		{
			name: "invalid component level",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(dir, "d.log"),
				Components: map[string]string{"fetch": "chatty"},
			},
			wantErr: true,
		},
		{
			name:    "invalid console level",
			cfg:     logging.Config{Level: "info", ConsoleLevel: "chatty", Path: filepath.Join(dir, "e.log")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := logging.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestLogger_WritesFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbmirror.log")
	var console bytes.Buffer

	err := logging.Init(logging.Config{
		Level:        "debug",
		Path:         path,
		ConsoleLevel: "warn",
		Console:      &console,
		Components:   map[string]string{"install": "error"},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	fetchLog := logging.Get("fetch")
	if fetchLog != logging.Get("fetch") {
		t.Error("Get() should return the cached logger")
	}
	if fetchLog.Component() != "fetch" {
		t.Errorf("Component() = %q, want fetch", fetchLog.Component())
	}

	fetchLog.Debug("starting download", "artifact", "nr.00.tar.gz")
	fetchLog.With("worker", 2).Warn("retrying")
	logging.Get("install").Info("suppressed by override")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	file := string(data)

	for _, want := range []string{"starting download", "nr.00.tar.gz", "retrying", "worker=2", "fetch"} {
		if !strings.Contains(file, want) {
			t.Errorf("log file missing %q:\n%s", want, file)
		}
	}
	if strings.Contains(file, "suppressed by override") {
		t.Error("component override should have dropped the install info entry")
	}

	if strings.Contains(console.String(), "starting download") {
		t.Error("console should not receive debug entries at warn level")
	}
	if !strings.Contains(console.String(), "retrying") {
		t.Errorf("console missing warning, got %q", console.String())
	}
}

func TestLogger_FollowsInstalledOutputs(t *testing.T) {
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	early := logging.Get("early").With("k", "v")
	early.Error("goes nowhere")

	path := filepath.Join(t.TempDir(), "late.log")
	if err := logging.Init(logging.Config{Level: "info", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	early.Info("after init")
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	early.Warn("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "after init") || !strings.Contains(got, "k=v") {
		t.Errorf("logger obtained before Init should write once outputs exist:\n%s", got)
	}
	for _, unwanted := range []string{"goes nowhere", "after close"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("log file should not contain %q", unwanted)
		}
	}
}

func TestLevel_String(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"debug", "info", "warn", "error"} {
		l, err := logging.ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", name, err)
		}
		if l.String() != name {
			t.Errorf("Level(%d).String() = %q, want %q", l, l.String(), name)
		}
	}
	if got := logging.Level(42).String(); got != "unknown" {
		t.Errorf("Level(42).String() = %q, want unknown", got)
	}
}

func TestDefaultLogPath(t *testing.T) {
	t.Parallel()

	got := logging.DefaultLogPath()
	if filepath.Base(got) != "dbmirror.log" || filepath.Base(filepath.Dir(got)) != "dbmirror" {
		t.Errorf("DefaultLogPath() = %q", got)
	}
}
