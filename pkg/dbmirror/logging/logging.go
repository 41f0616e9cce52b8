// Package logging provides component loggers for dbmirror. Entries go to a
// rotating log file and, when enabled, to the console.
//
//	if err := logging.Init(logging.Config{Level: "info", ConsoleLevel: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("fetch").Info("download finished", "artifact", name)
//
// Loggers may be obtained at any time. They write to whatever outputs are
// installed when an entry is logged and are silent while none are.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levels = []struct {
	name  string
	charm log.Level
}{
	LevelDebug: {"debug", log.DebugLevel},
	LevelInfo:  {"info", log.InfoLevel},
	LevelWarn:  {"warn", log.WarnLevel},
	LevelError: {"error", log.ErrorLevel},
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levels[l].name
}

// ErrInvalidLevel is returned by ParseLevel for unrecognized names.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. "warning" is accepted for warn.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LevelWarn, nil
	}
	for l, def := range levels {
		if def.name == name {
			return Level(l), nil
		}
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures the logging system.
type Config struct {
	// Level is the file log level.
	Level string

	// Path is the log file. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components overrides the file level per component, e.g. {"fetch": "debug"}.
	Components map[string]string

	// ConsoleLevel enables console output at this level. Empty disables it.
	ConsoleLevel string

	// Console is the console destination, stderr when nil.
	Console io.Writer
}

// outputs is one installed logging configuration. It is immutable once
// published.
type outputs struct {
	writer *RotatingWriter
	file   *log.Logger
	level  Level
	byComp map[string]Level

	console      *log.Logger
	consoleLevel Level
}

func (o *outputs) fileThreshold(component string) Level {
	if lvl, ok := o.byComp[component]; ok {
		return lvl
	}
	return o.level
}

var (
	active atomic.Pointer[outputs]

	// initMu serializes Init and Close.
	initMu sync.Mutex

	registry sync.Map // component -> *Logger
)

// Init installs the outputs described by cfg, replacing any previous ones.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	o := &outputs{level: level, byComp: make(map[string]Level, len(cfg.Components))}
	for comp, name := range cfg.Components {
		if o.byComp[comp], err = ParseLevel(name); err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
	}

	if cfg.ConsoleLevel != "" {
		if o.consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		dst := cfg.Console
		if dst == nil {
			dst = os.Stderr
		}
		o.console = log.NewWithOptions(dst, log.Options{
			Level:           log.DebugLevel,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	if o.writer, err = NewRotatingWriter(path, cfg.Rotation); err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}
	o.file = log.NewWithOptions(o.writer, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	initMu.Lock()
	defer initMu.Unlock()
	return closeOutputs(active.Swap(o))
}

// Close removes the installed outputs and closes the log file. Loggers stay
// usable and become silent.
func Close() error {
	initMu.Lock()
	defer initMu.Unlock()
	return closeOutputs(active.Swap(nil))
}

func closeOutputs(o *outputs) error {
	if o == nil || o.writer == nil {
		return nil
	}
	if err := o.writer.Close(); err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// Logger is a component logger.
type Logger struct {
	component string
	fields    []interface{}
}

// Get returns the logger for component. Repeated calls return the same
// Logger.
func Get(component string) *Logger {
	if l, ok := registry.Load(component); ok {
		return l.(*Logger)
	}
	l, _ := registry.LoadOrStore(component, &Logger{component: component})
	return l.(*Logger)
}

// With returns a logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		component: l.component,
		fields:    append(slices.Clip(l.fields), keyvals...),
	}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.emit(LevelDebug, msg, keyvals)
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.emit(LevelInfo, msg, keyvals)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.emit(LevelWarn, msg, keyvals)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.emit(LevelError, msg, keyvals)
}

func (l *Logger) emit(level Level, msg string, keyvals []interface{}) {
	o := active.Load()
	if o == nil {
		return
	}

	toFile := level >= o.fileThreshold(l.component)
	toConsole := o.console != nil && level >= o.consoleLevel
	if !toFile && !toConsole {
		return
	}

	if len(l.fields) > 0 {
		keyvals = append(slices.Clip(l.fields), keyvals...)
	}
	lvl := levels[level].charm
	if toFile {
		o.file.WithPrefix(l.component).Log(lvl, msg, keyvals...)
	}
	if toConsole {
		o.console.WithPrefix(l.component).Log(lvl, msg, keyvals...)
	}
}

// DefaultLogPath returns $XDG_STATE_HOME/dbmirror/dbmirror.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "dbmirror", "dbmirror.log")
}
