package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	rootOnce   sync.Once
	rootOutput io.Writer
	rootMu     sync.Mutex
	rootLevel  = LevelInfo
)

// SetLevel sets the minimum level for component loggers created afterwards
// and for existing ones that share the root sink.
func SetLevel(level Level) {
	rootMu.Lock()
	defer rootMu.Unlock()
	rootLevel = level
}

// SetLogFile redirects the root sink to the given file path. Pass an empty
// path to log to stderr only.
func SetLogFile(path string) error {
	rootMu.Lock()
	defer rootMu.Unlock()
	if path == "" {
		rootOutput = os.Stderr
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	rootOutput = file
	return nil
}

func rootSink() io.Writer {
	rootOnce.Do(func() {
		if rootOutput == nil {
			rootOutput = os.Stderr
		}
	})
	return rootOutput
}

// ComponentLogger writes formatted lines tagged with a component name.
type ComponentLogger struct {
	component string
	logger    *log.Logger
}

// NewComponentLogger creates a logger scoped to a component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{
		component: component,
		logger:    log.New(rootSink(), "", 0),
	}
}

func (l *ComponentLogger) write(level Level, format string, args ...any) {
	rootMu.Lock()
	min := rootLevel
	rootMu.Unlock()
	if level < min {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] [%s] %s:%d %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.component, file, line, msg)
}

func (l *ComponentLogger) Debug(format string, args ...any) {
	l.write(LevelDebug, format, args...)
}

func (l *ComponentLogger) Info(format string, args ...any) {
	l.write(LevelInfo, format, args...)
}

func (l *ComponentLogger) Warn(format string, args ...any) {
	l.write(LevelWarn, format, args...)
}

func (l *ComponentLogger) Error(format string, args ...any) {
	l.write(LevelError, format, args...)
}
