package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Environment variable to configure log file path.
const envLogPath = "TIERCACHE_LOG"

// Level is the minimum severity written by the logger.
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
	default:
		return "ERROR"
	}
}

var (
	mu            sync.Mutex
	std           *log.Logger
	logFile       *os.File
	isInitialized bool
	minLevel      = LevelInfo
)

// InitFromEnv initializes the logger using TIERCACHE_LOG or a default path.
func InitFromEnv() error {
	path := os.Getenv(envLogPath)
	if path == "" {
		// Default to the directory where the executable is located
		if exePath, err := os.Executable(); err == nil {
			path = filepath.Join(filepath.Dir(exePath), "tiercache.log")
		} else {
			path = "./tiercache.log"
		}
	}
	return Init(path)
}

// Init initializes the logger to write to the provided file path.
// It creates parent directories if needed and opens the file in append mode.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if isInitialized {
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	logFile = f
	std = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	isInitialized = true
	return nil
}

// InitWriter routes log output to w, replacing any previous destination.
// Tests use it with io.Discard or a buffer.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	isInitialized = true
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// ParseLevel parses "debug", "info", "warn"/"warning" or "error".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// Close closes the underlying log file, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		std = nil
		isInitialized = false
		return err
	}
	return nil
}

// Debugf logs verbose diagnostics.
func Debugf(format string, args ...any) { write(LevelDebug, format, args...) }

// Printf logs a formatted message at info level.
func Printf(format string, args ...any) { write(LevelInfo, format, args...) }

// Infof logs informational messages.
func Infof(format string, args ...any) { write(LevelInfo, format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { write(LevelWarn, format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { write(LevelError, format, args...) }

func write(level Level, format string, args ...any) {
	mu.Lock()
	l, threshold := std, minLevel
	mu.Unlock()
	if level < threshold {
		return
	}
	if l == nil {
		// Fallback: initialize with default if not already.
		_ = InitFromEnv()
		mu.Lock()
		l = std
		mu.Unlock()
	}
	if l != nil {
		l.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
	}
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
