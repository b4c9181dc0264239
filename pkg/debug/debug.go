package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bleepsandbloops/bitflip/internal/logbuffer"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

const (
	// DefaultLogBufferSize is the default number of entries in the ring buffer
	DefaultLogBufferSize = 1000
	// LogFileName is the name of the log file when file logging is enabled
	LogFileName = "bitflip.log"
)

// Options is the explicit logger configuration. There is no implicit
// environment parsing; callers build Options from their loaded config.
type Options struct {
	Enabled    bool
	Level      LogLevel
	LogDir     string
	BufferSize int
	// Output defaults to os.Stderr so stdout stays reserved for results.
	Output io.Writer
}

var (
	// mu protects all mutable state from concurrent access
	mu sync.RWMutex

	isEnabled    bool
	currentLevel LogLevel = LevelInfo

	fileLoggingEnabled bool
	logFile            *os.File
	logFilePath        string

	baseOut   io.Writer   = os.Stderr
	outLogger *log.Logger = log.New(os.Stderr, "", 0)

	logBuffer = logbuffer.New(DefaultLogBufferSize)

	levelNames = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"WARN":    LevelWarning,
		"ERROR":   LevelError,
	}
)

// ParseLevel converts a level name (case insensitive) into a LogLevel.
// Unknown names fall back to INFO and report false.
func ParseLevel(name string) (LogLevel, bool) {
	l, ok := levelMap[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return LevelInfo, false
	}
	return l, true
}

// String returns the level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Configure applies opts to the package logger. It may be called more than
// once; file logging is switched on or off to match opts.LogDir. A positive
// BufferSize replaces the ring buffer with an empty one.
func Configure(opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	mu.Lock()
	if opts.BufferSize > 0 {
		logBuffer = logbuffer.New(opts.BufferSize)
	}
	isEnabled = opts.Enabled
	currentLevel = opts.Level
	baseOut = out
	if fileLoggingEnabled && logFile != nil {
		outLogger = log.New(io.MultiWriter(out, logFile), "", 0)
	} else {
		outLogger = log.New(out, "", 0)
	}
	mu.Unlock()

	if opts.Enabled && opts.LogDir != "" {
		if err := EnableFileLogging(opts.LogDir); err != nil {
			return err
		}
	} else {
		if err := DisableFileLogging(); err != nil {
			return err
		}
	}

	Debug("Logger configured - Enabled: %v, Level: %s, FileLogging: %v", opts.Enabled, opts.Level, IsFileLoggingEnabled())
	return nil
}

// IsDebugEnabled returns whether logging is enabled (thread-safe)
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isEnabled
}

// IsFileLoggingEnabled returns whether file logging is enabled (thread-safe)
func IsFileLoggingEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return fileLoggingEnabled
}

// EnableFileLogging mirrors log output into logsDir/bitflip.log
func EnableFileLogging(logsDir string) error {
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(logsDir, LogFileName)
	if fileLoggingEnabled && logFilePath == path {
		return nil
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	logFilePath = path
	fileLoggingEnabled = true
	outLogger = log.New(io.MultiWriter(baseOut, f), "", 0)

	return nil
}

// DisableFileLogging stops mirroring into the log file and closes it
func DisableFileLogging() error {
	mu.Lock()
	defer mu.Unlock()

	if !fileLoggingEnabled {
		return nil
	}

	fileLoggingEnabled = false
	logFilePath = ""

	outLogger = log.New(baseOut, "", 0)
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}

	return nil
}

// TailBufferedLogs returns the newest n buffered entries, oldest first
func TailBufferedLogs(n int) []logbuffer.LogEntry {
	mu.RLock()
	buffer := logBuffer
	mu.RUnlock()
	return buffer.Tail(n)
}

// Log writes a message with the specified level if logging is enabled
func Log(level LogLevel, format string, v ...interface{}) {
	logAt(2, level, format, v...)
}

// logAt logs with the caller taken skip frames above logAt itself
func logAt(skip int, level LogLevel, format string, v ...interface{}) {
	mu.RLock()
	enabled := isEnabled
	minLevel := currentLevel
	buffer := logBuffer
	mu.RUnlock()

	if !enabled || level < minLevel {
		return
	}

	pc, file, line, _ := runtime.Caller(skip)
	funcName := runtime.FuncForPC(pc).Name()

	message := fmt.Sprintf(format, v...)
	timestamp := time.Now()

	buffer.Add(logbuffer.LogEntry{
		Timestamp: timestamp,
		Level:     levelNames[level],
		Message:   message,
		File:      file,
		Line:      line,
		Function:  funcName,
	})

	logLine := fmt.Sprintf("[%s] [%s] [%s:%d] [%s] %s",
		levelNames[level],
		timestamp.Format("2006-01-02 15:04:05.000"),
		filepath.Base(file),
		line,
		funcName,
		message,
	)

	mu.RLock()
	outLogger.Println(logLine)
	mu.RUnlock()
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	logAt(2, LevelDebug, format, v...)
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	logAt(2, LevelInfo, format, v...)
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	logAt(2, LevelWarning, format, v...)
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	logAt(2, LevelError, format, v...)
}

// Status is a summary of the current logger configuration
type Status struct {
	Enabled            bool   `json:"enabled"`
	Level              string `json:"level"`
	FileLoggingEnabled bool   `json:"file_logging_enabled"`
	LogFilePath        string `json:"log_file_path,omitempty"`
	BufferCount        int    `json:"buffer_count"`
	BufferCapacity     int    `json:"buffer_capacity"`
	BufferDropped      uint64 `json:"buffer_dropped"`
}

// GetStatus returns the current logger status
func GetStatus() Status {
	mu.RLock()
	defer mu.RUnlock()

	return Status{
		Enabled:            isEnabled,
		Level:              levelNames[currentLevel],
		FileLoggingEnabled: fileLoggingEnabled,
		LogFilePath:        logFilePath,
		BufferCount:        logBuffer.Count(),
		BufferCapacity:     logBuffer.Capacity(),
		BufferDropped:      logBuffer.Dropped(),
	}
}
