// Package logger is a process-wide leveled logger fanning out to several
// writers. Before Init, messages at info and above go to the standard log
// package and the configuration functions return an error.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

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
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel accepts debug, info, warn or error in any case.
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
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is a configurable logger that can write to multiple outputs
type Logger struct {
	mu      sync.Mutex
	outputs []io.Writer
	prefix  string
	level   Level
	enabled bool
}

var (
	globalLogger *Logger
	once         sync.Once
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetGlobalLogBuffer returns the buffer shared by the monitor, created on
// first use.
func GetGlobalLogBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(1000)
	})
	return globalBuffer
}

// Init initializes the global logger
func Init(prefix string, writeToStdout bool) {
	once.Do(func() {
		outputs := []io.Writer{}
		if writeToStdout {
			outputs = append(outputs, os.Stdout)
		}
		globalLogger = &Logger{
			outputs: outputs,
			prefix:  prefix,
			level:   LevelInfo,
			enabled: true,
		}
	})
}

var errNotInitialized = errors.New("logger not initialized: call logger.Init() first")

// configure runs fn on the global logger under its lock.
func configure(fn func(l *Logger)) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	fn(globalLogger)
	return nil
}

// AddOutput adds another writer, e.g. a LogBufferWriter for the monitor.
func AddOutput(w io.Writer) error {
	return configure(func(l *Logger) { l.outputs = append(l.outputs, w) })
}

func RemoveOutput(w io.Writer) error {
	return configure(func(l *Logger) {
		kept := l.outputs[:0]
		for _, output := range l.outputs {
			if output != w {
				kept = append(kept, output)
			}
		}
		l.outputs = kept
	})
}

func SetEnabled(enabled bool) error {
	return configure(func(l *Logger) { l.enabled = enabled })
}

// SetLevel drops messages below level.
func SetLevel(level Level) error {
	return configure(func(l *Logger) { l.level = level })
}

func logAt(level Level, format string, v ...interface{}) {
	if globalLogger == nil {
		// Fallback to standard log if not initialized
		if level >= LevelInfo {
			log.Printf("[%s] "+format, append([]interface{}{level}, v...)...)
		}
		return
	}

	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	if !globalLogger.enabled || level < globalLogger.level {
		return
	}

	msg := strings.TrimSuffix(fmt.Sprintf(format, v...), "\n")
	msg = fmt.Sprintf("[%s] %s", level, msg)
	if globalLogger.prefix != "" {
		msg = fmt.Sprintf("[%s] %s", globalLogger.prefix, msg)
	}

	line := []byte(msg + "\n")
	for _, output := range globalLogger.outputs {
		_, _ = output.Write(line)
	}
}

// Printf logs a formatted message at info level
func Printf(format string, v ...interface{}) {
	logAt(LevelInfo, format, v...)
}

func Debugf(format string, v ...interface{}) {
	logAt(LevelDebug, format, v...)
}

func Infof(format string, v ...interface{}) {
	logAt(LevelInfo, format, v...)
}

func Info(v ...interface{}) {
	logAt(LevelInfo, "%s", fmt.Sprint(v...))
}

func Warnf(format string, v ...interface{}) {
	logAt(LevelWarn, format, v...)
}

// Errorf logs an error-level formatted message
func Errorf(format string, v ...interface{}) {
	logAt(LevelError, format, v...)
}

func Error(v ...interface{}) {
	logAt(LevelError, "%s", fmt.Sprint(v...))
}

// Node returns a logging hook that tags every message with nodeID and
// writes at the given level. The core gossip components take this hook
// instead of touching the global logger.
func Node(nodeID string, level Level) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		logAt(level, "[%s] %s", nodeID, fmt.Sprintf(format, args...))
	}
}

// GetGlobalLogger returns the global logger, nil before Init.
func GetGlobalLogger() *Logger {
	return globalLogger
}
