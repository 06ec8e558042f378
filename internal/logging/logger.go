package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Output string `json:"output" mapstructure:"output"`
}

type Logger struct {
	logger *log.Logger
	config *LoggingConfig
	mutex  sync.RWMutex
	level  LogLevel
	prefix string
	closer io.Closer
}

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelMap = map[string]LogLevel{
	"debug": DEBUG,
	"info":  INFO,
	"warn":  WARN,
	"error": ERROR,
	"fatal": FATAL,
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	if level, ok := levelMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level
	}
	return INFO
}

func NewLogger(config *LoggingConfig) (*Logger, error) {
	if config == nil {
		config = &LoggingConfig{
			Level:  "info",
			Output: "stdout",
		}
	}

	var output io.Writer
	var closer io.Closer
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	return &Logger{
		logger: log.New(output, "", log.LstdFlags|log.Lmicroseconds),
		config: config,
		level:  ParseLevel(config.Level),
		closer: closer,
	}, nil
}

// New wraps an arbitrary writer, mostly for tests and embedding.
func New(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		config: &LoggingConfig{},
		level:  level,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, FATAL+1)
}

// Named returns a child logger writing to the same sink with a component prefix.
func (l *Logger) Named(component string) *Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return &Logger{
		logger: l.logger,
		config: l.config,
		level:  l.level,
		prefix: "[" + component + "] ",
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.level <= level
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.logger.Printf("[DEBUG] "+l.prefix+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.enabled(INFO) {
		l.logger.Printf("[INFO] "+l.prefix+format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.enabled(WARN) {
		l.logger.Printf("[WARN] "+l.prefix+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.enabled(ERROR) {
		l.logger.Printf("[ERROR] "+l.prefix+format, args...)
	}
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.logger.Printf("[FATAL] "+l.prefix+format, args...)
	os.Exit(1)
}

func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
