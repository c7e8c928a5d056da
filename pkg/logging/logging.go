// Package logging provides the leveled logger used by the pipeline stages and
// the command line tool.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
)

// Level is the lowest severity a logger writes.
type Level uint

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	SilentLevel
)

var levelNames = map[string]Level{
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warning": WarningLevel,
	"error":   ErrorLevel,
	"silent":  SilentLevel,
}

// ParseLevel maps a level name from the config file or command line.
func ParseLevel(s string) (Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Logger records messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the
	// text at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

type stdLogger struct {
	level Level
	log   *log.Logger
	file  *lumberjack.Logger
}

// New returns a logger writing "LEVEL message" lines to w.
func New(level Level, w io.Writer) Logger {
	return &stdLogger{
		level: level,
		log:   log.New(w, "", log.LstdFlags),
	}
}

// NewFile returns a logger writing to a rotating file. An empty filename
// sends messages to stderr.
func NewFile(level Level, cfg FileConfig) Logger {
	if cfg.Filename == "" {
		return New(level, os.Stderr)
	}
	l := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return &stdLogger{
		level: level,
		log:   log.New(l, "", log.LstdFlags),
		file:  l,
	}
}

func (l *stdLogger) printf(level Level, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.log.Printf(tag+" "+format, args...)
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.printf(DebugLevel, "DEBUG", format, args...)
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.printf(InfoLevel, "INFO", format, args...)
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.printf(WarningLevel, "WARNING", format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.printf(ErrorLevel, "ERROR", format, args...)
}

func (l *stdLogger) Shutdown() {
	if l.file != nil {
		l.file.Close()
	}
}

type nullLogger struct{}

// NullLogger discards everything.
var NullLogger Logger = nullLogger{}

func (nullLogger) Debugf(string, ...interface{})   {}
func (nullLogger) Infof(string, ...interface{})    {}
func (nullLogger) Warningf(string, ...interface{}) {}
func (nullLogger) Errorf(string, ...interface{})   {}
func (nullLogger) Shutdown()                       {}

// TimeLog appends the time elapsed since it was created to each message.
type TimeLog struct {
	logger Logger
	start  time.Time
}

// NewTimeLog starts a timer for logging through l.
func NewTimeLog(l Logger) TimeLog {
	return TimeLog{logger: l, start: time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	t.logger.Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	t.logger.Infof(format+": %s", append(args, time.Since(t.start))...)
}
