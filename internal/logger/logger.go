package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled printf-style logger. Each server owns its own instance
// so log configuration follows the server lifecycle instead of process-global
// state. The zero value is not usable; construct with New or Default.
type Logger struct {
	level Level
	out   *stdlog.Logger
}

// New creates a Logger writing to w at the given minimum level.
func New(level string, w io.Writer) *Logger {
	return &Logger{
		level: ParseLevel(level),
		out:   stdlog.New(w, "", 0),
	}
}

// Default returns an INFO-level logger on stdout.
func Default() *Logger {
	return New("INFO", os.Stdout)
}

func (l *Logger) log(level Level, format string, v ...any) {
	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	message := fmt.Sprintf(format, v...)
	l.out.Println(prefix + message)
}

func (l *Logger) Debug(format string, v ...any) {
	l.log(LevelDebug, format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	l.log(LevelInfo, format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.log(LevelWarn, format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.log(LevelError, format, v...)
}
