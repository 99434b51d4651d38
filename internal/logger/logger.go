package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	output = newZerolog(os.Stdout, "info", false)
)

func newZerolog(w io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Configure replaces the process logger. Called once from main after config.Load.
func Configure(level string, pretty bool) {
	mu.Lock()
	defer mu.Unlock()
	output = newZerolog(os.Stdout, level, pretty)
}

// SetOutput redirects log lines, used by tests to capture events.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = newZerolog(w, "debug", false)
}

func emit(level zerolog.Level, msg string, extra map[string]interface{}) {
	mu.RLock()
	l := output
	mu.RUnlock()
	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if len(extra) > 0 {
		ev = ev.Fields(extra)
	}
	ev.Msg(msg)
}

func Debug(msg string, extra map[string]interface{}) {
	emit(zerolog.DebugLevel, msg, extra)
}

func Info(msg string, extra map[string]interface{}) {
	emit(zerolog.InfoLevel, msg, extra)
}

func Warn(msg string, extra map[string]interface{}) {
	emit(zerolog.WarnLevel, msg, extra)
}

func Error(msg string, extra map[string]interface{}) {
	emit(zerolog.ErrorLevel, msg, extra)
}
