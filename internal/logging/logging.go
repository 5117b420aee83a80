// Package logging wraps zerolog behind a "message + key/value pairs"
// calling convention so call sites across the rest of the repo stay terse.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a structured, leveled logger. The zero value is not usable;
// construct one with New.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing console-formatted output to stdout in dev
// mode, or plain JSON when WEBHOOKHUB_LOG_JSON=1 (set in containerized
// deployments).
func New(component string) Logger {
	var w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	var base zerolog.Logger
	if os.Getenv("WEBHOOKHUB_LOG_JSON") == "1" {
		base = zerolog.New(os.Stdout)
	} else {
		base = zerolog.New(w)
	}
	return Logger{z: base.With().Timestamp().Str("component", component).Logger()}
}

// KV logs msg at info level with the given key/value pairs.
func (l Logger) KV(msg string, kv ...any) {
	l.event(zerolog.InfoLevel, msg, kv...)
}

// Error logs msg at error level with the given key/value pairs.
func (l Logger) Error(msg string, kv ...any) {
	l.event(zerolog.ErrorLevel, msg, kv...)
}

// Warn logs msg at warn level with the given key/value pairs.
func (l Logger) Warn(msg string, kv ...any) {
	l.event(zerolog.WarnLevel, msg, kv...)
}

// Debug logs msg at debug level with the given key/value pairs.
func (l Logger) Debug(msg string, kv ...any) {
	l.event(zerolog.DebugLevel, msg, kv...)
}

func (l Logger) event(level zerolog.Level, msg string, kv ...any) {
	e := l.z.WithLevel(level)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

// With returns a child Logger with an extra key/value pair attached to
// every subsequent log line — useful for threading a correlation ID
// through a single request or delivery attempt.
func (l Logger) With(key string, value any) Logger {
	return Logger{z: l.z.With().Interface(key, value).Logger()}
}
