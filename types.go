package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenSource hands out the bearer token for privileged calls.
// Implementations must return an error instead of an empty token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function into a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// AccessToken satisfies the TokenSource interface.
func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, error) {
	if f == nil {
		return "", ErrTokenMissing
	}
	return f(ctx)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + formatLog(format, args))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + formatLog(format, args))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + formatLog(format, args))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + formatLog(format, args))
}

// formatLog applies printf verbs when msg has any, otherwise it treats
// args as key/value pairs.
func formatLog(msg string, args []any) string {
	if len(args) == 0 {
		return newline(msg)
	}
	if strings.Contains(msg, "%") {
		return newline(fmt.Sprintf(msg, args...))
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// SlogLogger adapts a structured slog.Logger to the Logger interface.
// Args are treated as slog key/value pairs.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l. A nil logger falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
