package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
)

// Logger is a scoped console logger. Every package creates its own with a
// short uppercase scope tag so interleaved output stays attributable.
type Logger struct {
	scope string
}

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	debugColor   = color.New(color.FgMagenta)
	scopeColor   = color.New(color.FgWhite, color.Bold)
)

func New(scope string) *Logger {
	return &Logger{scope: scope}
}

func (l *Logger) print(c *color.Color, level, format string, args ...interface{}) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("%s [%s] %s ", ts, scopeColor.Sprint(l.scope), c.Sprint(level))
	fmt.Fprintf(os.Stdout, prefix+format+"\n", args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.print(infoColor, "INFO", format, args...)
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.print(successColor, "OK", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.print(warnColor, "WARN", format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if os.Getenv("DEBUG") == "" {
		return
	}
	l.print(debugColor, "DEBUG", format, args...)
}

// Error logs and returns the error so call sites can do
// `return log.Error("failed to load campaign", err)`.
func (l *Logger) Error(msg string, err error) error {
	if err == nil {
		l.print(errorColor, "ERROR", "%s", msg)
		return fmt.Errorf("%s", msg)
	}
	l.print(errorColor, "ERROR", "%s: %v", msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}

// Errorf logs a formatted error message and returns it as an error.
func (l *Logger) Errorf(format string, args ...interface{}) error {
	l.print(errorColor, "ERROR", format, args...)
	return fmt.Errorf(format, args...)
}
