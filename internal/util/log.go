package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

// logger is the process-wide pterm logger, writing to stderr with time stamps.
var logger = &pterm.DefaultLogger

func init() {
	logger.ShowTime = true
	logger.TimeFormat = "02 Jan 15:04:05"
	logger.MaxWidth = 1000
}

// EnableDebug turns on debug output (--debug).
func EnableDebug() {
	logger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are currently printed.
func DebugEnabled() bool {
	return logger.Level <= pterm.LogLevelDebug
}

func LogDebug(format string, args ...interface{})   { logf(pterm.LogLevelDebug, nil, format, args) }
func LogInfo(format string, args ...interface{})    { logf(pterm.LogLevelInfo, nil, format, args) }
func LogWarning(format string, args ...interface{}) { logf(pterm.LogLevelWarn, nil, format, args) }
func LogError(format string, args ...interface{})   { logf(pterm.LogLevelError, nil, format, args) }

// LogSuccess logs a milestone at info level, tagged so it stands out.
func LogSuccess(format string, args ...interface{}) {
	logf(pterm.LogLevelInfo, logger.Args("status", "ok"), format, args)
}

func logf(level pterm.LogLevel, fields []pterm.LoggerArgument, format string, args []interface{}) {
	if logger.Level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch level {
	case pterm.LogLevelDebug:
		logger.Debug(msg, fields)
	case pterm.LogLevelWarn:
		logger.Warn(msg, fields)
	case pterm.LogLevelError:
		logger.Error(msg, fields)
	default:
		logger.Info(msg, fields)
	}
}

// Scope tags every message with the component or peer it came from,
// e.g. peer=alpha.
type Scope struct {
	name string
}

// Scoped returns a Scope tagged with name.
func Scoped(name string) Scope {
	return Scope{name: name}
}

func (s Scope) args() []pterm.LoggerArgument { return logger.Args("peer", s.name) }

func (s Scope) Debug(format string, args ...interface{}) {
	logf(pterm.LogLevelDebug, s.args(), format, args)
}
func (s Scope) Info(format string, args ...interface{}) {
	logf(pterm.LogLevelInfo, s.args(), format, args)
}
func (s Scope) Warn(format string, args ...interface{}) {
	logf(pterm.LogLevelWarn, s.args(), format, args)
}
func (s Scope) Error(format string, args ...interface{}) {
	logf(pterm.LogLevelError, s.args(), format, args)
}
