package transport

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/glare/internal/util"
)

// loggerFactory routes pion's internal logging into the pterm logger.
// Trace output is dropped; debug and info only show with --debug.
type loggerFactory struct{}

func newLoggerFactory() logging.LoggerFactory { return loggerFactory{} }

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: util.Scoped("pion/" + scope)}
}

type pionLogger struct {
	scope util.Scope
}

func (pionLogger) Trace(string)                  {}
func (pionLogger) Tracef(string, ...interface{}) {}

func (l pionLogger) Debug(msg string) { l.scope.Debug("%s", msg) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	if util.DebugEnabled() {
		l.scope.Debug("%s", fmt.Sprintf(format, args...))
	}
}

func (l pionLogger) Info(msg string) { l.scope.Debug("%s", msg) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	if util.DebugEnabled() {
		l.scope.Debug("%s", fmt.Sprintf(format, args...))
	}
}

func (l pionLogger) Warn(msg string) { l.scope.Warn("%s", msg) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.scope.Warn("%s", fmt.Sprintf(format, args...))
}

func (l pionLogger) Error(msg string) { l.scope.Error("%s", msg) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.scope.Error("%s", fmt.Sprintf(format, args...))
}
