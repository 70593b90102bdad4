package libav

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logMu  sync.RWMutex
	logger logrus.FieldLogger = newDefaultLogger()
)

// loggerOwned reports whether logger is the package default.
var loggerOwned = true

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLogger replaces the package logger. Passing nil restores the default.
func SetLogger(l logrus.FieldLogger) {
	logMu.Lock()
	defer logMu.Unlock()
	loggerOwned = l == nil
	if l == nil {
		l = newDefaultLogger()
	}
	logger = l
}

// setLogLevel applies lvl when the package still owns its logger.
func setLogLevel(lvl logrus.Level) {
	logMu.Lock()
	defer logMu.Unlock()
	if l, ok := logger.(*logrus.Logger); ok && loggerOwned {
		l.SetLevel(lvl)
	}
}

func logFn(function string) *logrus.Entry {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.WithField("function", function)
}
