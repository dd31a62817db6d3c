// Package definition carries the small set of concrete implementations that
// sit below the interfaces in package types: the default Logger and the
// default goroutine Invoker, mirroring this module's ancestry's definition
// package.
package definition

import (
	"github.com/sirupsen/logrus"
)

// NewDefaultLogger builds a logrus-backed types.Logger, replacing this
// module's ancestry's raw stdlib *log.Logger wrapper with structured
// logging while keeping the same method shape.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// DefaultLogger implements types.Logger over a logrus.Entry.
type DefaultLogger struct {
	entry *logrus.Entry
}

func (l *DefaultLogger) Info(v ...interface{})  { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})  { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{}) { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) {
	l.entry.Debug(v...)
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// ToggleDebug raises or lowers this logger's level and returns whether
// debug logging is now enabled.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

// WithField returns a logger that decorates every subsequent line with
// key=value, useful for tagging a parallel rank's logger with its rank
// number.
func (l *DefaultLogger) WithField(key string, value interface{}) *DefaultLogger {
	return &DefaultLogger{entry: l.entry.WithField(key, value)}
}
