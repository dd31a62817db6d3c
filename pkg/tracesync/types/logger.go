package types

// Logger is the logging surface consumed across the engine. Implementations
// are free to back it with any structured logging library; the default
// implementation in the definition package wraps logrus.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// ToggleDebug flips debug-level output and returns the new state.
	ToggleDebug(value bool) bool
}
