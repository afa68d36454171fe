package logging

import (
	"github.com/pion/logging"
)

var loggerFactory = logging.NewDefaultLoggerFactory()

// Factory returns the process wide logger factory used when a caller
// doesn't provide one.
func Factory() logging.LoggerFactory {
	return loggerFactory
}

func NewLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}

// Or returns f, or the default factory when f is nil.
func Or(f logging.LoggerFactory) logging.LoggerFactory {
	if f == nil {
		return loggerFactory
	}
	return f
}
