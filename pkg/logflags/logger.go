package logflags

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface of every pdbg layer.
type Logger interface {
	// WithTarget returns a Logger that tags every entry with the path of t.
	WithTarget(t fmt.Stringer) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
}

// LoggerFactory creates the Logger of a layer. flag reports whether the
// layer was enabled with --log-output, out is nil unless --log-dest was
// given.
type LoggerFactory func(flag bool, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus backed loggers of every layer
// created afterwards.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// Fields are attached to every entry of a Logger.
type Fields map[string]interface{}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithTarget(t fmt.Stringer) Logger {
	return &logrusLogger{l.Entry.WithField("target", t.String())}
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}
