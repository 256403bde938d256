// Package logger builds the logrus logger used by the daemon.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Log wraps a logrus entry.
type Log struct {
	*logrus.Entry
}

// New returns a text logger at the given level writing to stdout.
func New(level string) (*Log, error) {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(level string, out io.Writer) (*Log, error) {
	log := logrus.New()
	log.SetOutput(out)
	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	return &Log{Entry: log.WithFields(nil)}, nil
}

// With adds fields to every entry of the returned logger.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module is shorthand for With(Fields{"module": name}).
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

// GetLevel returns the current level name.
func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}
