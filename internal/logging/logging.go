// Package logging builds the JSON line logger shared by all components.
// Every line carries ts (RFC3339Nano in the configured location), level and msg.
package logging

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing JSON lines to w.
// Unknown levels fall back to info.
func New(w io.Writer, level string, loc *time.Location) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(NewFormatter(loc))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// NewFormatter returns the JSON formatter used by New, rendering timestamps in loc.
func NewFormatter(loc *time.Location) logrus.Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &locationFormatter{
		loc: loc,
		json: &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		},
	}
}

// Discard returns a logger that drops everything; used in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type locationFormatter struct {
	loc  *time.Location
	json *logrus.JSONFormatter
}

func (f *locationFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.In(f.loc)
	return f.json.Format(e)
}
