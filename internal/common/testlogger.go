package common

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a logrus.Entry that writes to t.Log instead of
// stdout, so `go test -v` output stays readable.
func NewTestLogger(t testing.TB) *logrus.Entry {
	logger := logrus.New()
	logger.Out = testWriter{t}
	logger.Level = logrus.DebugLevel
	return logrus.NewEntry(logger)
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
