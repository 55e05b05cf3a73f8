// Package log is the thin logging facade used across the engine. It wraps
// logrus the way the rest of the corpus wraps a structured logger behind a
// package-level default instance plus an injection point, rather than
// calling logrus directly from every package.
package log

import (
	"github.com/sirupsen/logrus"
)

// Logger is the subset of logrus.FieldLogger the engine depends on. Any
// logrus.FieldLogger satisfies it, including *logrus.Entry, so callers can
// inject a logger already carrying fields (request id, target, etc).
type Logger = logrus.FieldLogger

var std Logger = logrus.StandardLogger()

// SetDefault overrides the package-level logger used by components
// constructed without an explicit logger (e.g. via zero-value Config).
func SetDefault(l Logger) {
	if l != nil {
		std = l
	}
}

// Default returns the current package-level logger.
func Default() Logger {
	return std
}

// Named returns a logger carrying a "component" field, so each component's
// debug/info/warn/error lines can be filtered or attributed independently.
func Named(component string) Logger {
	return std.WithField("component", component)
}
