// Package ridgelog provides the package-level structured logger that the
// indexing pool (package indexer) uses by default.
package ridgelog

import "github.com/sirupsen/logrus"

// Logger is the package-level logger every long-lived component falls
// back to when no WithLogger option overrides it.
var Logger = logrus.New()

// SetLevel adjusts the package-level logger's verbosity.
func SetLevel(level logrus.Level) {
	Logger.SetLevel(level)
}

// SetJSON switches the package-level logger's formatter between the
// default text formatter and logrus's JSON formatter, for production
// deployments that ship logs to a structured sink.
func SetJSON(json bool) {
	if json {
		Logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Logger.SetFormatter(&logrus.TextFormatter{})
}

// Field is a single structured key/value pair, a thin alias so callers
// outside this package don't need a direct logrus import just to build
// a Fields map.
type Field = logrus.Fields
