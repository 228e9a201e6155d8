package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
)

// newLogger derives a command logger from the shared one. verbose forces
// DebugLevel and LOG_FORMAT=json switches to structured output.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(Logger.GetLevel())

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
