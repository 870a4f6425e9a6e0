// Package logging wires the three named loggers the pipelines use —
// resource_tracking, storage, db — to one shared level, raised together
// by DEBUG exactly like the Python LOG_CONFIG dictConfig block this
// module replaces.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

const (
	// LoggerResourceTracking names the archiver/harvester orchestration logger.
	LoggerResourceTracking = "resource_tracking"
	// LoggerStorage names the blob/metadata-store logger.
	LoggerStorage = "storage"
	// LoggerDB names the database gateway logger.
	LoggerDB = "db"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	base.SetLevel(logrus.WarnLevel)
}

// Configure raises every named logger to debug level when debug is true,
// otherwise leaves them at warn, mirroring common_settings.py's DEBUG switch.
func Configure(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.WarnLevel)
	}
}

// Named returns the logger entry for one of the constants above.
func Named(name string) *logrus.Entry {
	return base.WithField("logger", name)
}
