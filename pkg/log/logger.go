package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the clock format used by every command's log output.
const TimestampFormat = "15:04:05.000"

// Setup creates a logrus.Logger writing to out at the given level.
// An unparsable level falls back to info and is reported through the returned logger.
func Setup(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: TimestampFormat})
	log.SetLevel(logrus.InfoLevel)

	if levelStr == "" {
		return log
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
		return log
	}
	log.SetLevel(level)
	return log
}
