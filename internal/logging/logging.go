package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logger       = logrus.New()
	debugEnabled = strings.EqualFold(os.Getenv("TUTORLY_DEBUG"), "1")
)

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debugEnabled {
		logger.SetLevel(logrus.DebugLevel)
	}
}

// Setup applies the configured level. TUTORLY_DEBUG=1 always wins.
func Setup(level string) {
	if debugEnabled {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// L returns the process-wide logger.
func L() *logrus.Logger {
	return logger
}

// WithUser is a shorthand for the field every request-scoped entry carries.
func WithUser(userID string) *logrus.Entry {
	return logger.WithField("user_id", userID)
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}
