package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. format is "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	return newLogger(os.Stderr, level, format)
}

func newLogger(out io.Writer, level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)

	switch format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}
