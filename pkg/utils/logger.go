// File: pkg/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	Logger *logrus.Logger

	logMu   sync.Mutex
	logFile *os.File
)

// InitLogger initializes the global logger. output is stdout, stderr or file; file output
// appends to the given path and replaces any file opened by an earlier call.
func InitLogger(level, format, output, file string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: logTimestampFormat}
	case "text", "":
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: logTimestampFormat}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	logMu.Lock()
	defer logMu.Unlock()

	var out io.Writer
	var opened *os.File
	switch {
	case output == "file" && file != "":
		opened, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		out = opened
	case output == "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)

	if logFile != nil {
		logFile.Close()
	}
	logFile = opened
	Logger = logger

	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}
