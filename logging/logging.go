package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Init initializes the logger with the given configuration. Applications
// embedding the library call this once; when it is never called the
// library logs at warn level and above to stderr.
//
// Parameters:
//   - level: logrus level name, falls back to "info" when unparseable
//   - logFile: optional file path to append logs to, "" disables file output
//   - console: whether to also write to stderr
//
// Returns:
//   - error: if the log file or its directory could not be created
func Init(level, logFile string, console bool) error {
	log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var writers []io.Writer

	if console {
		writers = append(writers, os.Stderr)
	}

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	if len(writers) > 0 {
		log.SetOutput(io.MultiWriter(writers...))
	}

	return nil
}

// Get returns the logger instance, creating a quiet default when Init
// was never called.
func Get() *logrus.Logger {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func Debug(args ...any) {
	Get().Debug(args...)
}

func Debugf(format string, args ...any) {
	Get().Debugf(format, args...)
}

func Info(args ...any) {
	Get().Info(args...)
}

func Infof(format string, args ...any) {
	Get().Infof(format, args...)
}

func Warn(args ...any) {
	Get().Warn(args...)
}

func Warnf(format string, args ...any) {
	Get().Warnf(format, args...)
}

func Error(args ...any) {
	Get().Error(args...)
}

func Errorf(format string, args ...any) {
	Get().Errorf(format, args...)
}

func Fatal(args ...any) {
	Get().Fatal(args...)
}

func Fatalf(format string, args ...any) {
	Get().Fatalf(format, args...)
}
