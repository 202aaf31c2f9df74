// Package logger owns the process-wide logrus logger used by the channel.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu           sync.Mutex
	globalLogger *logrus.Logger
)

// Config mirrors the `logging` section of the configuration file
type Config struct {
	Level        string
	File         string
	MaxSize      int
	MaxBackups   int
	MaxAge       int
	Compress     bool
	EnableStdout bool
}

// InitLogger replaces the global logger. An unknown level falls back to info.
// With neither a file nor stdout enabled, records are discarded.
func InitLogger(cfg Config) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	out, err := outputFor(cfg)
	if err != nil {
		return err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(out)
	l.SetFormatter(formatterFor(level))

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

func outputFor(cfg Config) (io.Writer, error) {
	var writers []io.Writer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		maxSize := cfg.MaxSize
		if maxSize == 0 {
			maxSize = constants.DefaultLogMaxSize
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		})
	}
	if cfg.EnableStdout {
		writers = append(writers, os.Stdout)
	}
	switch len(writers) {
	case 0:
		return io.Discard, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// Debug runs get colored text, everything else is JSON for log shipping.
func formatterFor(level logrus.Level) logrus.Formatter {
	if level == logrus.DebugLevel {
		return &logrus.TextFormatter{
			ForceColors:     true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z"}
}

// GetLogger returns the global logger, creating a text logger at info level
// when InitLogger has not run yet.
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = logrus.New()
		globalLogger.SetLevel(logrus.InfoLevel)
		globalLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return globalLogger
}

// WithFields returns a logger entry with structured fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// ForAccount returns an entry tagged with the DingTalk account id.
// A nil base falls back to the global logger.
func ForAccount(base logrus.FieldLogger, accountID string) logrus.FieldLogger {
	return Or(base).WithField("account_id", accountID)
}

// Or returns l, or the global logger when l is nil
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return GetLogger()
	}
	return l
}

// MaskSecret keeps the first and last few characters of a credential
func MaskSecret(s string) string {
	if len(s) <= constants.MinSecretLengthForMasking {
		return "***"
	}
	return s[:constants.SecretMaskPrefixLength] + "***" + s[len(s)-constants.SecretMaskSuffixLength:]
}
