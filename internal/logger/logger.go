// Package logger builds the logrus loggers shared by the CLI, the pipeline
// and the web server, and the field helpers that tag lines with the record
// and operation they belong to.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field keys attached by the helpers below.
const (
	FieldRecord    = "record"
	FieldImage     = "image"
	FieldOperation = "operation"
)

// LoggerConfig selects level, format and destinations.
type LoggerConfig struct {
	Level      string // debug, info, warn or error
	FilePath   string // rotated log file; empty logs to stdout only
	MaxSize    int    // MB per file before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // also write to stdout when FilePath is set
	Text       bool // human readable lines instead of JSON
}

// NewLogger returns a logger for config. File output goes through
// lumberjack so long batch sessions cannot fill the disk.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	out, err := outputFor(config)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterFor(config))
	logger.SetOutput(out)
	return logger, nil
}

func formatterFor(config LoggerConfig) logrus.Formatter {
	if config.Text {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	}
}

func outputFor(config LoggerConfig) (io.Writer, error) {
	if config.FilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	if config.Console {
		return io.MultiWriter(file, os.Stdout), nil
	}
	return file, nil
}

// WithRecord tags entries with a record ID.
func WithRecord(logger *logrus.Logger, recordID string) *logrus.Entry {
	return logger.WithField(FieldRecord, recordID)
}

// WithOperation tags entries with a pipeline or naming operation.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField(FieldOperation, operation)
}

func WithRecordOperation(logger *logrus.Logger, recordID, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldRecord:    recordID,
		FieldOperation: operation,
	})
}

// WithImage tags entries with a record and the file name the user
// submitted, which is what people search logs for.
func WithImage(logger *logrus.Logger, recordID, sourceName, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldRecord:    recordID,
		FieldImage:     sourceName,
		FieldOperation: operation,
	})
}

// Discard returns a logger that drops every entry. Tests use it.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// DefaultConfig logs info and above to image-optimizer.log and stdout.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		FilePath:   "image-optimizer.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
