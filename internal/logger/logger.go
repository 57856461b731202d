package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log level and file rotation. An empty FilePath disables
// file output entirely (console only).
type Options struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger wraps a dedicated logrus instance with rotated file output. Risk
// decisions must survive process restarts, so file logging is on by default
// and closed explicitly on shutdown.
type Logger struct {
	*logrus.Logger
	fileWriter io.Closer
}

// fileHook duplicates every entry to the rotated log file with a plain
// (color-free) formatter.
type fileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

// New builds the risk-guard logger. Invalid levels fall back to info rather
// than failing startup.
func New(opts Options) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:            true,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	base.SetOutput(os.Stdout)

	l := &Logger{Logger: base}

	if opts.FilePath != "" {
		dir := filepath.Dir(opts.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotated := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		base.AddHook(&fileHook{
			writer: rotated,
			formatter: &logrus.TextFormatter{
				DisableColors:   true,
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			},
		})
		l.fileWriter = rotated
	}

	return l, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// WithComponent tags entries with the emitting component name.
func (l *Logger) WithComponent(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close flushes and closes the rotated log file.
func (l *Logger) Close() {
	if l.fileWriter != nil {
		l.fileWriter.Close()
	}
}
