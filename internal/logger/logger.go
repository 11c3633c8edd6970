package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// zapLogger wraps a *zap.SugaredLogger and implements Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Ensure zapLogger satisfies Logger.
var _ Logger = (*zapLogger)(nil)

// Debug logs at DebugLevel. keysAndValues are alternating key/value pairs.
func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at InfoLevel.
func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs at WarnLevel.
func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs at ErrorLevel.
func (l *zapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// ----------------------------------------------------------------------------
// globalSugar holds the SugaredLogger for easy global use.
var (
	globalSugar *zap.SugaredLogger
	globalTail  *tailCore
)

// Option tweaks logger construction.
type Option func(*settings)

type settings struct {
	logFile  string
	tailSize int
}

// WithLogFile appends the session log to the given file in addition to the
// console. The file sink is plain text, no color codes.
func WithLogFile(path string) Option {
	return func(s *settings) {
		s.logFile = path
	}
}

// WithTailSize sets how many trailing log lines Tail returns.
func WithTailSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.tailSize = n
		}
	}
}

// Init creates a Zap logger, wraps it, and returns the Logger interface.
// Call this once at startup.
func Init(opts ...Option) (Logger, error) {
	s := &settings{tailSize: 40}
	for _, opt := range opts {
		opt(s)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapcore.InfoLevel,
	)

	plainCfg := zap.NewDevelopmentEncoderConfig()
	plainCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	plainCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	tail := newTailCore(zapcore.NewConsoleEncoder(plainCfg), s.tailSize)
	cores := []zapcore.Core{consoleCore, tail}

	if s.logFile != "" {
		f, err := os.OpenFile(s.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		fileCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(plainCfg),
			zapcore.Lock(f),
			zapcore.InfoLevel,
		)
		cores = append(cores, fileCore)
	}

	zapLog := zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))

	sugar := zapLog.Sugar()
	globalSugar = sugar
	globalTail = tail

	return &zapLogger{sugar: sugar}, nil
}

// Cleanup flushes any buffered log entries. Call at program exit.
func Cleanup() {
	if globalSugar != nil {
		_ = globalSugar.Sync()
	}
}

// Global returns the Logger created by Init(), for use in libraries.
func Global() Logger {
	if globalSugar == nil {
		log, _ := Init()
		return log
	}
	return &zapLogger{sugar: globalSugar}
}

// Tail returns the most recent session-log lines, oldest first. The run
// ledger embeds this excerpt beside each artifact.
func Tail() []string {
	if globalTail == nil {
		return nil
	}
	return globalTail.Lines()
}
