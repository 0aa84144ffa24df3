package logger

import (
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	s *zap.SugaredLogger
}

// New builds a production (JSON) or development (console) logger.
func New(mode, level string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{s: z.Sugar()}, nil
}

// NewNop discards everything. Used by tests and by components built without a logger.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.s.Sync()
}

func (l *Logger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

// OrNop lets constructors accept a nil logger.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return l
}
