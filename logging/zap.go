package logging

import (
	"context"
	"fmt"

	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

type ZapLogger struct {
	l *zap.SugaredLogger
}

func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{l: l}
}

// New configures the process-wide go-log backend and returns the logger
// for the named subsystem.
func New(system, level string, json bool) (*ZapLogger, error) {
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	format := golog.PlaintextOutput
	if json {
		format = golog.JSONOutput
	}
	golog.SetupLogging(golog.Config{
		Format: format,
		Level:  lvl,
		Stderr: true,
	})

	return NewZapLogger(golog.Logger(system).Desugar().Sugar()), nil
}

// Nop discards everything.
func Nop() *ZapLogger {
	return NewZapLogger(zap.NewNop().Sugar())
}

func (z *ZapLogger) Debug(_ context.Context, msg string, args ...any) {
	z.l.Debugw(msg, args...)
}

func (z *ZapLogger) Info(_ context.Context, msg string, args ...any) {
	z.l.Infow(msg, args...)
}

func (z *ZapLogger) Warn(_ context.Context, msg string, args ...any) {
	z.l.Warnw(msg, args...)
}

func (z *ZapLogger) Error(_ context.Context, msg string, args ...any) {
	z.l.Errorw(msg, args...)
}

func (z *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{l: z.l.With(args...)}
}
