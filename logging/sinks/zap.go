package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

// Zap writes events through a zap logger, one structured entry per event.
type Zap struct {
	logger *zap.Logger
}

func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger.Named("events")}
}

func (s *Zap) Write(event logging.Event) error {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("actor", formatEntity(event.Actor)),
		zap.Time("time", event.Time),
	}
	if event.Category != "" {
		fields = append(fields, zap.String("category", event.Category))
	}
	if event.Block > 0 || event.Round > 0 {
		fields = append(fields, zap.Int("block", event.Block), zap.Int("round", event.Round))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	if len(event.Extra) > 0 {
		fields = append(fields, zap.Any("extra", event.Extra))
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("trace_id", event.TraceID))
	}
	if ce := s.logger.Check(zapLevel(event.Severity), string(event.Type)); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync reports ENOTTY/EINVAL for console writers; there is nothing to recover.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}
