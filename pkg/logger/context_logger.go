package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

// Context keys recognized by WithContext. The HTTP middleware stamps them
// onto the request context.
const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyClientID  contextKey = "client_id"
)

// ContextLogger derives loggers carrying identity fields from the request
// context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns the base logger annotated with whichever identity
// fields the context carries.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	var fields []zapcore.Field

	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(ContextKeyClientID).(string); ok && id != "" {
		fields = append(fields, zap.String("client_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogRequest writes one access log line for a completed HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMS int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMS),
	)
}

// LogError writes an error annotated with the context's identity fields.
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}
