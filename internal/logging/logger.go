package logging

import (
	"go.uber.org/zap"

	"github.com/example/palm-pay/internal/features"
)

// NewLogger builds a structured logger. "development" yields a console
// encoder at debug level; anything else the production JSON config.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}

// Template logs only the display prefix of a template ID.
func Template(id features.TemplateID) zap.Field {
	return zap.String("template", id.Prefix())
}
