package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithDevice returns a logger carrying the device class and id fields
func WithDevice(logger *zap.Logger, class, deviceID string) *zap.Logger {
	return logger.With(
		zap.String("device_class", class),
		zap.String("device_id", deviceID),
	)
}
