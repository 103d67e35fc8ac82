package alert

import (
	"context"

	"github.com/urbanflow/water-telemetry-worker/internal/metrics"
	"go.uber.org/zap"
)

// Publisher is the outbound notification collaborator. Dispatch is
// fire-and-forget: the emitter never propagates a publish failure.
type Publisher interface {
	PublishAlert(ctx context.Context, a Alert) error
}

// Emitter forwards alerts to the notification collaborator.
type Emitter struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewEmitter creates an alert emitter.
func NewEmitter(publisher Publisher, logger *zap.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit dispatches each alert. A dispatch failure is logged and does not
// affect the already-persisted reading or sample.
func (e *Emitter) Emit(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		if err := e.publisher.PublishAlert(ctx, a); err != nil {
			metrics.AlertPublishFailures.Inc()
			e.logger.Error("failed to dispatch alert",
				zap.Error(err),
				zap.String("alert_type", a.Type),
				zap.String("device_id", a.DeviceID),
			)
			continue
		}
		metrics.AlertsPublished.WithLabelValues(a.Type).Inc()
		e.logger.Info("alert dispatched",
			zap.String("alert_type", a.Type),
			zap.String("severity", string(a.Severity)),
			zap.String("device_id", a.DeviceID),
		)
	}
}
