package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urbanflow/water-telemetry-worker/internal/metrics"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// Handler processes one parsed telemetry message. Implementations must
// respect ctx cancellation; the dispatcher enforces a per-message timeout.
type Handler func(ctx context.Context, msg telemetry.Message)

var knownClasses = map[string]telemetry.DeviceClass{
	"meters":   telemetry.ClassMeter,
	"quality":  telemetry.ClassQuality,
	"pressure": telemetry.ClassPressure,
	"flow":     telemetry.ClassFlow,
	"pumps":    telemetry.ClassPump,
	"tanks":    telemetry.ClassTank,
	"pipes":    telemetry.ClassLeak,
}

// ParseTopic splits an inbound topic of the form <class>/<deviceId>/<suffix>
// into its device class and device id. Unknown classes and malformed topics
// are errors; the caller logs and drops.
func ParseTopic(topic string) (telemetry.DeviceClass, string, error) {
	segments := strings.Split(topic, "/")
	if len(segments) != 3 {
		return "", "", fmt.Errorf("malformed topic %q: expected 3 segments, got %d", topic, len(segments))
	}
	class, ok := knownClasses[segments[0]]
	if !ok {
		return "", "", fmt.Errorf("unknown device class %q in topic %q", segments[0], topic)
	}
	if segments[1] == "" {
		return "", "", fmt.Errorf("empty device id in topic %q", topic)
	}
	return class, segments[1], nil
}

// Dispatcher routes raw broker deliveries through a bounded queue to a pool
// of worker goroutines. The enqueue path never blocks: the broker callback
// must stay fast, so a full queue drops the message.
type Dispatcher struct {
	queue          chan telemetry.Message
	workers        int
	messageTimeout time.Duration
	handler        Handler
	logger         *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	dropLogAt atomic.Int64
}

// NewDispatcher creates a dispatcher with the given pool size and queue
// capacity.
func NewDispatcher(workers, queueSize int, messageTimeout time.Duration, handler Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:          make(chan telemetry.Message, queueSize),
		workers:        workers,
		messageTimeout: messageTimeout,
		handler:        handler,
		logger:         logger,
	}
}

// Enqueue parses the topic and queues the delivery for a worker. The payload
// must already be an owned copy. Malformed topics and a full queue both
// result in a dropped message.
func (d *Dispatcher) Enqueue(topic string, payload []byte, receivedAt time.Time) {
	class, deviceID, err := ParseTopic(topic)
	if err != nil {
		metrics.MessagesMalformed.Inc()
		d.logger.Warn("dropping message with unroutable topic", zap.Error(err))
		return
	}

	metrics.MessagesReceived.WithLabelValues(string(class)).Inc()

	msg := telemetry.Message{
		Class:      class,
		DeviceID:   deviceID,
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}

	select {
	case d.queue <- msg:
		metrics.QueueDepth.Inc()
	default:
		metrics.QueueDropped.Inc()
		d.logDropRateLimited()
	}
}

// logDropRateLimited emits at most one warning per second no matter how many
// drops occur in that window.
func (d *Dispatcher) logDropRateLimited() {
	now := time.Now().UnixNano()
	last := d.dropLogAt.Load()
	if now-last >= int64(time.Second) && d.dropLogAt.CompareAndSwap(last, now) {
		d.logger.Warn("processing queue full, message dropped; consider raising PIPELINE_QUEUE_SIZE or PIPELINE_WORKERS")
	}
}

// Start launches the worker pool. Workers drain the queue until it is
// closed by Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting dispatcher",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
	)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			for msg := range d.queue {
				metrics.QueueDepth.Dec()
				d.process(ctx, msg)
			}
			d.logger.Debug("dispatch worker stopped", zap.Int("worker_id", workerID))
		}(i)
	}
}

// process runs one message under the per-message timeout. A stalled
// downstream write can only stall this worker until the deadline fires.
func (d *Dispatcher) process(ctx context.Context, msg telemetry.Message) {
	start := time.Now()

	msgCtx, cancel := context.WithTimeout(ctx, d.messageTimeout)
	defer cancel()

	d.handler(msgCtx, msg)
	metrics.ProcessingDuration.WithLabelValues(string(msg.Class)).Observe(time.Since(start).Seconds())
}

// Stop closes the queue and waits for the workers to drain it.
func (d *Dispatcher) Stop() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}
