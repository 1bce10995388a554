package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/pkg/jobs"
)

const notificationJobType = "notification"

// Notifier receives fire-and-forget notifications. Implementations must not block the caller
// on delivery and must not report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, notifications ...models.Notification)
}

// NotificationSink delivers a single notification to its recipient.
type NotificationSink interface {
	Deliver(ctx context.Context, notification models.Notification) error
}

// LogSink records notifications in the structured log; it stands in for a mail or push gateway.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver implements NotificationSink.
func (s *LogSink) Deliver(ctx context.Context, n models.Notification) error {
	s.logger.Info("notification",
		zap.String("type", string(n.Type)),
		zap.String("recipient", n.Recipient),
		zap.String("item_id", n.ItemID),
		zap.String("claim_id", n.ClaimID),
		zap.String("message", n.Message),
	)
	return nil
}

// NotificationDispatcher queues notifications on a worker pool and hands them to a sink,
// retrying failed deliveries.
type NotificationDispatcher struct {
	queue   *jobs.Queue
	sink    NotificationSink
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationDispatcher wires a dispatcher around a new queue.
func NewNotificationDispatcher(sink NotificationSink, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	d := &NotificationDispatcher{sink: sink, metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue("notifications", d.handle, cfg)
	return d
}

// Start launches the delivery workers.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for the delivery workers to exit.
func (d *NotificationDispatcher) Stop() {
	d.queue.Stop()
}

// Notify implements Notifier. A full or stopped queue drops the notification with a warning.
func (d *NotificationDispatcher) Notify(ctx context.Context, notifications ...models.Notification) {
	for _, n := range notifications {
		if n.Recipient == "" {
			continue
		}
		err := d.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: n})
		if err == nil {
			continue
		}
		if errors.Is(err, jobs.ErrQueueFull) {
			d.logger.Warn("notification queue full; dropping", zap.String("type", string(n.Type)), zap.String("recipient", n.Recipient))
		} else {
			d.logger.Warn("notification not queued", zap.String("type", string(n.Type)), zap.Error(err))
		}
		d.metrics.RecordNotification(string(n.Type), "dropped")
	}
}

func (d *NotificationDispatcher) handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		d.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := d.sink.Deliver(ctx, n); err != nil {
		d.metrics.RecordNotification(string(n.Type), "failed")
		return fmt.Errorf("deliver %s to %s: %w", n.Type, n.Recipient, err)
	}
	d.metrics.RecordNotification(string(n.Type), "delivered")
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, ...models.Notification) {}
