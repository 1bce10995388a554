package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/pkg/jobs"
)

type sinkStub struct {
	mu        sync.Mutex
	delivered []models.Notification
	failures  int
}

func (s *sinkStub) Deliver(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("gateway timeout")
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *sinkStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestNotificationDispatcherDelivers(t *testing.T) {
	sink := &sinkStub{failures: 1}
	dispatcher := NewNotificationDispatcher(sink, jobs.QueueConfig{Workers: 2, BufferSize: 8, MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, NewMetricsService(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	dispatcher.Notify(ctx,
		models.Notification{Type: models.NotificationClaimApproved, Recipient: "user-a", ItemID: "item-1"},
		models.Notification{Type: models.NotificationClaimRejected, Recipient: "", ItemID: "item-1"},
		models.Notification{Type: models.NotificationClaimRejected, Recipient: "user-b", ItemID: "item-1"},
	)

	assert.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationDispatcherDropsWhenStopped(t *testing.T) {
	sink := &sinkStub{}
	dispatcher := NewNotificationDispatcher(sink, jobs.QueueConfig{Workers: 1, BufferSize: 1}, nil, nil)

	require.NotPanics(t, func() {
		dispatcher.Notify(context.Background(), models.Notification{Type: models.NotificationItemExpired, Recipient: "user-a"})
	})
	assert.Equal(t, 0, sink.count())
}

func TestLogSinkDeliver(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Deliver(context.Background(), models.Notification{Type: models.NotificationItemReturned, Recipient: "user-a"}))
}
