package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

// ErrNotificationDropped is returned by Emit when the queue stayed full for
// longer than the send timeout, or the service has stopped.
var ErrNotificationDropped = errors.New("notification dropped")

// NotificationService delivers notifications to sinks from a background
// worker so the engine never waits on a slow transport. Notifications are
// delivered in Emit order; each one goes to every sink before the next.
type NotificationService struct {
	sinks   []notify.Sink
	queue   chan notify.Notification
	wg      sync.WaitGroup
	logger  *slog.Logger
	mu      sync.RWMutex
	stopped bool

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
	sinkErrors  atomic.Int64
	onDrop      func(notify.Kind)

	warningThreshold int          // percentage (0-100)
	lastWarning      atomic.Int64 // unix nanos of the last depth warning
}

// NotificationOption configures NotificationService.
type NotificationOption func(*NotificationService)

// WithChannelSize sets the queue capacity.
func WithChannelSize(size int) NotificationOption {
	return func(s *NotificationService) {
		if size > 0 {
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) NotificationOption {
	return func(s *NotificationService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the queue depth warning percentage (0-100).
func WithWarningThreshold(percent int) NotificationOption {
	return func(s *NotificationService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// WithDropObserver registers a callback invoked for every dropped notification.
func WithDropObserver(fn func(notify.Kind)) NotificationOption {
	return func(s *NotificationService) {
		s.onDrop = fn
	}
}

// NewNotificationService creates a service fanning out to sinks.
func NewNotificationService(logger *slog.Logger, sinks []notify.Sink, opts ...NotificationOption) *NotificationService {
	s := &NotificationService{
		sinks:            sinks,
		logger:           logger,
		channelSize:      1000,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan notify.Notification, s.channelSize)
	return s
}

// Start launches the delivery worker. It runs until Stop.
func (s *NotificationService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Emit queues n for delivery. It blocks for at most the send timeout.
func (s *NotificationService) Emit(_ context.Context, n notify.Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		s.recordDrop(n)
		return ErrNotificationDropped
	}

	if s.warningThreshold > 0 {
		depth := len(s.queue)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.queue <- n:
		return nil
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(n)
		return ErrNotificationDropped
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.queue <- n:
		return nil
	case <-timer.C:
		s.recordDrop(n)
		return ErrNotificationDropped
	}
}

func (s *NotificationService) recordDrop(n notify.Notification) {
	drops := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop(n.Kind)
	}
	s.logger.Warn("notification dropped",
		"kind", n.Kind,
		"id", n.ID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *NotificationService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("notification queue approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedNotifications returns the total number of dropped notifications.
func (s *NotificationService) DroppedNotifications() int64 {
	return s.dropCount.Load()
}

// SinkErrors returns the number of failed sink deliveries.
func (s *NotificationService) SinkErrors() int64 {
	return s.sinkErrors.Load()
}

// ChannelDepth returns the number of queued notifications.
func (s *NotificationService) ChannelDepth() int {
	return len(s.queue)
}

// ChannelCapacity returns the queue capacity.
func (s *NotificationService) ChannelCapacity() int {
	return s.channelSize
}

// Stop rejects further Emits, delivers what is queued and waits for the
// worker. Safe to call more than once.
func (s *NotificationService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *NotificationService) worker(ctx context.Context) {
	defer s.wg.Done()
	for n := range s.queue {
		s.deliver(ctx, n)
	}
}

// deliver sends n to every sink. A cancelled ctx does not abort delivery of
// already-queued notifications; sinks get a bounded context instead.
func (s *NotificationService) deliver(ctx context.Context, n notify.Notification) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Emit(dctx, n); err != nil {
			s.sinkErrors.Add(1)
			s.logger.Error("notification delivery failed",
				"kind", n.Kind,
				"id", n.ID,
				"error", err,
			)
		}
	}
}

var _ notify.Sink = (*NotificationService)(nil)
