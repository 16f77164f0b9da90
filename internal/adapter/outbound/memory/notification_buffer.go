package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

const defaultRecentCap = 1000

// NotificationBuffer is a notify.Sink that keeps the most recent
// notifications in a bounded ring for the getRecentNotifications view.
type NotificationBuffer struct {
	mu     sync.Mutex
	recent []notify.Notification
	cap    int
}

// NewNotificationBuffer creates a buffer holding up to capacity notifications
// (default 1000 when capacity <= 0).
func NewNotificationBuffer(capacity int) *NotificationBuffer {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &NotificationBuffer{
		recent: make([]notify.Notification, 0, capacity),
		cap:    capacity,
	}
}

// Emit stores n, evicting the oldest entry when full.
func (b *NotificationBuffer) Emit(_ context.Context, n notify.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.recent) >= b.cap {
		copy(b.recent, b.recent[1:])
		b.recent[len(b.recent)-1] = n
	} else {
		b.recent = append(b.recent, n)
	}
	return nil
}

// GetRecent returns up to n notifications, newest first.
func (b *NotificationBuffer) GetRecent(n int) []notify.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.recent)
	if n > total {
		n = total
	}
	result := make([]notify.Notification, 0, max(n, 0))
	for i := 0; i < n; i++ {
		result = append(result, b.recent[total-1-i])
	}
	return result
}

var _ notify.Sink = (*NotificationBuffer)(nil)
