package notify

import (
	"context"
	"sync"
)

// RecordingNotifier captures every notification instead of delivering it;
// used by tests across packages.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

// Send implements Notifier.
func (r *RecordingNotifier) Send(ctx context.Context, n Notification) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if r.Err != nil {
		return nil, r.Err
	}
	return []string{"recording"}, nil
}

// Sent returns a copy of the captured notifications.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Reset clears the captured notifications.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
