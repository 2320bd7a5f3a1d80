package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"carconnect/internal/domain/entity"
)

const DefaultFeedCapacity = 50

// FeedSnapshot is what subscribers receive: the entries newest-first and
// the unread tally.
type FeedSnapshot struct {
	Items  []entity.Notification
	Unread int
}

// NotificationFeed is the capped in-memory notification list. Newest
// entries sit at the front; pushing past capacity silently evicts the
// oldest. Unread accounting is incremented on push and on MarkRead, but
// recomputed from the flags on structural deletions so it cannot drift.
type NotificationFeed struct {
	mu          sync.RWMutex
	capacity    int
	items       []entity.Notification
	unread      int
	subscribers map[int]func(FeedSnapshot)
	nextSub     int
}

func NewNotificationFeed(capacity int) *NotificationFeed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &NotificationFeed{
		capacity:    capacity,
		subscribers: make(map[int]func(FeedSnapshot)),
	}
}

// Push prepends a notification and evicts beyond capacity.
func (f *NotificationFeed) Push(n entity.Notification) {
	f.mu.Lock()
	f.items = append([]entity.Notification{n}, f.items...)
	if len(f.items) > f.capacity {
		f.items = f.items[:f.capacity]
	}
	f.unread = f.countUnreadLocked()
	f.mu.Unlock()

	f.publish()
}

// Notify builds and pushes a locally-originated notification.
func (f *NotificationFeed) Notify(severity entity.NotificationSeverity, category entity.NotificationCategory, title, message string, payload map[string]interface{}) entity.Notification {
	n := entity.Notification{
		ID:        uuid.New().String(),
		Severity:  severity,
		Category:  category,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	f.Push(n)
	return n
}

// MarkRead is idempotent: marking an already-read entry again is a
// no-op and never decrements the unread count below zero.
func (f *NotificationFeed) MarkRead(id string) bool {
	f.mu.Lock()
	changed := false
	for i := range f.items {
		if f.items[i].ID == id {
			if !f.items[i].Read {
				f.items[i].Read = true
				f.unread--
				changed = true
			}
			break
		}
	}
	f.mu.Unlock()

	if changed {
		f.publish()
	}
	return changed
}

func (f *NotificationFeed) MarkAllRead() {
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
	f.mu.Unlock()

	f.publish()
}

// Remove deletes one entry. Unread is recounted from the remaining
// flags, not decremented.
func (f *NotificationFeed) Remove(id string) bool {
	f.mu.Lock()
	removed := false
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		f.unread = f.countUnreadLocked()
	}
	f.mu.Unlock()

	if removed {
		f.publish()
	}
	return removed
}

func (f *NotificationFeed) ClearAll() {
	f.mu.Lock()
	f.items = nil
	f.unread = 0
	f.mu.Unlock()

	f.publish()
}

func (f *NotificationFeed) Items() []entity.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]entity.Notification, len(f.items))
	copy(out, f.items)
	return out
}

func (f *NotificationFeed) Unread() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// Subscribe calls fn immediately with the current snapshot, then again
// after every state change, and returns the unsubscribe function.
func (f *NotificationFeed) Subscribe(fn func(FeedSnapshot)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = fn
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	fn(snapshot)

	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}
}

func (f *NotificationFeed) publish() {
	f.mu.RLock()
	snapshot := f.snapshotLocked()
	subs := make([]func(FeedSnapshot), 0, len(f.subscribers))
	for _, fn := range f.subscribers {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (f *NotificationFeed) snapshotLocked() FeedSnapshot {
	items := make([]entity.Notification, len(f.items))
	copy(items, f.items)
	return FeedSnapshot{Items: items, Unread: f.unread}
}

func (f *NotificationFeed) countUnreadLocked() int {
	count := 0
	for i := range f.items {
		if !f.items[i].Read {
			count++
		}
	}
	return count
}
