package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"carconnect/internal/domain/entity"
)

func pushN(feed *NotificationFeed, n int) {
	for i := 0; i < n; i++ {
		feed.Push(entity.Notification{
			ID:       fmt.Sprintf("n-%d", i),
			Severity: entity.SeverityInfo,
			Category: entity.CategorySystem,
			Title:    fmt.Sprintf("title %d", i),
		})
	}
}

func TestFeedCapReverseChronological(t *testing.T) {
	feed := NewNotificationFeed(50)

	pushN(feed, 75)

	items := feed.Items()
	assert.Len(t, items, 50)
	// Newest first: the last push sits at the front, the oldest 25 are gone.
	assert.Equal(t, "n-74", items[0].ID)
	assert.Equal(t, "n-25", items[49].ID)
	assert.Equal(t, 50, feed.Unread())
}

func TestFeedMarkReadIdempotent(t *testing.T) {
	feed := NewNotificationFeed(50)
	pushN(feed, 3)

	assert.Equal(t, 3, feed.Unread())

	assert.True(t, feed.MarkRead("n-1"))
	assert.Equal(t, 2, feed.Unread())

	assert.False(t, feed.MarkRead("n-1"))
	assert.Equal(t, 2, feed.Unread())

	assert.False(t, feed.MarkRead("missing"))
	assert.Equal(t, 2, feed.Unread())
}

func TestFeedMarkAllRead(t *testing.T) {
	feed := NewNotificationFeed(50)
	pushN(feed, 5)
	feed.MarkRead("n-2")

	feed.MarkAllRead()

	assert.Equal(t, 0, feed.Unread())
	for _, item := range feed.Items() {
		assert.True(t, item.Read)
	}
}

func TestFeedRemoveRecountsUnread(t *testing.T) {
	feed := NewNotificationFeed(50)
	pushN(feed, 4)
	feed.MarkRead("n-0")

	assert.True(t, feed.Remove("n-1"))

	unreadLeft := 0
	for _, item := range feed.Items() {
		if !item.Read {
			unreadLeft++
		}
	}
	assert.Equal(t, unreadLeft, feed.Unread())
	assert.Len(t, feed.Items(), 3)
}

func TestFeedClearAll(t *testing.T) {
	feed := NewNotificationFeed(50)
	pushN(feed, 10)

	feed.ClearAll()

	assert.Empty(t, feed.Items())
	assert.Equal(t, 0, feed.Unread())
}

func TestFeedSubscribeSnapshotThenDeltas(t *testing.T) {
	feed := NewNotificationFeed(50)
	pushN(feed, 2)

	var snapshots []FeedSnapshot
	unsubscribe := feed.Subscribe(func(s FeedSnapshot) {
		snapshots = append(snapshots, s)
	})

	// Immediate snapshot on subscribe.
	assert.Len(t, snapshots, 1)
	assert.Equal(t, 2, snapshots[0].Unread)

	feed.Notify(entity.SeverityWarning, entity.CategoryChat, "t", "m", nil)
	assert.Len(t, snapshots, 2)
	assert.Equal(t, 3, snapshots[1].Unread)

	unsubscribe()
	feed.MarkAllRead()
	assert.Len(t, snapshots, 2)
}

func TestFeedNotifyFillsDefaults(t *testing.T) {
	feed := NewNotificationFeed(50)

	n := feed.Notify(entity.SeverityError, entity.CategoryAdmin, "title", "body", map[string]interface{}{"k": "v"})

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, 1, feed.Unread())
}
