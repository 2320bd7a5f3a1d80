package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carconnect/internal/domain/entity"
	"carconnect/internal/infrastructure/transport"
	"carconnect/pkg/errors"
)

type fakeRepo struct {
	conversations   []entity.Conversation
	conversationErr error
	messages        []entity.ChatMessage
	messagesErr     error
	created         *entity.ChatMessage
	createErr       error
	markedRead      []string
	markReadErr     error
}

func (f *fakeRepo) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	return f.conversations, f.conversationErr
}

func (f *fakeRepo) ListMessages(ctx context.Context, listingID, peerID string) ([]entity.ChatMessage, error) {
	return f.messages, f.messagesErr
}

func (f *fakeRepo) CreateMessage(ctx context.Context, recipientID, listingID, content string) (*entity.ChatMessage, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeRepo) MarkRead(ctx context.Context, messageIDs []string) (int, error) {
	if f.markReadErr != nil {
		return 0, f.markReadErr
	}
	f.markedRead = messageIDs
	return len(messageIDs), nil
}

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	userID     string
	handler    func(transport.Event)
	emitErr    error
	emitted    []string
	done       chan struct{}
	failures   int
	connectErr error
	connects   int
}

func newFakeTransport(userID string) *fakeTransport {
	return &fakeTransport{userID: userID, done: make(chan struct{})}
}

func (f *fakeTransport) Connect(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.failures > 0 {
		f.failures--
		return errors.Unavailable("dial failed", nil)
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) UserID() string { return f.userID }

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Subscribe(fn func(transport.Event)) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) deliver(evt transport.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func (f *fakeTransport) record(event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, event)
	return nil
}

func (f *fakeTransport) EmitPrivateMessage(msg *entity.ChatMessage) error {
	return f.record("privateMessage")
}

func (f *fakeTransport) EmitTyping(recipientID, listingID string, typing bool) error {
	if typing {
		return f.record("typing")
	}
	return f.record("stopTyping")
}

func (f *fakeTransport) EmitMarkRead(messageIDs []string, recipientID string) error {
	return f.record("markAsRead")
}

func message(id, senderID, recipientID, listingID, content string, read bool) entity.ChatMessage {
	return entity.ChatMessage{
		ID:        id,
		Content:   content,
		Sender:    entity.Participant{ID: senderID, Name: senderID},
		Recipient: entity.Participant{ID: recipientID, Name: recipientID},
		Listing:   entity.ListingRef{ID: listingID, Make: "Toyota", Model: "Corolla", Year: 2020},
		Read:      read,
		CreatedAt: time.Now(),
	}
}

func startSession(t *testing.T, repo *fakeRepo, tr *fakeTransport) (*ChatSession, context.CancelFunc) {
	t.Helper()
	session := NewChatSession(repo, tr, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go session.MaintainConnection(ctx, "token")

	assert.Eventually(t, func() bool { return session.UserID() == tr.userID }, time.Second, 5*time.Millisecond)
	return session, cancel
}

func TestLoadMessagesReplacesState(t *testing.T) {
	repo := &fakeRepo{
		conversations: []entity.Conversation{
			{ID: "c1", Peer: entity.Participant{ID: "peer-1"}, Listing: entity.ListingRef{ID: "car-1"}},
		},
		messages: []entity.ChatMessage{
			message("m1", "peer-1", "me", "car-1", "hello", false),
			message("m2", "me", "peer-1", "car-1", "hi", true),
		},
	}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadConversations(context.Background())
	require.NoError(t, err)

	messages, err := session.LoadMessages(context.Background(), "car-1", "peer-1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	require.NotNil(t, session.CurrentConversation())
	assert.Equal(t, "c1", session.CurrentConversation().ID)

	// A second load for a different pair fully replaces the history.
	repo.messages = []entity.ChatMessage{message("m3", "peer-2", "me", "car-2", "other", false)}
	messages, err = session.LoadMessages(context.Background(), "car-2", "peer-2")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, "m3", messages[0].ID)
	assert.Nil(t, session.CurrentConversation())
}

func TestLoadConversationsPreservesOnFailure(t *testing.T) {
	repo := &fakeRepo{
		conversations: []entity.Conversation{{ID: "c1", Peer: entity.Participant{ID: "p"}, Listing: entity.ListingRef{ID: "l"}}},
	}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadConversations(context.Background())
	require.NoError(t, err)

	repo.conversationErr = errors.Unavailable("down", nil)
	_, err = session.LoadConversations(context.Background())
	assert.Error(t, err)
	assert.Len(t, session.Conversations(), 1)
}

func TestSendMessageAPIFailureLeavesStateUntouched(t *testing.T) {
	repo := &fakeRepo{createErr: errors.Unavailable("network down", nil)}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.SendMessage(context.Background(), SendMessageInput{
		RecipientID: "peer-1",
		ListingID:   "car-1",
		Content:     "hello",
	})

	assert.Error(t, err)
	assert.Empty(t, session.Messages())
	assert.Empty(t, tr.emitted)
}

func TestSendMessageEmitFailureIsNotAnError(t *testing.T) {
	repo := &fakeRepo{
		messages: []entity.ChatMessage{},
		created:  func() *entity.ChatMessage { m := message("m1", "me", "peer-1", "car-1", "hello", false); return &m }(),
	}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadMessages(context.Background(), "car-1", "peer-1")
	require.NoError(t, err)

	tr.emitErr = errors.Unavailable("socket gone", nil)
	msg, err := session.SendMessage(context.Background(), SendMessageInput{
		RecipientID: "peer-1",
		ListingID:   "car-1",
		Content:     "hello",
	})

	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Len(t, session.Messages(), 1)
}

func TestSendMessageDedupesTransportEcho(t *testing.T) {
	sent := message("m1", "me", "peer-1", "car-1", "hello", false)
	repo := &fakeRepo{messages: []entity.ChatMessage{}, created: &sent}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadMessages(context.Background(), "car-1", "peer-1")
	require.NoError(t, err)

	_, err = session.SendMessage(context.Background(), SendMessageInput{
		RecipientID: "peer-1",
		ListingID:   "car-1",
		Content:     "hello",
	})
	require.NoError(t, err)

	// The gateway echoes our own message back; the id upsert keeps one copy.
	tr.deliver(transport.NewMessageEvent{Message: sent})

	assert.Len(t, session.Messages(), 1)
}

func TestSendMessageValidatesInput(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.SendMessage(context.Background(), SendMessageInput{RecipientID: "peer-1"})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestTypingStartStop(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	tr.deliver(transport.UserTypingEvent{UserID: "peer-1", ListingID: "car-1", IsTyping: true})
	assert.True(t, session.IsPeerTyping("peer-1"))

	tr.deliver(transport.UserTypingEvent{UserID: "peer-1", ListingID: "car-1", IsTyping: false})
	assert.False(t, session.IsPeerTyping("peer-1"))
	assert.Empty(t, session.TypingPeers())
}

func TestTypingSelfFiltered(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	tr.deliver(transport.UserTypingEvent{UserID: "me", ListingID: "car-1", IsTyping: true})
	assert.False(t, session.IsPeerTyping("me"))
}

func TestPeerDisconnectClearsTyping(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	tr.deliver(transport.UserOnlineEvent{UserID: "peer-1", Online: true})
	tr.deliver(transport.UserTypingEvent{UserID: "peer-1", ListingID: "car-1", IsTyping: true})
	assert.True(t, session.IsPeerOnline("peer-1"))

	tr.deliver(transport.UserOnlineEvent{UserID: "peer-1", Online: false})
	assert.False(t, session.IsPeerOnline("peer-1"))
	assert.False(t, session.IsPeerTyping("peer-1"))
}

func TestMarkAsReadUpdatesFlagsAndUnread(t *testing.T) {
	repo := &fakeRepo{
		conversations: []entity.Conversation{
			{ID: "c1", Peer: entity.Participant{ID: "peer-1"}, Listing: entity.ListingRef{ID: "car-1"}, UnreadCount: 2},
		},
		messages: []entity.ChatMessage{
			message("m1", "peer-1", "me", "car-1", "a", false),
			message("m2", "peer-1", "me", "car-1", "b", false),
		},
	}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadConversations(context.Background())
	require.NoError(t, err)
	_, err = session.LoadMessages(context.Background(), "car-1", "peer-1")
	require.NoError(t, err)

	updated, err := session.MarkAsRead(context.Background(), []string{"m1", "m2"}, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	for _, m := range session.Messages() {
		assert.True(t, m.Read)
	}
	require.NotNil(t, session.CurrentConversation())
	assert.Equal(t, 0, session.CurrentConversation().UnreadCount)
	assert.Contains(t, tr.emitted, "markAsRead")
}

func TestMarkAsReadEmptyIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	updated, err := session.MarkAsRead(context.Background(), nil, "peer-1")
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Empty(t, tr.emitted)
}

func TestInboundMessageBumpsConversation(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	incoming := message("m9", "peer-1", "me", "car-1", "interested in the car", false)
	tr.deliver(transport.NewMessageEvent{Message: incoming})

	conversations := session.Conversations()
	require.Len(t, conversations, 1)
	assert.Equal(t, 1, conversations[0].UnreadCount)
	assert.Equal(t, "m9", conversations[0].LastMessage.ID)
	assert.Equal(t, "peer-1", conversations[0].Peer.ID)
}

func TestInboundMessageOutsideViewRaisesNotification(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	feed := NewNotificationFeed(50)
	session := NewChatSession(repo, tr, feed, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.MaintainConnection(ctx, "token")
	assert.Eventually(t, func() bool { return session.UserID() == "me" }, time.Second, 5*time.Millisecond)

	incoming := message("m9", "peer-1", "me", "car-1", "hello", false)
	tr.deliver(transport.NewMessageEvent{Message: incoming})

	assert.Equal(t, 1, feed.Unread())
	items := feed.Items()
	require.Len(t, items, 1)
	assert.Equal(t, entity.CategoryChat, items[0].Category)
}

func TestInboundReadReceiptFlipsFlags(t *testing.T) {
	repo := &fakeRepo{
		messages: []entity.ChatMessage{
			message("m1", "me", "peer-1", "car-1", "sent by me", false),
		},
	}
	tr := newFakeTransport("me")
	session, cancel := startSession(t, repo, tr)
	defer cancel()

	_, err := session.LoadMessages(context.Background(), "car-1", "peer-1")
	require.NoError(t, err)

	tr.deliver(transport.MessagesReadEvent{MessageIDs: []string{"m1"}, ReaderID: "peer-1", ListingID: "car-1"})

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Read)
}

func TestReconnectRetriesAtFixedDelay(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	tr.failures = 2
	session := NewChatSession(repo, tr, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go session.MaintainConnection(ctx, "token")

	assert.Eventually(t, tr.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, tr.connectCount())
}

func TestMaintainConnectionStopsOnUnauthorized(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	tr.connectErr = errors.Unauthorized("token rejected", nil)
	session := NewChatSession(repo, tr, nil, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		session.MaintainConnection(context.Background(), "token")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the connection loop to stop on an auth failure")
	}
	assert.Equal(t, 1, tr.connectCount())
	assert.False(t, tr.Connected())
}

func TestMaintainConnectionStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	tr := newFakeTransport("me")
	session := NewChatSession(repo, tr, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		session.MaintainConnection(ctx, "token")
		close(done)
	}()

	assert.Eventually(t, tr.Connected, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the connection loop to stop once the context is cancelled")
	}
	assert.False(t, tr.Connected())
}
