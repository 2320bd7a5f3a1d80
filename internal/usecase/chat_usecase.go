package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"carconnect/internal/domain/entity"
	"carconnect/internal/domain/repository"
	"carconnect/internal/infrastructure/transport"
	"carconnect/pkg/errors"
	"carconnect/pkg/logger"
)

// ChatTransport is the realtime delivery path consumed by the session.
// Implemented by transport.Client; faked in tests.
type ChatTransport interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	Connected() bool
	UserID() string
	Done() <-chan struct{}
	Subscribe(fn func(transport.Event)) func()
	EmitPrivateMessage(msg *entity.ChatMessage) error
	EmitTyping(recipientID, listingID string, typing bool) error
	EmitMarkRead(messageIDs []string, recipientID string) error
}

// ChatEvent is the closed set of state-change notifications fanned out
// to UI subscribers.
type ChatEvent interface {
	chatEvent()
}

type ConversationsUpdated struct{}

type MessagesUpdated struct {
	ListingID string
	PeerID    string
}

type TypingChanged struct {
	PeerID   string
	IsTyping bool
}

type PresenceChanged struct {
	PeerID string
	Online bool
}

type ConnectionChanged struct {
	Connected bool
}

func (ConversationsUpdated) chatEvent() {}
func (MessagesUpdated) chatEvent()      {}
func (TypingChanged) chatEvent()        {}
func (PresenceChanged) chatEvent()      {}
func (ConnectionChanged) chatEvent()    {}

type SendMessageInput struct {
	RecipientID string `validate:"required"`
	ListingID   string `validate:"required"`
	Content     string `validate:"required,max=2000"`
}

// ChatSession is the in-memory chat state for one authenticated user:
// the conversation list, the open conversation's message history, typing
// and presence sets. Durability always goes through the repository; the
// transport is a best-effort fast path on top.
type ChatSession struct {
	repo           repository.ChatRepository
	transport      ChatTransport
	feed           *NotificationFeed
	validate       *validator.Validate
	reconnectDelay time.Duration

	typing *typingTracker

	mu               sync.RWMutex
	userID           string
	conversations    []entity.Conversation
	messages         []entity.ChatMessage
	current          *entity.Conversation
	currentListingID string
	currentPeerID    string
	online           map[string]struct{}
	subscribers      map[int]func(ChatEvent)
	nextSub          int
}

func NewChatSession(repo repository.ChatRepository, tr ChatTransport, feed *NotificationFeed, reconnectDelay time.Duration) *ChatSession {
	if reconnectDelay <= 0 {
		reconnectDelay = 10 * time.Second
	}

	return &ChatSession{
		repo:           repo,
		transport:      tr,
		feed:           feed,
		validate:       validator.New(),
		reconnectDelay: reconnectDelay,
		typing:         newTypingTracker(),
		online:         make(map[string]struct{}),
		subscribers:    make(map[int]func(ChatEvent)),
	}
}

// Subscribe registers a UI callback and returns its unsubscribe function.
func (s *ChatSession) Subscribe(fn func(ChatEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *ChatSession) notify(evt ChatEvent) {
	s.mu.RLock()
	subs := make([]func(ChatEvent), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// MaintainConnection keeps the transport alive for the lifetime of ctx:
// connect, wait for the connection to drop, wait the fixed reconnect
// delay, connect again. Retries are unbounded. An unauthorized token
// ends the loop, there is no point redialing with it.
func (s *ChatSession) MaintainConnection(ctx context.Context, token string) {
	unsubscribe := s.transport.Subscribe(s.handleEvent)
	defer unsubscribe()

	for {
		err := s.transport.Connect(ctx, token)
		if err != nil {
			if errors.Is(err, "UNAUTHORIZED") {
				logger.Error("Chat connect rejected: %v", err)
				return
			}
			logger.Warn("Chat connect failed: %v (retrying in %s)", err, s.reconnectDelay)
		} else {
			userID := s.transport.UserID()
			s.mu.Lock()
			s.userID = userID
			s.mu.Unlock()
			s.typing.setSelf(userID)
			s.notify(ConnectionChanged{Connected: true})

			select {
			case <-ctx.Done():
				s.transport.Disconnect()
				s.notify(ConnectionChanged{Connected: false})
				return
			case <-s.transport.Done():
			}

			s.typing.clear()
			s.notify(ConnectionChanged{Connected: false})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// LoadConversations fetches the authoritative conversation list. On
// failure the previous in-memory list is preserved and the error is
// returned, so an empty list always means "no conversations".
func (s *ChatSession) LoadConversations(ctx context.Context) ([]entity.Conversation, error) {
	conversations, err := s.repo.ListConversations(ctx)
	if err != nil {
		logger.Error("Failed to load conversations: %v", err)
		return nil, err
	}

	s.mu.Lock()
	s.conversations = conversations
	s.mu.Unlock()

	s.notify(ConversationsUpdated{})
	return s.Conversations(), nil
}

// LoadMessages fetches the full history for one (listing, peer) pair and
// replaces the message slice entirely. The current-conversation pointer
// is resolved against the loaded conversation list; no match leaves it
// nil even though messages were loaded, which callers must tolerate.
func (s *ChatSession) LoadMessages(ctx context.Context, listingID, peerID string) ([]entity.ChatMessage, error) {
	messages, err := s.repo.ListMessages(ctx, listingID, peerID)
	if err != nil {
		logger.Error("Failed to load messages for listing=%s peer=%s: %v", listingID, peerID, err)
		return nil, err
	}

	s.mu.Lock()
	s.messages = messages
	s.currentListingID = listingID
	s.currentPeerID = peerID
	s.current = nil
	for i := range s.conversations {
		if s.conversations[i].Matches(listingID, peerID) {
			c := s.conversations[i]
			s.current = &c
			break
		}
	}
	s.mu.Unlock()

	s.notify(MessagesUpdated{ListingID: listingID, PeerID: peerID})
	return s.Messages(), nil
}

// SendMessage is API-first, transport-second: the message is persisted
// through the repository, and only then emitted for instant delivery. A
// failed emit never fails the send, the message is already durable.
func (s *ChatSession) SendMessage(ctx context.Context, input SendMessageInput) (*entity.ChatMessage, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, errors.BadRequest("invalid message input", err)
	}

	msg, err := s.repo.CreateMessage(ctx, input.RecipientID, input.ListingID, input.Content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if input.ListingID == s.currentListingID && input.RecipientID == s.currentPeerID {
		s.upsertMessageLocked(*msg)
	}
	s.touchConversationLocked(msg)
	s.mu.Unlock()

	s.notify(MessagesUpdated{ListingID: input.ListingID, PeerID: input.RecipientID})

	if err := s.transport.EmitPrivateMessage(msg); err != nil {
		logger.Warn("Realtime delivery unavailable for message %s: %v", msg.ID, err)
		if s.feed != nil {
			s.feed.Notify(entity.SeverityInfo, entity.CategoryChat,
				"Delivery delayed", "Message saved; the recipient will see it on their next refresh.", nil)
		}
	}

	return msg, nil
}

// MarkAsRead persists the read flags first, then updates local state and
// informs the peer best-effort.
func (s *ChatSession) MarkAsRead(ctx context.Context, messageIDs []string, peerID string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	updated, err := s.repo.MarkRead(ctx, messageIDs)
	if err != nil {
		return 0, err
	}

	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	for i := range s.messages {
		if _, ok := ids[s.messages[i].ID]; ok {
			s.messages[i].Read = true
		}
	}
	s.recountUnreadLocked()
	listingID, currentPeer := s.currentListingID, s.currentPeerID
	s.mu.Unlock()

	s.notify(MessagesUpdated{ListingID: listingID, PeerID: currentPeer})

	if err := s.transport.EmitMarkRead(messageIDs, peerID); err != nil {
		logger.Debug("Read receipt emit skipped: %v", err)
	}

	return updated, nil
}

// StartTyping and StopTyping are fire-and-forget: silently dropped when
// the transport is offline, no queuing.
func (s *ChatSession) StartTyping(peerID, listingID string) {
	if err := s.transport.EmitTyping(peerID, listingID, true); err != nil {
		logger.Debug("Typing emit skipped: %v", err)
	}
}

func (s *ChatSession) StopTyping(peerID, listingID string) {
	if err := s.transport.EmitTyping(peerID, listingID, false); err != nil {
		logger.Debug("Stop-typing emit skipped: %v", err)
	}
}

// UserID is the authenticated user's id, known once connected.
func (s *ChatSession) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *ChatSession) Conversations() []entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *ChatSession) Messages() []entity.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// CurrentConversation returns a copy of the open conversation, or nil
// when the open (listing, peer) pair has no conversation entry.
func (s *ChatSession) CurrentConversation() *entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

func (s *ChatSession) IsPeerTyping(peerID string) bool {
	return s.typing.isTyping(peerID)
}

func (s *ChatSession) TypingPeers() []string {
	return s.typing.snapshot()
}

func (s *ChatSession) IsPeerOnline(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[peerID]
	return ok
}

func (s *ChatSession) handleEvent(evt transport.Event) {
	switch e := evt.(type) {
	case transport.NewMessageEvent:
		s.handleNewMessage(e.Message)

	case transport.UserTypingEvent:
		if s.typing.set(e.UserID, e.IsTyping) {
			s.notify(TypingChanged{PeerID: e.UserID, IsTyping: e.IsTyping})
		}

	case transport.MessagesReadEvent:
		s.handleMessagesRead(e)

	case transport.UserOnlineEvent:
		s.mu.Lock()
		if e.Online {
			s.online[e.UserID] = struct{}{}
		} else {
			delete(s.online, e.UserID)
			s.mu.Unlock()
			// A disconnected peer cannot still be typing.
			if s.typing.set(e.UserID, false) {
				s.notify(TypingChanged{PeerID: e.UserID, IsTyping: false})
			}
			s.notify(PresenceChanged{PeerID: e.UserID, Online: false})
			return
		}
		s.mu.Unlock()
		s.notify(PresenceChanged{PeerID: e.UserID, Online: e.Online})
	}
}

func (s *ChatSession) handleNewMessage(msg entity.ChatMessage) {
	s.mu.Lock()
	peer := msg.PeerOf(s.userID)
	inView := msg.Listing.ID == s.currentListingID && peer.ID == s.currentPeerID
	if inView {
		s.upsertMessageLocked(msg)
	}
	s.touchConversationLocked(&msg)
	forViewer := msg.Recipient.ID == s.userID
	s.mu.Unlock()

	if inView {
		s.notify(MessagesUpdated{ListingID: msg.Listing.ID, PeerID: peer.ID})
	}
	s.notify(ConversationsUpdated{})

	if forViewer && !inView && s.feed != nil {
		s.feed.Notify(entity.SeverityInfo, entity.CategoryChat,
			"New message from "+msg.Sender.Name, msg.Content, map[string]interface{}{
				"listing_id": msg.Listing.ID,
				"sender_id":  msg.Sender.ID,
			})
	}
}

func (s *ChatSession) handleMessagesRead(e transport.MessagesReadEvent) {
	ids := make(map[string]struct{}, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	changed := false
	for i := range s.messages {
		if _, ok := ids[s.messages[i].ID]; ok && !s.messages[i].Read {
			s.messages[i].Read = true
			changed = true
		}
	}
	listingID, peerID := s.currentListingID, s.currentPeerID
	s.mu.Unlock()

	if changed {
		s.notify(MessagesUpdated{ListingID: listingID, PeerID: peerID})
	}
}

// upsertMessageLocked inserts by id, replacing any existing copy. The
// API success path and the transport echo can both deliver the same
// message; the id check keeps the insert idempotent.
func (s *ChatSession) upsertMessageLocked(msg entity.ChatMessage) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
}

// touchConversationLocked updates the matching conversation's
// denormalized last message and unread count, creating a local entry
// when a message arrives for a pair the list does not know yet.
func (s *ChatSession) touchConversationLocked(msg *entity.ChatMessage) {
	peer := msg.PeerOf(s.userID)
	unreadForViewer := msg.Recipient.ID == s.userID && !msg.Read

	for i := range s.conversations {
		if s.conversations[i].Matches(msg.Listing.ID, peer.ID) {
			m := *msg
			s.conversations[i].LastMessage = &m
			s.conversations[i].UpdatedAt = msg.CreatedAt
			if unreadForViewer {
				s.conversations[i].UnreadCount++
			}
			return
		}
	}

	m := *msg
	conversation := entity.Conversation{
		ID:          msg.Listing.ID + ":" + peer.ID,
		OwnerID:     s.userID,
		Peer:        peer,
		Listing:     msg.Listing,
		LastMessage: &m,
		UpdatedAt:   msg.CreatedAt,
	}
	if unreadForViewer {
		conversation.UnreadCount = 1
	}
	s.conversations = append(s.conversations, conversation)
}

// recountUnreadLocked rederives the open conversation's unread count
// from the message flags instead of decrementing, so it can never drift
// below the truth.
func (s *ChatSession) recountUnreadLocked() {
	if s.current == nil {
		return
	}
	count := 0
	for i := range s.messages {
		if s.messages[i].Recipient.ID == s.userID && !s.messages[i].Read {
			count++
		}
	}
	s.current.UnreadCount = count
	for i := range s.conversations {
		if s.conversations[i].Matches(s.currentListingID, s.currentPeerID) {
			s.conversations[i].UnreadCount = count
			return
		}
	}
}
