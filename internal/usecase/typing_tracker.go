package usecase

import "sync"

// typingTracker holds the set of peers currently flagged as typing.
// There is no expiry: an entry stays until an explicit stop event, so a
// dropped stop leaves a stale indicator. Echoed events for the local
// user are filtered out.
type typingTracker struct {
	mu     sync.RWMutex
	selfID string
	peers  map[string]struct{}
}

func newTypingTracker() *typingTracker {
	return &typingTracker{peers: make(map[string]struct{})}
}

func (t *typingTracker) setSelf(userID string) {
	t.mu.Lock()
	t.selfID = userID
	delete(t.peers, userID)
	t.mu.Unlock()
}

// set records a typing state change and reports whether the set changed.
func (t *typingTracker) set(peerID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if peerID == "" || peerID == t.selfID {
		return false
	}

	_, present := t.peers[peerID]
	if typing && !present {
		t.peers[peerID] = struct{}{}
		return true
	}
	if !typing && present {
		delete(t.peers, peerID)
		return true
	}
	return false
}

func (t *typingTracker) isTyping(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[peerID]
	return ok
}

func (t *typingTracker) snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

func (t *typingTracker) clear() {
	t.mu.Lock()
	t.peers = make(map[string]struct{})
	t.mu.Unlock()
}
