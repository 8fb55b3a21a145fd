// ABOUTME: Bidirectional SSRC-to-user table for a voice session.
// ABOUTME: Populated from speaking and client connect/disconnect events.

package voice

import "sync"

type userTable struct {
	mu     sync.RWMutex
	byUser map[string]uint32
	bySSRC map[uint32]string
}

func newUserTable() *userTable {
	return &userTable{
		byUser: make(map[string]uint32),
		bySSRC: make(map[uint32]string),
	}
}

func (t *userTable) set(userID string, ssrc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byUser[userID]; ok {
		delete(t.bySSRC, old)
	}
	t.byUser[userID] = ssrc
	t.bySSRC[ssrc] = userID
}

func (t *userTable) removeUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ssrc, ok := t.byUser[userID]; ok {
		delete(t.bySSRC, ssrc)
		delete(t.byUser, userID)
	}
}

func (t *userTable) user(ssrc uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySSRC[ssrc]
	return id, ok
}

func (t *userTable) ssrc(userID string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byUser[userID]
	return s, ok
}
