package llm

import (
	"sync"
	"time"
)

// sessionEntry хранит диалог и отметку активности для TTL.
type sessionEntry struct {
	conv        *Conversation
	createdAt   time.Time
	lastTouched time.Time
}

// SessionStore — потокобезопасное in-memory хранилище диалогов по
// идентификатору сессии с поддержкой TTL. Диалог без активности дольше
// TTL удаляется лениво при обращении и фоновой зачисткой ClearExpired.
// TTL == 0 отключает истечение.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	newConv  func() *Conversation
}

// NewSessionStore создаёт хранилище. factory выдаёт новый диалог
// с уже подключёнными диспетчером и реестром.
func NewSessionStore(ttl time.Duration, factory func() *Conversation) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
		newConv:  factory,
	}
}

// Get возвращает диалог сессии, если он существует и не истёк.
func (s *SessionStore) Get(sessionID string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && time.Since(entry.lastTouched) > s.ttl {
		delete(s.sessions, sessionID)
		return nil, false
	}
	entry.lastTouched = time.Now()
	return entry.conv, true
}

// GetOrCreate возвращает диалог сессии, создавая его при необходимости.
func (s *SessionStore) GetOrCreate(sessionID string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.sessions[sessionID]
	if ok && (s.ttl == 0 || now.Sub(entry.lastTouched) <= s.ttl) {
		entry.lastTouched = now
		return entry.conv
	}

	entry = &sessionEntry{
		conv:        s.newConv(),
		createdAt:   now,
		lastTouched: now,
	}
	s.sessions[sessionID] = entry
	return entry.conv
}

// Delete удаляет сессию вместе с диалогом.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len возвращает число живых сессий (включая ещё не зачищенные истёкшие).
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ClearExpired удаляет сессии, не трогавшиеся дольше TTL относительно now.
// Возвращает количество удалённых.
func (s *SessionStore) ClearExpired(now time.Time) int {
	if s.ttl == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for id, entry := range s.sessions {
		if now.Sub(entry.lastTouched) > s.ttl {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted
}
