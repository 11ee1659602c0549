package studio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-backend/internal/models"
	"studio-backend/pkg/logger"
)

const (
	// SessionInactivityTimeout is how long a session can be inactive before cleanup.
	SessionInactivityTimeout = 24 * time.Hour

	// SessionCleanupInterval is how often to run cleanup.
	SessionCleanupInterval = 1 * time.Hour

	// DefaultMaxSessions is used when NewSessionManager gets a non-positive limit.
	DefaultMaxSessions = 1000
)

type sessionInfo struct {
	session      *Session
	lastActivity time.Time
}

// SessionManager owns one Session per browser session. Idle sessions are
// dropped after SessionInactivityTimeout, and the least recently used one is
// evicted when the limit is reached.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionInfo
	gen         Generator
	notifier    Notifier
	maxSessions int
	logger      *slog.Logger
	now         func() time.Time

	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

func NewSessionManager(gen Generator, notifier Notifier, maxSessions int, log *slog.Logger) *SessionManager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		sessions:      make(map[string]*sessionInfo),
		gen:           gen,
		notifier:      notifier,
		maxSessions:   maxSessions,
		logger:        log,
		now:           time.Now,
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}

	go sm.cleanupLoop(ctx)

	return sm
}

// Create starts a new session with a fresh id.
func (sm *SessionManager) Create() *Session {
	id := uuid.NewString()
	session := NewSession(id, sm.gen, sm.notifier)

	sm.mu.Lock()
	var evicted string
	if len(sm.sessions) >= sm.maxSessions {
		evicted = sm.evictLRU()
	}
	sm.sessions[id] = &sessionInfo{session: session, lastActivity: sm.now()}
	total := len(sm.sessions)
	sm.mu.Unlock()

	if evicted != "" {
		sm.closed(evicted)
	}
	sm.logger.Info("session created", slog.String("session_id", id), slog.Int("total", total))
	return session
}

// Get returns the session and marks it active, or nil if it does not exist.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info, ok := sm.sessions[id]
	if !ok {
		return nil
	}
	info.lastActivity = sm.now()
	return info.session
}

// Exists reports whether id is a live session without touching its activity time.
func (sm *SessionManager) Exists(id string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.sessions[id]
	return ok
}

// Snapshot returns the current state of a session without touching its activity time.
func (sm *SessionManager) Snapshot(id string) (models.SessionSnapshot, bool) {
	sm.mu.RLock()
	info, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return models.SessionSnapshot{}, false
	}
	return info.session.Snapshot(), true
}

// Delete removes the session. Unknown ids are ignored.
func (sm *SessionManager) Delete(id string) {
	sm.mu.Lock()
	_, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		sm.closed(id)
	}
}

// closed tells the notifier a session is gone. Must not be called with sm.mu held.
func (sm *SessionManager) closed(ids ...string) {
	closer, ok := sm.notifier.(SessionCloser)
	if !ok {
		return
	}
	for _, id := range ids {
		closer.SessionClosed(id)
	}
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown stops the cleanup goroutine and waits for it to finish.
func (sm *SessionManager) Shutdown() {
	if sm.cancelCleanup != nil {
		sm.cancelCleanup()
		<-sm.cleanupDone
	}
}

func (sm *SessionManager) cleanupLoop(ctx context.Context) {
	defer close(sm.cleanupDone)

	ticker := time.NewTicker(SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupInactiveSessions()
		}
	}
}

func (sm *SessionManager) cleanupInactiveSessions() {
	sm.mu.Lock()
	now := sm.now()
	var removed []string

	for id, info := range sm.sessions {
		if now.Sub(info.lastActivity) > SessionInactivityTimeout {
			delete(sm.sessions, id)
			removed = append(removed, id)
		}
	}
	total := len(sm.sessions)
	sm.mu.Unlock()

	if len(removed) > 0 {
		sm.closed(removed...)
		sm.logger.Info("cleaned up inactive sessions", slog.Int("removed", len(removed)), slog.Int("total", total))
	}
}

// evictLRU must be called with sm.mu held for writing. It returns the evicted id.
func (sm *SessionManager) evictLRU() string {
	var oldestID string
	var oldestTime time.Time

	for id, info := range sm.sessions {
		if oldestID == "" || info.lastActivity.Before(oldestTime) {
			oldestID = id
			oldestTime = info.lastActivity
		}
	}

	if oldestID != "" {
		delete(sm.sessions, oldestID)
		sm.logger.Warn("evicted least recently used session",
			slog.String("session_id", oldestID),
			slog.Duration("idle", sm.now().Sub(oldestTime)),
		)
	}
	return oldestID
}
