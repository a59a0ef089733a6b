package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/app"
)

// SessionRegistry is an in-memory implementation of app.SessionRegistry.
// Sessions are created through the injected factory on first use and removed
// by a background reaper once idle longer than the configured timeout.
type SessionRegistry struct {
	factory     func(roomID string) *app.Session
	idleTimeout time.Duration
	clock       clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*app.Session
}

func NewSessionRegistry(factory func(roomID string) *app.Session, idleTimeout time.Duration, clock clockwork.Clock) *SessionRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionRegistry{
		factory:     factory,
		idleTimeout: idleTimeout,
		clock:       clock,
		sessions:    make(map[string]*app.Session),
	}
}

func (r *SessionRegistry) GetOrCreate(roomID string) *app.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[roomID]; ok {
		return session
	}
	session := r.factory(roomID)
	r.sessions[roomID] = session
	return session
}

func (r *SessionRegistry) Get(roomID string) (*app.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[roomID]
	return session, ok
}

// Len reports how many sessions are currently registered.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartReaper periodically removes sessions idle longer than idleTimeout.
// A timeout of zero disables reaping.
func (r *SessionRegistry) StartReaper(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	go func() {
		ticker := r.clock.NewTicker(r.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if n := r.Reap(r.clock.Now().Add(-r.idleTimeout)); n > 0 {
					log.Info().Int("reaped", n).Msg("removed idle sessions")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Reap removes and closes every session whose last activity predates cutoff,
// returning how many were removed.
func (r *SessionRegistry) Reap(cutoff time.Time) int {
	r.mu.Lock()
	var stale []*app.Session
	for roomID, session := range r.sessions {
		if session.LastActive().Before(cutoff) {
			delete(r.sessions, roomID)
			stale = append(stale, session)
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}
	return len(stale)
}
