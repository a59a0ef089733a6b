package app

import (
	"context"

	"trivia-room-service/internal/domain"
)

// SessionRegistry abstracts how room sessions are stored and created.
type SessionRegistry interface {
	// GetOrCreate is idempotent: the first call for a key constructs the
	// session, subsequent calls return the same instance.
	GetOrCreate(roomID string) *Session
	Get(roomID string) (*Session, bool)
}

// RoomService contains the room-facing use cases. Joins auto-create the
// session; every other operation rejects unknown room keys.
type RoomService struct {
	rooms  SessionRegistry
	ledger DayLedger
}

func NewRoomService(rooms SessionRegistry, ledger DayLedger) *RoomService {
	return &RoomService{rooms: rooms, ledger: ledger}
}

// Join registers a participant with a room, creating the session on first use.
func (s *RoomService) Join(ctx context.Context, roomID, identity, displayName string) (domain.RoomState, error) {
	session := s.rooms.GetOrCreate(roomID)
	return session.Join(ctx, identity, displayName)
}

// StartRound asks the session to begin a round. Non-host requests and
// requests during an active round are silent no-ops.
func (s *RoomService) StartRound(ctx context.Context, roomID, identity string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	_, err := session.StartRound(ctx, identity)
	return err
}

// SubmitChoice records a multiple-choice answer.
func (s *RoomService) SubmitChoice(ctx context.Context, roomID, identity string, optionIndex int) (domain.AnswerRecord, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.AnswerRecord{}, domain.ErrSessionNotFound
	}
	return session.SubmitChoice(ctx, identity, optionIndex)
}

// SubmitText records an open-text answer.
func (s *RoomService) SubmitText(ctx context.Context, roomID, identity, text string) (domain.AnswerRecord, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.AnswerRecord{}, domain.ErrSessionNotFound
	}
	return session.SubmitText(ctx, identity, text)
}

// Disconnect removes a participant from a room. Unknown rooms are ignored;
// disconnects may arrive after a session was reaped.
func (s *RoomService) Disconnect(ctx context.Context, roomID, identity string) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	session.Disconnect(ctx, identity)
}

// Subscribe returns a channel receiving a room's broadcasts.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// DayLeaderboard returns the top-n day-scoped scores across all rooms.
func (s *RoomService) DayLeaderboard(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	return s.ledger.Top(ctx, n)
}

// DayScore returns one identity's day-scoped score.
func (s *RoomService) DayScore(ctx context.Context, identity string) (int, error) {
	return s.ledger.Get(ctx, identity)
}
