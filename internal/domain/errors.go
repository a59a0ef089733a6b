package domain

import "errors"

var (
	// ErrAuthenticationFailed is returned when identity verification rejects a credential.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrSessionNotFound is returned for non-join operations on an unknown room key.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when an identity acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNoActiveRound rejects submissions while the room is idle.
	ErrNoActiveRound = errors.New("no active round")
	// ErrDuplicateAnswer rejects a second submission for the same round.
	ErrDuplicateAnswer = errors.New("answer already recorded for this round")
	// ErrRoundResolving rejects submissions that race with resolution.
	ErrRoundResolving = errors.New("round is resolving")
	// ErrEmptyPool indicates the question pool has no questions to draw from.
	ErrEmptyPool = errors.New("question pool is empty")
)
