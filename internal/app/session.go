package app

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/domain"
)

// DayLedger tracks cumulative scores per identity for the current UTC day.
type DayLedger interface {
	Get(ctx context.Context, identity string) (int, error)
	Add(ctx context.Context, identity, displayName string, points int) (int, error)
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
}

// QuestionRepository provides the trivia pool (from cache/backing store).
type QuestionRepository interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}

// SessionDeps are the collaborators a Session needs. Everything is passed in
// explicitly so tests can substitute fresh instances and fake clocks.
type SessionDeps struct {
	Settings  Settings
	Questions QuestionRepository
	Ledger    DayLedger
	Clock     clockwork.Clock
}

// Session is the authoritative state machine for one room: membership, the
// current round, its deadline timer, and score resolution. All mutation
// happens under a single mutex; a round resolves exactly once, either when
// every connected participant has answered or when the deadline fires.
type Session struct {
	id    string
	deps  SessionDeps
	rnd   *rand.Rand

	mu           sync.Mutex
	participants map[string]*domain.Participant
	host         string
	used         map[string]struct{}
	round        *round
	subscribers  map[chan domain.Event]struct{}
	lastActive   time.Time
	closed       bool
}

// round is the per-round state. The struct pointer doubles as the identity
// token both resolution paths compare against, so a timer firing for a
// previous round can never resolve the current one.
type round struct {
	id        string
	question  domain.Question
	startedAt time.Time
	deadline  time.Time
	timer     clockwork.Timer
	cancel    chan struct{}
	cancelled bool
	resolving bool
	answers   map[string]*domain.AnswerRecord
}

// NewSession constructs an idle session for a room key.
func NewSession(id string, deps SessionDeps) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Session{
		id:           id,
		deps:         deps,
		rnd:          rand.New(rand.NewSource(deps.Clock.Now().UnixNano())),
		participants: make(map[string]*domain.Participant),
		used:         make(map[string]struct{}),
		subscribers:  make(map[chan domain.Event]struct{}),
		lastActive:   deps.Clock.Now(),
	}
}

// ID returns the room key this session serves.
func (s *Session) ID() string {
	return s.id
}

// Join registers (or refreshes) a participant and broadcasts the new room
// state. The first joiner of an empty room becomes host. The day score is
// read from the ledger before any state is touched so a ledger failure
// leaves the session unchanged.
func (s *Session) Join(ctx context.Context, identity, displayName string) (domain.RoomState, error) {
	day, err := s.deps.Ledger.Get(ctx, identity)
	if err != nil {
		return domain.RoomState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.participants[identity]; ok {
		p.DisplayName = displayName
		p.DayScore = day
	} else {
		s.participants[identity] = &domain.Participant{
			Identity:    identity,
			DisplayName: displayName,
			DayScore:    day,
			JoinedAt:    s.deps.Clock.Now(),
		}
	}
	if s.host == "" {
		s.host = identity
	}
	s.touchLocked()

	state := s.roomStateLocked()
	s.broadcastLocked(domain.Event{Type: domain.EventRoomState, Payload: state})
	return state, nil
}

// StartRound moves Idle -> RoundActive. Requests from anyone but the current
// host, or while a round is already active, are silent no-ops so duplicate
// client triggers never surface as errors. Returns whether a round started.
func (s *Session) StartRound(ctx context.Context, identity string) (bool, error) {
	// Pool fetch may hit a backing store; keep it outside the session lock.
	pool, err := s.deps.Questions.Questions(ctx)
	if err != nil {
		return false, err
	}
	if len(pool) == 0 {
		return false, domain.ErrEmptyPool
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.host != identity || s.round != nil {
		return false, nil
	}

	question := s.drawQuestionLocked(pool)
	now := s.deps.Clock.Now()
	r := &round{
		id:        uuid.NewString(),
		question:  question,
		startedAt: now,
		deadline:  now.Add(s.deps.Settings.TimeBudget),
		timer:     s.deps.Clock.NewTimer(s.deps.Settings.TimeBudget),
		cancel:    make(chan struct{}),
		answers:   make(map[string]*domain.AnswerRecord),
	}
	s.round = r
	s.touchLocked()
	go s.watchDeadline(r)

	s.broadcastLocked(domain.Event{Type: domain.EventRoundStarted, Payload: domain.RoundStarted{
		RoundID:    r.id,
		Question:   question.View(),
		StartTime:  r.startedAt,
		TimeBudget: s.deps.Settings.TimeBudget.Seconds(),
	}})
	return true, nil
}

// drawQuestionLocked picks uniformly from questions not yet used this
// session; once the pool is exhausted the used set rotates and the full
// pool is eligible again.
func (s *Session) drawQuestionLocked(pool []domain.Question) domain.Question {
	available := make([]domain.Question, 0, len(pool))
	for _, q := range pool {
		if _, ok := s.used[q.ID]; !ok {
			available = append(available, q)
		}
	}
	if len(available) == 0 {
		s.used = make(map[string]struct{})
		available = pool
	}
	question := available[s.rnd.Intn(len(available))]
	s.used[question.ID] = struct{}{}
	return question
}

// SubmitChoice records a multiple-choice answer for the active round.
func (s *Session) SubmitChoice(ctx context.Context, identity string, optionIndex int) (domain.AnswerRecord, error) {
	return s.submit(ctx, identity, func(r *round) (domain.AnswerRecord, domain.PlayerAnswered) {
		idx := optionIndex
		return domain.AnswerRecord{Identity: identity, OptionIndex: optionIndex},
			domain.PlayerAnswered{Identity: identity, OptionIndex: &idx}
	})
}

// SubmitText records an open-text answer for the active round. Correctness
// is announced immediately; points still wait for resolution.
func (s *Session) SubmitText(ctx context.Context, identity string, text string) (domain.AnswerRecord, error) {
	return s.submit(ctx, identity, func(r *round) (domain.AnswerRecord, domain.PlayerAnswered) {
		correct := textMatches(r.question.Expected, text)
		return domain.AnswerRecord{Identity: identity, OptionIndex: -1, Text: text},
			domain.PlayerAnswered{Identity: identity, Correct: &correct}
	})
}

func (s *Session) submit(ctx context.Context, identity string, build func(*round) (domain.AnswerRecord, domain.PlayerAnswered)) (domain.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[identity]; !ok {
		return domain.AnswerRecord{}, domain.ErrParticipantNotFound
	}
	r := s.round
	if r == nil {
		return domain.AnswerRecord{}, domain.ErrNoActiveRound
	}
	if r.resolving {
		return domain.AnswerRecord{}, domain.ErrRoundResolving
	}
	if _, ok := r.answers[identity]; ok {
		return domain.AnswerRecord{}, domain.ErrDuplicateAnswer
	}

	record, announce := build(r)
	record.TimeRemaining = s.remainingLocked(r)
	r.answers[identity] = &record
	s.touchLocked()

	s.broadcastLocked(domain.Event{Type: domain.EventPlayerAnswered, Payload: announce})

	if s.everyoneAnsweredLocked() {
		s.cancelTimerLocked(r)
		s.resolveLocked(ctx, r)
	}
	return record, nil
}

// remainingLocked snapshots deadline-now, clamped to [0, budget]. The
// snapshot is taken at acceptance; nothing client-reported feeds scoring.
func (s *Session) remainingLocked(r *round) time.Duration {
	remaining := r.deadline.Sub(s.deps.Clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	if remaining > s.deps.Settings.TimeBudget {
		remaining = s.deps.Settings.TimeBudget
	}
	return remaining
}

// everyoneAnsweredLocked recomputes against the current connected set, not a
// count cached at round start, so disconnects mid-round are handled.
func (s *Session) everyoneAnsweredLocked() bool {
	r := s.round
	if r == nil || len(s.participants) == 0 {
		return false
	}
	for identity := range s.participants {
		if _, ok := r.answers[identity]; !ok {
			return false
		}
	}
	return true
}

// Disconnect removes a participant, reassigns the host if needed, and
// re-evaluates early resolution against the remaining connected set. The
// identity's day score persists in the ledger regardless.
func (s *Session) Disconnect(ctx context.Context, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[identity]; !ok {
		return
	}
	delete(s.participants, identity)
	if s.host == identity {
		s.host = ""
		for remaining := range s.participants {
			s.host = remaining
			break
		}
	}
	s.touchLocked()
	s.broadcastLocked(domain.Event{Type: domain.EventRoomState, Payload: s.roomStateLocked()})

	if r := s.round; r != nil && !r.resolving && s.everyoneAnsweredLocked() {
		s.cancelTimerLocked(r)
		s.resolveLocked(ctx, r)
	}
}

// watchDeadline waits for the round timer and triggers timeout resolution.
// Cancellation closes r.cancel, so the goroutine never outlives the round.
func (s *Session) watchDeadline(r *round) {
	select {
	case <-r.timer.Chan():
		s.resolveOnTimeout(r)
	case <-r.cancel:
	}
}

func (s *Session) resolveOnTimeout(r *round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The pointer comparison plus the resolving flag make resolution
	// single-fire even if the timer raced an early all-answered pass.
	if s.round != r || r.resolving {
		return
	}
	s.resolveLocked(context.Background(), r)
}

// cancelTimerLocked synchronously and idempotently stops the deadline timer.
func (s *Session) cancelTimerLocked(r *round) {
	if r.cancelled {
		return
	}
	r.cancelled = true
	close(r.cancel)
	if !r.timer.Stop() {
		select {
		case <-r.timer.Chan():
		default:
		}
	}
}

// resolveLocked computes awards, folds them into session and day scores, and
// broadcasts the resolution. Ledger failures skip both score updates for
// that participant so the two totals never diverge; broadcast delivery is
// best-effort and never aborts scoring.
func (s *Session) resolveLocked(ctx context.Context, r *round) {
	r.resolving = true
	s.cancelTimerLocked(r)

	awards := make(map[string]int, len(s.participants))
	records := make(map[string]domain.AnswerRecord, len(r.answers))
	for identity, p := range s.participants {
		awards[identity] = 0
		record, ok := r.answers[identity]
		if !ok {
			continue
		}
		records[identity] = *record
		if !answerCorrect(r.question, record) {
			continue
		}
		points := s.deps.Settings.Points(record.TimeRemaining)
		day, err := s.deps.Ledger.Add(ctx, identity, p.DisplayName, points)
		if err != nil {
			log.Error().Err(err).Str("room", s.id).Str("identity", identity).
				Msg("day ledger update failed, dropping round award")
			continue
		}
		p.SessionScore += points
		p.DayScore = day
		awards[identity] = points
	}

	resolved := domain.RoundResolved{
		RoundID: r.id,
		Awards:  awards,
		Records: records,
		Room:    s.roomStateLocked(),
	}
	if r.question.Kind == domain.KindChoice {
		idx := r.question.AnswerIndex
		resolved.CorrectOption = &idx
	} else {
		resolved.CorrectAnswer = r.question.Expected
	}

	s.round = nil
	s.touchLocked()
	s.broadcastLocked(domain.Event{Type: domain.EventRoundResolved, Payload: resolved})
	s.broadcastLocked(domain.Event{Type: domain.EventRoomState, Payload: s.roomStateLocked()})
}

func answerCorrect(q domain.Question, record *domain.AnswerRecord) bool {
	switch q.Kind {
	case domain.KindChoice:
		return record.OptionIndex == q.AnswerIndex
	case domain.KindName:
		return textMatches(q.Expected, record.Text)
	}
	return false
}

func textMatches(expected, got string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(got))
}

// Subscribe returns a channel receiving this room's broadcasts. The caller
// must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- domain.Event{Type: domain.EventRoomState, Payload: s.roomStateLocked()}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked fans an event out without ever blocking the state machine:
// when a subscriber's buffer is full the oldest pending event is dropped.
func (s *Session) broadcastLocked(ev domain.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *Session) roomStateLocked() domain.RoomState {
	views := make([]domain.ParticipantView, 0, len(s.participants))
	for _, p := range s.participants {
		views = append(views, domain.ParticipantView{
			Identity:     p.Identity,
			DisplayName:  p.DisplayName,
			SessionScore: p.SessionScore,
			DayScore:     p.DayScore,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].SessionScore != views[j].SessionScore {
			return views[i].SessionScore > views[j].SessionScore
		}
		return views[i].DisplayName < views[j].DisplayName
	})
	return domain.RoomState{
		RoomID:       s.id,
		Participants: views,
		HostIdentity: s.host,
	}
}

func (s *Session) touchLocked() {
	s.lastActive = s.deps.Clock.Now()
}

// LastActive reports when the session last handled an event (used by the reaper).
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// IsEmpty reports whether the session has no participants.
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants) == 0
}

// HostIdentity returns the current host, or empty if the room has none.
func (s *Session) HostIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Close cancels any pending round timer and closes all subscriber channels.
// Used when the registry reaps an idle session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if r := s.round; r != nil && !r.resolving {
		s.cancelTimerLocked(r)
		s.round = nil
	}
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}
