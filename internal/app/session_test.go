package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/infra/memory"
)

func testSettings() app.Settings {
	return app.Settings{TimeBudget: 15 * time.Second, MaxPoints: 150, Exponent: 2}
}

func choiceQuestion(id string, answerIndex int) domain.Question {
	return domain.Question{
		ID:          id,
		Kind:        domain.KindChoice,
		Prompt:      "pick one",
		Options:     []string{"a", "b", "c", "d"},
		AnswerIndex: answerIndex,
	}
}

func newTestSession(clock clockwork.Clock, pool ...domain.Question) *app.Session {
	return app.NewSession("room-1", app.SessionDeps{
		Settings:  testSettings(),
		Questions: memory.NewQuestionRepository(memory.NewStaticQuestionLoader(pool), time.Minute),
		Ledger:    memory.NewLedger(clock),
		Clock:     clock,
	})
}

func waitEvent(t *testing.T, ch <-chan domain.Event, typ domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func expectNoEvent(t *testing.T, ch <-chan domain.Event, typ domain.EventType) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, ev.Payload)
			}
		case <-timeout:
			return
		}
	}
}

func TestEarlyResolutionFiresOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := newTestSession(clock, choiceQuestion("q1", 1))

	if _, err := session.Join(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := session.Join(ctx, "u2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	events, cancel := session.Subscribe()
	defer cancel()

	started, err := session.StartRound(ctx, "u1")
	if err != nil || !started {
		t.Fatalf("start round: started=%v err=%v", started, err)
	}
	waitEvent(t, events, domain.EventRoundStarted)

	clock.Advance(3 * time.Second)
	if _, err := session.SubmitChoice(ctx, "u1", 1); err != nil {
		t.Fatalf("submit u1: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := session.SubmitChoice(ctx, "u2", 0); err != nil {
		t.Fatalf("submit u2: %v", err)
	}

	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if resolved.Awards["u1"] != 96 {
		t.Fatalf("expected u1 to earn 96 (x=0.8), got %d", resolved.Awards["u1"])
	}
	if resolved.Awards["u2"] != 0 {
		t.Fatalf("expected wrong answer to earn 0, got %d", resolved.Awards["u2"])
	}
	if resolved.CorrectOption == nil || *resolved.CorrectOption != 1 {
		t.Fatalf("expected correct option revealed at resolution, got %+v", resolved.CorrectOption)
	}

	// The deadline must have been cancelled: advancing past it may not
	// produce a second resolution.
	clock.Advance(time.Minute)
	expectNoEvent(t, events, domain.EventRoundResolved)
}

func TestTimeoutResolutionScoresUnansweredZero(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := newTestSession(clock, choiceQuestion("q1", 2))

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	events, cancel := session.Subscribe()
	defer cancel()

	if _, err := session.StartRound(ctx, "u1"); err != nil {
		t.Fatalf("start round: %v", err)
	}

	clock.Advance(3 * time.Second)
	if _, err := session.SubmitChoice(ctx, "u1", 2); err != nil {
		t.Fatalf("submit: %v", err)
	}

	clock.Advance(12 * time.Second) // deadline fires
	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if resolved.Awards["u1"] != 96 || resolved.Awards["u2"] != 0 {
		t.Fatalf("expected awards u1=96 u2=0, got %+v", resolved.Awards)
	}

	for _, p := range resolved.Room.Participants {
		switch p.Identity {
		case "u1":
			if p.SessionScore != 96 || p.DayScore != 96 {
				t.Fatalf("expected u1 session and day scores at 96, got %+v", p)
			}
		case "u2":
			if p.SessionScore != 0 {
				t.Fatalf("expected u2 at 0, got %+v", p)
			}
		}
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := newTestSession(clock, choiceQuestion("q1", 0))

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	events, cancel := session.Subscribe()
	defer cancel()

	_, _ = session.StartRound(ctx, "u1")
	if _, err := session.SubmitChoice(ctx, "u1", 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := session.SubmitChoice(ctx, "u1", 3); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	// Resolve via u2 and confirm the first record survived unchanged.
	_, _ = session.SubmitChoice(ctx, "u2", 1)
	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if resolved.Records["u1"].OptionIndex != 0 {
		t.Fatalf("expected first answer preserved, got %+v", resolved.Records["u1"])
	}
}

func TestSubmitWithoutActiveRound(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(clockwork.NewFakeClock(), choiceQuestion("q1", 0))

	_, _ = session.Join(ctx, "u1", "Alice")
	if _, err := session.SubmitChoice(ctx, "u1", 0); !errors.Is(err, domain.ErrNoActiveRound) {
		t.Fatalf("expected no-active-round rejection, got %v", err)
	}
	if _, err := session.SubmitChoice(ctx, "ghost", 0); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant rejection, got %v", err)
	}
}

func TestNonHostStartRoundIsNoOp(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(clockwork.NewFakeClock(), choiceQuestion("q1", 0))

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	events, cancel := session.Subscribe()
	defer cancel()

	started, err := session.StartRound(ctx, "u2")
	if err != nil {
		t.Fatalf("non-host start: %v", err)
	}
	if started {
		t.Fatalf("expected non-host start to be ignored")
	}
	expectNoEvent(t, events, domain.EventRoundStarted)

	// A second start while a round is active is equally silent.
	if started, _ := session.StartRound(ctx, "u1"); !started {
		t.Fatalf("host start should succeed")
	}
	if started, _ := session.StartRound(ctx, "u1"); started {
		t.Fatalf("expected start during active round to be ignored")
	}
}

func TestHostReassignmentOnDisconnect(t *testing.T) {
	ctx := context.Background()
	session := newTestSession(clockwork.NewFakeClock(), choiceQuestion("q1", 0))

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	if session.HostIdentity() != "u1" {
		t.Fatalf("expected first joiner as host, got %q", session.HostIdentity())
	}

	session.Disconnect(ctx, "u1")
	if session.HostIdentity() != "u2" {
		t.Fatalf("expected u2 promoted to host, got %q", session.HostIdentity())
	}
	if started, err := session.StartRound(ctx, "u2"); err != nil || !started {
		t.Fatalf("promoted host start: started=%v err=%v", started, err)
	}

	session.Disconnect(ctx, "u2")
	if session.HostIdentity() != "" {
		t.Fatalf("expected host cleared in empty room, got %q", session.HostIdentity())
	}

	_, _ = session.Join(ctx, "u3", "Cara")
	if session.HostIdentity() != "u3" {
		t.Fatalf("expected first joiner after empty room promoted, got %q", session.HostIdentity())
	}
}

func TestDisconnectMidRoundTriggersEarlyResolution(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := newTestSession(clock, choiceQuestion("q1", 0))

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	events, cancel := session.Subscribe()
	defer cancel()

	_, _ = session.StartRound(ctx, "u1")
	if _, err := session.SubmitChoice(ctx, "u1", 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The answered-participant count is recomputed at evaluation time, so
	// the unanswered participant leaving resolves the round.
	session.Disconnect(ctx, "u2")
	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if _, ok := resolved.Awards["u2"]; ok {
		t.Fatalf("disconnected participant should not appear in awards: %+v", resolved.Awards)
	}

	clock.Advance(time.Minute)
	expectNoEvent(t, events, domain.EventRoundResolved)
}

func TestQuestionFairnessFullCycle(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	pool := []domain.Question{
		choiceQuestion("q1", 0),
		choiceQuestion("q2", 0),
		choiceQuestion("q3", 0),
		choiceQuestion("q4", 0),
		choiceQuestion("q5", 0),
	}
	session := newTestSession(clock, pool...)

	_, _ = session.Join(ctx, "u1", "Alice")
	events, cancel := session.Subscribe()
	defer cancel()

	seen := make(map[string]int)
	for i := 0; i < len(pool); i++ {
		if started, err := session.StartRound(ctx, "u1"); err != nil || !started {
			t.Fatalf("round %d: started=%v err=%v", i, started, err)
		}
		ev := waitEvent(t, events, domain.EventRoundStarted)
		seen[ev.Payload.(domain.RoundStarted).Question.ID]++
		// Sole participant answering resolves the round immediately.
		if _, err := session.SubmitChoice(ctx, "u1", 0); err != nil {
			t.Fatalf("round %d submit: %v", i, err)
		}
		waitEvent(t, events, domain.EventRoundResolved)
	}

	if len(seen) != len(pool) {
		t.Fatalf("expected each question used exactly once per cycle, saw %v", seen)
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("question %s drawn %d times within one cycle", id, count)
		}
	}

	// The used set rotates once exhausted, so another round still starts.
	if started, err := session.StartRound(ctx, "u1"); err != nil || !started {
		t.Fatalf("post-cycle round: started=%v err=%v", started, err)
	}
	waitEvent(t, events, domain.EventRoundStarted)
}

func TestNameQuestionMatching(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := newTestSession(clock, domain.Question{
		ID:       "n1",
		Kind:     domain.KindName,
		Prompt:   "name it",
		Expected: "Blue-Eyes White Dragon",
	})

	_, _ = session.Join(ctx, "u1", "Alice")
	_, _ = session.Join(ctx, "u2", "Bob")
	events, cancel := session.Subscribe()
	defer cancel()

	_, _ = session.StartRound(ctx, "u1")
	started := waitEvent(t, events, domain.EventRoundStarted).Payload.(domain.RoundStarted)
	if started.Question.Kind != domain.KindName {
		t.Fatalf("expected name question, got %+v", started.Question)
	}

	clock.Advance(3 * time.Second)
	if _, err := session.SubmitText(ctx, "u1", "  blue-eyes white dragon "); err != nil {
		t.Fatalf("submit text: %v", err)
	}
	if _, err := session.SubmitText(ctx, "u2", "Dark Magician"); err != nil {
		t.Fatalf("submit text: %v", err)
	}

	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if resolved.Awards["u1"] != 96 {
		t.Fatalf("expected case-insensitive match to score 96, got %d", resolved.Awards["u1"])
	}
	if resolved.Awards["u2"] != 0 {
		t.Fatalf("expected wrong name to score 0, got %d", resolved.Awards["u2"])
	}
	if resolved.CorrectAnswer != "Blue-Eyes White Dragon" {
		t.Fatalf("expected answer revealed at resolution, got %q", resolved.CorrectAnswer)
	}
}

func TestLedgerFailureSkipsBothScoreUpdates(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	session := app.NewSession("room-1", app.SessionDeps{
		Settings:  testSettings(),
		Questions: memory.NewQuestionRepository(memory.NewStaticQuestionLoader([]domain.Question{choiceQuestion("q1", 0)}), time.Minute),
		Ledger:    failingLedger{},
		Clock:     clock,
	})

	_, _ = session.Join(ctx, "u1", "Alice")
	events, cancel := session.Subscribe()
	defer cancel()

	_, _ = session.StartRound(ctx, "u1")
	_, _ = session.SubmitChoice(ctx, "u1", 0)

	ev := waitEvent(t, events, domain.EventRoundResolved)
	resolved := ev.Payload.(domain.RoundResolved)
	if resolved.Awards["u1"] != 0 {
		t.Fatalf("expected award dropped when ledger fails, got %d", resolved.Awards["u1"])
	}
	if p := resolved.Room.Participants[0]; p.SessionScore != 0 || p.DayScore != 0 {
		t.Fatalf("session and day scores must stay in step, got %+v", p)
	}
}

// failingLedger accepts reads but rejects writes.
type failingLedger struct{}

func (failingLedger) Get(context.Context, string) (int, error) { return 0, nil }
func (failingLedger) Add(context.Context, string, string, int) (int, error) {
	return 0, errors.New("ledger down")
}
func (failingLedger) Top(context.Context, int) ([]domain.LeaderboardEntry, error) { return nil, nil }
