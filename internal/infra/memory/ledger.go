package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/domain"
)

const dayLayout = "2006-01-02"

// Ledger is an in-memory implementation of app.DayLedger. Each record keeps
// the UTC day key it was written under; a record touched after a day boundary
// is reset to zero before the access proceeds (lazy reset). A background
// sweep additionally normalizes all records so leaderboard reads between
// accesses are never stale by more than the sweep interval.
type Ledger struct {
	clock clockwork.Clock

	mu      sync.Mutex
	records map[string]*dayRecord
}

type dayRecord struct {
	displayName string
	score       int
	day         string
}

func NewLedger(clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		clock:   clock,
		records: make(map[string]*dayRecord),
	}
}

func (l *Ledger) Get(_ context.Context, identity string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[identity]
	if !ok {
		return 0, nil
	}
	l.normalizeLocked(record)
	return record.score, nil
}

func (l *Ledger) Add(_ context.Context, identity, displayName string, points int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[identity]
	if !ok {
		record = &dayRecord{day: l.dayKey()}
		l.records[identity] = record
	}
	l.normalizeLocked(record)
	record.displayName = displayName
	record.score += points
	return record.score, nil
}

func (l *Ledger) Top(_ context.Context, n int) ([]domain.LeaderboardEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]domain.LeaderboardEntry, 0, len(l.records))
	for identity, record := range l.records {
		l.normalizeLocked(record)
		entries = append(entries, domain.LeaderboardEntry{
			Identity:    identity,
			DisplayName: record.displayName,
			Score:       record.score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Identity < entries[j].Identity
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Sweep normalizes every record against the current day key.
func (l *Ledger) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		l.normalizeLocked(record)
	}
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (l *Ledger) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := l.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				l.Sweep()
				log.Debug().Msg("day ledger sweep completed")
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *Ledger) normalizeLocked(record *dayRecord) {
	if day := l.dayKey(); record.day != day {
		record.day = day
		record.score = 0
	}
}

func (l *Ledger) dayKey() string {
	return l.clock.Now().UTC().Format(dayLayout)
}
