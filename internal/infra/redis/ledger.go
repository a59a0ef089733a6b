package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"trivia-room-service/internal/domain"
)

const (
	dayLayout = "2006-01-02"
	namesKey  = "leaderboard:names"
	// Day keys expire shortly after they stop being current, so the day
	// boundary reset falls out of the keying scheme itself.
	dayKeyTTL = 48 * time.Hour
)

// Ledger is a Redis-backed implementation of app.DayLedger. Scores live in a
// sorted set keyed by UTC day, so a new day starts from an empty set and old
// days age out via TTL. Display names are kept in a shared hash for
// leaderboard reads.
type Ledger struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewLedger(client *redis.Client, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{client: client, clock: clock}
}

func (l *Ledger) Get(ctx context.Context, identity string) (int, error) {
	score, err := l.client.ZScore(ctx, l.dayKey(), identity).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("day score get: %w", err)
	}
	return int(score), nil
}

func (l *Ledger) Add(ctx context.Context, identity, displayName string, points int) (int, error) {
	key := l.dayKey()
	pipe := l.client.TxPipeline()
	incr := pipe.ZIncrBy(ctx, key, float64(points), identity)
	pipe.HSet(ctx, namesKey, identity, displayName)
	pipe.Expire(ctx, key, dayKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("day score add: %w", err)
	}
	return int(incr.Val()), nil
}

func (l *Ledger) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := l.client.ZRevRangeWithScores(ctx, l.dayKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard read: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	identities := make([]string, len(rows))
	for i, row := range rows {
		identities[i] = row.Member.(string)
	}
	names, err := l.client.HMGet(ctx, namesKey, identities...).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard names: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(rows))
	for i, row := range rows {
		entry := domain.LeaderboardEntry{
			Identity: identities[i],
			Score:    int(row.Score),
		}
		if name, ok := names[i].(string); ok {
			entry.DisplayName = name
		}
		entries[i] = entry
	}
	return entries, nil
}

func (l *Ledger) dayKey() string {
	return "leaderboard:day:" + l.clock.Now().UTC().Format(dayLayout)
}
