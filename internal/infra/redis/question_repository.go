package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-room-service/internal/domain"
)

const poolKey = "trivia:questions"

// QuestionLoader fetches the trivia pool from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionRepository caches the serialized pool in Redis and falls back to a
// loader on cache miss.
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context) ([]domain.Question, error) {
	raw, err := r.client.Get(ctx, poolKey).Bytes()
	if err == nil {
		return decodePool(raw)
	}
	if !errors.Is(err, redis.Nil) {
		// Redis being down should not take the game down with it.
		return r.loadDirect(ctx)
	}

	result, err, _ := r.sf.Do(poolKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := r.client.Get(ctx, poolKey).Bytes()
		if err == nil {
			return decodePoolAny(raw)
		}

		pool, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		if encoded, err := json.Marshal(pool); err == nil {
			_ = r.client.Set(ctx, poolKey, encoded, r.ttlWithJitter()).Err()
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) loadDirect(ctx context.Context) ([]domain.Question, error) {
	return r.loader.LoadQuestions(ctx)
}

func decodePool(raw []byte) ([]domain.Question, error) {
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func decodePoolAny(raw []byte) (interface{}, error) {
	return decodePool(raw)
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
