package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngbi/ijbatch/internal/model"
)

// DefaultTTL is how long records stay in redis after their last update.
const DefaultTTL = 7 * 24 * time.Hour

// RedisStore keeps records as JSON under batch:<id> and run:<id>, with the
// ordered run ids of a batch in the list batch:<id>:runs.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func batchKey(id string) string     { return fmt.Sprintf("batch:%s", id) }
func batchRunsKey(id string) string { return fmt.Sprintf("batch:%s:runs", id) }
func runKey(id string) string       { return fmt.Sprintf("run:%s", id) }

func (s *RedisStore) SaveBatch(ctx context.Context, b *model.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return s.redis.Set(ctx, batchKey(b.ID), data, s.ttl).Err()
}

func (s *RedisStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	if err := s.get(ctx, batchKey(id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveRun writes the run and, the first time it is seen, appends it to its
// batch's run list.
func (s *RedisStore) SaveRun(ctx context.Context, r *model.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	created, err := s.redis.SetNX(ctx, runKey(r.ID), data, s.ttl).Result()
	if err != nil {
		return err
	}
	if !created {
		return s.redis.Set(ctx, runKey(r.ID), data, s.ttl).Err()
	}
	if r.BatchID == "" {
		return nil
	}
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, batchRunsKey(r.BatchID), r.ID)
	pipe.Expire(ctx, batchRunsKey(r.BatchID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var r model.Run
	if err := s.get(ctx, runKey(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) ListRuns(ctx context.Context, batchID string) ([]*model.Run, error) {
	ids, err := s.redis.LRange(ctx, batchRunsKey(batchID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Run{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]*model.Run, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired
			continue
		}
		var r model.Run
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, nil
}

func (s *RedisStore) get(ctx context.Context, key string, v interface{}) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}
