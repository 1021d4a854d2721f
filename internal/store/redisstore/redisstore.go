// Package redisstore implements store.Store on Redis. Documents are plain
// string keys, counters are INCRBY integers, indexes are sorted sets.
// Conditional commits use WATCH/MULTI/EXEC.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ticket-inventory/internal/store"
	"ticket-inventory/utils"
)

type Store struct {
	Redis     *redis.Client
	batchSize int
}

var _ store.Store = (*Store)(nil)

func New(redisClient *redis.Client, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = store.DefaultMaxBatchSize
	}
	return &Store{Redis: redisClient, batchSize: maxBatchSize}
}

func (s *Store) MaxBatchSize() int {
	return s.batchSize
}

func (s *Store) Ping(ctx context.Context) error {
	return utils.RedisHealthCheck(ctx, s.Redis)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, s.Redis, key)
}

func get(ctx context.Context, c redis.Cmdable, key string) ([]byte, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.Redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) Range(ctx context.Context, index string, start, stop int64) ([]string, error) {
	members, err := s.Redis.ZRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", index, err)
	}
	return members, nil
}

func (s *Store) Rank(ctx context.Context, index, member string) (int64, error) {
	rank, err := s.Redis.ZRank(ctx, index, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis zrank %s: %w", index, err)
	}
	return rank, nil
}

func (s *Store) RangeByScore(ctx context.Context, index string, max float64, limit int64) ([]string, error) {
	members, err := s.Redis.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", index, err)
	}
	return members, nil
}

func (s *Store) Card(ctx context.Context, index string) (int64, error) {
	n, err := s.Redis.ZCard(ctx, index).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard %s: %w", index, err)
	}
	return n, nil
}

func (s *Store) WriteBatch(ctx context.Context, b *store.Batch) error {
	if b.Len() > s.batchSize {
		return fmt.Errorf("%w: %d > %d", store.ErrBatchTooLarge, b.Len(), s.batchSize)
	}

	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queue(ctx, pipe, b.Ops())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	err := s.Redis.Watch(ctx, func(rtx *redis.Tx) error {
		t := &txn{ctx: ctx, rtx: rtx, batch: store.NewBatch()}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.batch.Ops()) == 0 {
			return nil
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queue(ctx, pipe, t.batch.Ops())
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		slog.Debug("watched keys changed, transaction aborted", "keys", keys)
		return store.ErrConflict
	}
	return err
}

func queue(ctx context.Context, pipe redis.Pipeliner, ops []store.Op) {
	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			pipe.Set(ctx, op.Key, op.Value, 0)
		case store.OpDelete:
			pipe.Del(ctx, op.Key)
		case store.OpIncr:
			pipe.IncrBy(ctx, op.Key, op.Delta)
		case store.OpIndexAdd:
			pipe.ZAdd(ctx, op.Key, redis.Z{Score: op.Score, Member: op.Member})
		case store.OpIndexRemove:
			pipe.ZRem(ctx, op.Key, op.Member)
		}
	}
}

type txn struct {
	ctx   context.Context
	rtx   *redis.Tx
	batch *store.Batch
}

func (t *txn) Get(key string) ([]byte, error) {
	return get(t.ctx, t.rtx, key)
}

func (t *txn) Put(key string, value []byte) { t.batch.Put(key, value) }
func (t *txn) Delete(key string) { t.batch.Delete(key) }
func (t *txn) Incr(key string, delta int64) { t.batch.Incr(key, delta) }
func (t *txn) IndexAdd(index, member string, score float64) { t.batch.IndexAdd(index, member, score) }
func (t *txn) IndexRemove(index, member string) { t.batch.IndexRemove(index, member) }
