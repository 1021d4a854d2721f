// Package memstore is an in-memory store.Store with versioned keys. It
// gives the same optimistic-commit guarantees as the Redis store and is
// used by tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"ticket-inventory/internal/store"
)

type entry struct {
	value   []byte
	version uint64
	deleted bool
}

type Store struct {
	mu        sync.RWMutex
	docs      map[string]entry
	indexes   map[string]map[string]float64
	seq       uint64
	batchSize int
}

var _ store.Store = (*Store)(nil)

func New(maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = store.DefaultMaxBatchSize
	}
	return &Store{
		docs:      make(map[string]entry),
		indexes:   make(map[string]map[string]float64),
		batchSize: maxBatchSize,
	}
}

func (s *Store) MaxBatchSize() int {
	return s.batchSize
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

func (s *Store) get(key string) ([]byte, error) {
	e, ok := s.docs[key]
	if !ok || e.deleted {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) GetMulti(_ context.Context, keys []string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, len(keys))
	for i, key := range keys {
		v, err := s.get(key)
		if err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (s *Store) Counter(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter(key)
}

func (s *Store) counter(key string) (int64, error) {
	e, ok := s.docs[key]
	if !ok || e.deleted {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memstore: counter %s: %w", key, err)
	}
	return n, nil
}

type scored struct {
	member string
	score  float64
}

// sorted mirrors Redis ordering: score, then member lexicographically.
func (s *Store) sorted(index string) []scored {
	idx := s.indexes[index]
	out := make([]scored, 0, len(idx))
	for m, sc := range idx {
		out = append(out, scored{member: m, score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	return out
}

func (s *Store) Range(_ context.Context, index string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted(index)
	n := int64(len(all))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}

	out := make([]string, 0, stop-start+1)
	for _, sc := range all[start : stop+1] {
		out = append(out, sc.member)
	}
	return out, nil
}

func (s *Store) Rank(_ context.Context, index, member string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, sc := range s.sorted(index) {
		if sc.member == member {
			return int64(i), nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) RangeByScore(_ context.Context, index string, max float64, limit int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for _, sc := range s.sorted(index) {
		if sc.score > max || (limit > 0 && int64(len(out)) >= limit) {
			break
		}
		out = append(out, sc.member)
	}
	return out, nil
}

func (s *Store) Card(_ context.Context, index string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.indexes[index])), nil
}

func (s *Store) WriteBatch(ctx context.Context, b *store.Batch) error {
	if b.Len() > s.batchSize {
		return fmt.Errorf("%w: %d > %d", store.ErrBatchTooLarge, b.Len(), s.batchSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(b.Ops())
}

func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	versions := make(map[string]uint64, len(keys))
	for _, k := range keys {
		versions[k] = s.docs[k].version
	}
	s.mu.RUnlock()

	t := &txn{store: s, batch: store.NewBatch()}
	if err := fn(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range versions {
		if s.docs[k].version != v {
			return store.ErrConflict
		}
	}
	return s.apply(t.batch.Ops())
}

// apply must be called with mu held. Counters are validated before any
// operation is applied so a batch is all-or-nothing.
func (s *Store) apply(ops []store.Op) error {
	checked := map[string]bool{}
	for _, op := range ops {
		if op.Kind != store.OpIncr {
			continue
		}
		if !checked[op.Key] {
			if _, err := s.counter(op.Key); err != nil {
				return err
			}
			checked[op.Key] = true
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			s.put(op.Key, op.Value, false)
		case store.OpDelete:
			s.put(op.Key, nil, true)
		case store.OpIncr:
			n, _ := s.counter(op.Key)
			s.put(op.Key, []byte(strconv.FormatInt(n+op.Delta, 10)), false)
		case store.OpIndexAdd:
			idx, ok := s.indexes[op.Key]
			if !ok {
				idx = make(map[string]float64)
				s.indexes[op.Key] = idx
			}
			idx[op.Member] = op.Score
		case store.OpIndexRemove:
			delete(s.indexes[op.Key], op.Member)
		}
	}
	return nil
}

// put keeps tombstones so a delete-then-recreate still bumps the version
// seen by watchers.
func (s *Store) put(key string, value []byte, deleted bool) {
	s.seq++
	v := make([]byte, len(value))
	copy(v, value)
	s.docs[key] = entry{value: v, version: s.seq, deleted: deleted}
}

type txn struct {
	store *Store
	batch *store.Batch
}

func (t *txn) Get(key string) ([]byte, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.get(key)
}

func (t *txn) Put(key string, value []byte) { t.batch.Put(key, value) }
func (t *txn) Delete(key string) { t.batch.Delete(key) }
func (t *txn) Incr(key string, delta int64) { t.batch.Incr(key, delta) }
func (t *txn) IndexAdd(index, member string, score float64) { t.batch.IndexAdd(index, member, score) }
func (t *txn) IndexRemove(index, member string) { t.batch.IndexRemove(index, member) }
