// Package store defines the storage capability the ticket engine runs on:
// keyed documents, integer counters and scored indexes, with atomic
// batches and optimistic multi-key transactions.
package store

import (
	"context"
	"errors"
)

const DefaultMaxBatchSize = 500

var (
	ErrNotFound      = errors.New("store: key not found")
	ErrConflict      = errors.New("store: watched key modified")
	ErrBatchTooLarge = errors.New("store: batch exceeds max size")
)

// Reader is the read side of a Store.
type Reader interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMulti returns one entry per key, nil for absent keys.
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	// Counter returns 0 for an absent counter.
	Counter(ctx context.Context, key string) (int64, error)
	// Range returns index members by ascending score, ranks start..stop
	// inclusive; stop -1 means the last member.
	Range(ctx context.Context, index string, start, stop int64) ([]string, error)
	// Rank returns ErrNotFound when member is not in index.
	Rank(ctx context.Context, index, member string) (int64, error)
	// RangeByScore returns at most limit members with score <= max.
	RangeByScore(ctx context.Context, index string, max float64, limit int64) ([]string, error)
	Card(ctx context.Context, index string) (int64, error)
	Ping(ctx context.Context) error
}

// Writer buffers mutations. Nothing is applied until the owning batch or
// transaction commits.
type Writer interface {
	Put(key string, value []byte)
	Delete(key string)
	Incr(key string, delta int64)
	IndexAdd(index, member string, score float64)
	IndexRemove(index, member string)
}

// Tx is handed to Update callbacks. Reads of watched keys are validated at
// commit time; reads of other keys are plain reads.
type Tx interface {
	Writer
	Get(key string) ([]byte, error)
}

// Store is the capability consumed by the services.
type Store interface {
	Reader
	// WriteBatch applies all operations of b atomically. It fails with
	// ErrBatchTooLarge if b.Len() exceeds MaxBatchSize.
	WriteBatch(ctx context.Context, b *Batch) error
	// Update runs fn and commits its buffered writes only if none of keys
	// changed since the transaction started; otherwise it returns
	// ErrConflict. An error returned by fn aborts without writing.
	Update(ctx context.Context, keys []string, fn func(tx Tx) error) error
	MaxBatchSize() int
}

type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpIncr
	OpIndexAdd
	OpIndexRemove
)

type Op struct {
	Kind   OpKind
	Key    string
	Member string
	Value  []byte
	Delta  int64
	Score  float64
}

// Batch is an ordered list of write operations. It implements Writer.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpPut, Key: key, Value: value})
}

func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
}

func (b *Batch) Incr(key string, delta int64) {
	b.ops = append(b.ops, Op{Kind: OpIncr, Key: key, Delta: delta})
}

func (b *Batch) IndexAdd(index, member string, score float64) {
	b.ops = append(b.ops, Op{Kind: OpIndexAdd, Key: index, Member: member, Score: score})
}

func (b *Batch) IndexRemove(index, member string) {
	b.ops = append(b.ops, Op{Kind: OpIndexRemove, Key: index, Member: member})
}

// Len counts document writes; index maintenance and counters ride along
// with the document they belong to and are not counted.
func (b *Batch) Len() int {
	n := 0
	for _, op := range b.ops {
		if op.Kind == OpPut || op.Kind == OpDelete {
			n++
		}
	}
	return n
}

func (b *Batch) Ops() []Op {
	return b.ops
}
