package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/store"
)

func newMiniredisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
	t.Cleanup(func() { client.Close() })
	return New(client, 3), mr
}

func TestStore_Counter(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)
	ctx := context.Background()

	mock.ExpectGet("event:e1:available").SetVal("42")
	mock.ExpectGet("event:e2:available").RedisNil()

	n, err := s.Counter(ctx, "event:e1:available")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = s.Counter(ctx, "event:e2:available")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetMissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)

	mock.ExpectGet("ticket:e1:t1").RedisNil()

	_, err := s.Get(context.Background(), "ticket:e1:t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetMulti(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)

	mock.ExpectMGet("a", "b", "c").SetVal([]interface{}{"1", nil, "3"})

	vals, err := s.GetMulti(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), nil, []byte("3")}, vals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RangeByScore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)

	mock.ExpectZRangeByScore("holds", &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "1700000000000",
		Count: 50,
	}).SetVal([]string{"e1/t1", "e1/t2"})

	members, err := s.RangeByScore(context.Background(), "holds", 1700000000000, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1/t1", "e1/t2"}, members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RankMissingMember(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)

	mock.ExpectZRank("event:e1:tickets", "t9").RedisNil()

	_, err := s.Rank(context.Background(), "event:e1:tickets", "t9")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WriteBatchPipelinesInMulti(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 0)

	mock.ExpectTxPipeline()
	mock.ExpectIncrBy("event:e1:available", 1).SetVal(11)
	mock.ExpectZAdd("holds", redis.Z{Score: 100, Member: "e1/t1"}).SetVal(1)
	mock.ExpectZRem("provisioning", "e1").SetVal(1)
	mock.ExpectDel("event:e1:provisioning").SetVal(1)
	mock.ExpectTxPipelineExec()

	b := store.NewBatch()
	b.Incr("event:e1:available", 1)
	b.IndexAdd("holds", "e1/t1", 100)
	b.IndexRemove("provisioning", "e1")
	b.Delete("event:e1:provisioning")

	require.NoError(t, s.WriteBatch(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WriteBatchTooLarge(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db, 1)

	b := store.NewBatch()
	b.Put("a", []byte("1"))
	b.Put("b", []byte("2"))

	err := s.WriteBatch(context.Background(), b)
	assert.ErrorIs(t, err, store.ErrBatchTooLarge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateCommits(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("ticket:e1:t1", "Available"))
	require.NoError(t, mr.Set("event:e1:available", "10"))

	err := s.Update(ctx, []string{"ticket:e1:t1"}, func(tx store.Tx) error {
		v, err := tx.Get("ticket:e1:t1")
		if err != nil {
			return err
		}
		assert.Equal(t, "Available", string(v))
		tx.Put("ticket:e1:t1", []byte("OnHold"))
		tx.Incr("event:e1:available", -1)
		tx.IndexAdd("holds", "e1/t1", 5)
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get("ticket:e1:t1")
	require.NoError(t, err)
	assert.Equal(t, "OnHold", got)

	n, err := s.Counter(ctx, "event:e1:available")
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	members, err := s.Range(ctx, "holds", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1/t1"}, members)
}

func TestStore_UpdateConflict(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("ticket:e1:t1", "Available"))

	err := s.Update(ctx, []string{"ticket:e1:t1"}, func(tx store.Tx) error {
		if _, err := tx.Get("ticket:e1:t1"); err != nil {
			return err
		}
		// A competing writer commits between the read and our EXEC.
		mr.Set("ticket:e1:t1", "OnHold")
		tx.Put("ticket:e1:t1", []byte("mine"))
		return nil
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := mr.Get("ticket:e1:t1")
	require.NoError(t, err)
	assert.Equal(t, "OnHold", got)
}

func TestStore_UpdateMissingKey(t *testing.T) {
	s, _ := newMiniredisStore(t)

	err := s.Update(context.Background(), []string{"ticket:e1:nope"}, func(tx store.Tx) error {
		_, err := tx.Get("ticket:e1:nope")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_WriteBatchAgainstMiniredis(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.Put("ticket:e1:a", []byte(`{"id":"a"}`))
	b.Put("ticket:e1:b", []byte(`{"id":"b"}`))
	b.IndexAdd("event:e1:tickets", "a", 0)
	b.IndexAdd("event:e1:tickets", "b", 1)
	require.NoError(t, s.WriteBatch(ctx, b))

	vals, err := s.GetMulti(ctx, []string{"ticket:e1:a", "ticket:e1:x", "ticket:e1:b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(vals[0]))
	assert.Nil(t, vals[1])
	assert.JSONEq(t, `{"id":"b"}`, string(vals[2]))

	card, err := s.Card(ctx, "event:e1:tickets")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)

	rank, err := s.Rank(ctx, "event:e1:tickets", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	assert.NoError(t, s.Ping(ctx))
}
