package userdir

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
	calls [][]uuid.UUID
	err   error
}

func (f *fakeStore) UsernamesByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := map[uuid.UUID]string{}
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func setup(t *testing.T) (*Directory, *fakeStore, *miniredis.Miniredis, uuid.UUID, uuid.UUID) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	fs := &fakeStore{names: map[uuid.UUID]string{a: "alice", b: "bob"}}
	return New(fs, rdb, time.Minute, zaptest.NewLogger(t)), fs, mr, a, b
}

func TestLookup_FillsCacheThenHits(t *testing.T) {
	d, fs, mr, a, b := setup(t)
	ctx := context.Background()
	ghost := uuid.Must(uuid.NewV4())

	got, err := d.Lookup(ctx, []uuid.UUID{a, b, a, uuid.Nil, ghost})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "alice", got[a].Username)
	require.Len(t, fs.calls, 1)
	require.Len(t, fs.calls[0], 3)

	v, err := mr.Get(key(a))
	require.NoError(t, err)
	require.Equal(t, "alice", v)
	require.Equal(t, time.Minute, mr.TTL(key(a)))

	got, err = d.Lookup(ctx, []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Equal(t, "bob", got[b].Username)
	require.Len(t, fs.calls, 1, "second lookup served from cache")
}

type countingObserver struct{ hits, misses int }

func (c *countingObserver) CacheLookup(hits, misses int) { c.hits += hits; c.misses += misses }

func TestLookup_PartialHitQueriesOnlyMisses(t *testing.T) {
	d, fs, mr, a, b := setup(t)
	obs := &countingObserver{}
	d.Observe(obs)
	require.NoError(t, mr.Set(key(a), "cached-alice"))

	got, err := d.Lookup(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Equal(t, "cached-alice", got[a].Username)
	require.Equal(t, [][]uuid.UUID{{b}}, fs.calls)
	require.Equal(t, &countingObserver{hits: 1, misses: 1}, obs)
}

func TestLookup_RedisDownFallsBackToStore(t *testing.T) {
	d, fs, mr, a, _ := setup(t)
	mr.Close()

	got, err := d.Lookup(context.Background(), []uuid.UUID{a})
	require.NoError(t, err)
	require.Equal(t, "alice", got[a].Username)
	require.Len(t, fs.calls, 1)
}

func TestLookup_NoCacheAndStoreError(t *testing.T) {
	a := uuid.Must(uuid.NewV4())
	fs := &fakeStore{err: errors.New("db down")}
	d := New(fs, nil, 0, nil)

	_, err := d.Lookup(context.Background(), []uuid.UUID{a})
	require.Error(t, err)

	got, err := d.Lookup(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Len(t, fs.calls, 1)
}
