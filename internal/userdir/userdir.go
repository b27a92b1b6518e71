// Package userdir resolves user ids to display names for fetch and directory
// responses, with an optional Redis read-through cache in front of PostgreSQL.
package userdir

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/squadcal/internal/model"
)

// Store is the authoritative batch lookup.
type Store interface {
	UsernamesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

const keyPrefix = "username:"

// CacheObserver receives cache hit and miss counts.
type CacheObserver interface {
	CacheLookup(hits, misses int)
}

// Directory batches username lookups. A nil redis client disables caching.
type Directory struct {
	store Store
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.Logger
	obs   CacheObserver
	sf    singleflight.Group
}

// New constructs a Directory.
func New(store Store, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Directory{store: store, rdb: rdb, ttl: ttl, log: log}
}

// Observe reports cache effectiveness to obs.
func (d *Directory) Observe(obs CacheObserver) *Directory {
	d.obs = obs
	return d
}

// Connect parses a redis:// URL and checks reachability.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return c, nil
}

func key(id uuid.UUID) string { return keyPrefix + id.String() }

// Lookup resolves ids in at most one store round trip. Unknown ids and
// uuid.Nil (anonymous) are omitted from the result.
func (d *Directory) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.UserInfo, error) {
	out := make(map[uuid.UUID]model.UserInfo, len(ids))
	want := dedupe(ids)
	if len(want) == 0 {
		return out, nil
	}

	misses := want
	if d.rdb != nil {
		misses = d.fromCache(ctx, want, out)
		if d.obs != nil {
			d.obs.CacheLookup(len(want)-len(misses), len(misses))
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	names, err := d.load(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, name := range names {
		out[id] = model.UserInfo{ID: id, Username: name}
	}
	if d.rdb != nil {
		d.fill(ctx, names)
	}
	return out, nil
}

func (d *Directory) fromCache(ctx context.Context, ids []uuid.UUID, out map[uuid.UUID]model.UserInfo) []uuid.UUID {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		d.log.Warn("username cache read failed", zap.Error(err))
		return ids
	}
	var misses []uuid.UUID
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		out[ids[i]] = model.UserInfo{ID: ids[i], Username: s}
	}
	return misses
}

// load collapses concurrent lookups of the same miss set.
func (d *Directory) load(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	v, err, _ := d.sf.Do(strings.Join(parts, ","), func() (any, error) {
		return d.store.UsernamesByIDs(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	return v.(map[uuid.UUID]string), nil
}

func (d *Directory) fill(ctx context.Context, names map[uuid.UUID]string) {
	if len(names) == 0 {
		return
	}
	pipe := d.rdb.Pipeline()
	for id, name := range names {
		pipe.Set(ctx, key(id), name, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Warn("username cache fill failed", zap.Error(err))
	}
}

// dedupe drops uuid.Nil and duplicates and sorts, so equal sets share a flight key.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
