// Package blacklist keeps the guild and user deny lists. Redis is the
// durable copy (shared across shards); an in-memory snapshot serves the
// per-message read path, and a circuit breaker keeps a flaky Redis from
// stalling writes.
package blacklist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/graxinc/errutil"
	"github.com/redis/go-redis/v9"

	"github.com/null2264/ziBot-new/internal/breaker"
	"github.com/null2264/ziBot-new/internal/utils"
)

const (
	keyGuilds = "blacklist:guilds"
	keyUsers  = "blacklist:users"
)

var errRedisUnavailable = errors.New("blacklist backend unavailable")

type Blacklist struct {
	mu      sync.RWMutex
	c       *redis.Client
	l       *slog.Logger
	breaker *breaker.Breaker
	guilds  map[int64]struct{}
	users   map[int64]struct{}
}

// New connects to Redis at url. An empty url yields a memory-only blacklist,
// which is fine for single-shard deployments without one.
func New(url string, l *slog.Logger) (*Blacklist, error) {
	b := Blacklist{
		l:       l,
		breaker: breaker.New(3, 15*time.Second),
		guilds:  make(map[int64]struct{}),
		users:   make(map[int64]struct{}),
	}

	if url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, errutil.With(err)
		}
		b.c = redis.NewClient(opt)
	}

	return &b, nil
}

func (b *Blacklist) Close() error {
	if b.c == nil {
		return nil
	}
	return b.c.Close()
}

// Load rebuilds the snapshot from Redis. Called once at startup; a missing
// backend leaves the snapshot empty rather than failing the boot.
func (b *Blacklist) Load(ctx context.Context) error {
	if b.c == nil {
		return nil
	}

	guilds, err := b.members(ctx, keyGuilds)
	if err != nil {
		return errutil.With(err)
	}

	users, err := b.members(ctx, keyUsers)
	if err != nil {
		return errutil.With(err)
	}

	b.mu.Lock()
	b.guilds = guilds
	b.users = users
	b.mu.Unlock()

	return nil
}

func (b *Blacklist) members(ctx context.Context, key string) (map[int64]struct{}, error) {
	if !b.breaker.Allow() {
		return nil, errRedisUnavailable
	}

	raw, err := b.c.SMembers(ctx, key).Result()
	if err != nil {
		b.breaker.RecordFailure()
		return nil, errutil.With(err)
	}
	b.breaker.RecordSuccess()

	out := make(map[int64]struct{}, len(raw))
	for _, s := range raw {
		if id := utils.ParseSnowflake(s); id != 0 {
			out[id] = struct{}{}
		}
	}

	return out, nil
}

func (b *Blacklist) AddGuild(ctx context.Context, id int64) error {
	return b.add(ctx, keyGuilds, id, func() { b.guilds[id] = struct{}{} })
}

func (b *Blacklist) RemoveGuild(ctx context.Context, id int64) error {
	return b.remove(ctx, keyGuilds, id, func() { delete(b.guilds, id) })
}

func (b *Blacklist) AddUser(ctx context.Context, id int64) error {
	return b.add(ctx, keyUsers, id, func() { b.users[id] = struct{}{} })
}

func (b *Blacklist) RemoveUser(ctx context.Context, id int64) error {
	return b.remove(ctx, keyUsers, id, func() { delete(b.users, id) })
}

// add writes Redis before the snapshot, mirroring the store-then-cache
// ordering of the prefix cache.
func (b *Blacklist) add(ctx context.Context, key string, id int64, apply func()) error {
	if b.c != nil {
		if !b.breaker.Allow() {
			return errRedisUnavailable
		}
		if err := b.c.SAdd(ctx, key, utils.FormatSnowflake(id)).Err(); err != nil {
			b.breaker.RecordFailure()
			return errutil.With(err)
		}
		b.breaker.RecordSuccess()
	}

	b.mu.Lock()
	apply()
	b.mu.Unlock()

	return nil
}

func (b *Blacklist) remove(ctx context.Context, key string, id int64, apply func()) error {
	if b.c != nil {
		if !b.breaker.Allow() {
			return errRedisUnavailable
		}
		if err := b.c.SRem(ctx, key, utils.FormatSnowflake(id)).Err(); err != nil {
			b.breaker.RecordFailure()
			return errutil.With(err)
		}
		b.breaker.RecordSuccess()
	}

	b.mu.Lock()
	apply()
	b.mu.Unlock()

	return nil
}

// IsBlocked consults only the snapshot; the message hot path never waits on
// Redis.
func (b *Blacklist) IsBlocked(guildID, userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.users[userID]; ok {
		return true
	}
	if guildID != 0 {
		if _, ok := b.guilds[guildID]; ok {
			return true
		}
	}

	return false
}
