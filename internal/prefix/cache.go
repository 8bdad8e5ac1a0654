package prefix

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/models"
)

var (
	ErrEmpty    = errors.New("prefix cannot be empty")
	ErrLimit    = errors.New("custom prefix list is full")
	ErrExists   = errors.New("prefix already exists")
	ErrNotFound = errors.New("prefix does not exist")
)

// Store is the slice of the persistent store the cache needs. Every mutation
// hits the store before the in-memory map, so a crash between the two leaves
// the cache stale-but-safe for the next Load.
type Store interface {
	Prefixes(ctx context.Context) ([]models.Prefix, error)
	Create(ctx context.Context, m models.Mappable) error
	DeletePrefix(ctx context.Context, guildID int64, prefix string) (int64, error)
}

// Cache answers "what prefixes does guild G have" without a store
// round-trip per message.
type Cache struct {
	mu     sync.RWMutex
	store  Store
	def    string
	limit  int
	guilds map[int64][]string
}

func NewCache(store Store, def string, limit int) *Cache {
	return &Cache{
		store:  store,
		def:    def,
		limit:  limit,
		guilds: make(map[int64][]string),
	}
}

// Default returns the configured default prefix.
func (c *Cache) Default() string {
	return c.def
}

// Load rebuilds the cache from the store. It runs once at startup, before
// any message is dispatched.
func (c *Cache) Load(ctx context.Context) error {
	rows, err := c.store.Prefixes(ctx)
	if err != nil {
		return errutil.With(err)
	}

	guilds := make(map[int64][]string)
	for _, p := range rows {
		guilds[p.GuildID] = append(guilds[p.GuildID], p.Prefix)
	}

	c.mu.Lock()
	c.guilds = guilds
	c.mu.Unlock()

	return nil
}

// Guild returns a copy of the guild's custom prefixes.
func (c *Cache) Guild(guildID int64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.guilds[guildID]...)
}

// Add persists a prefix and appends it to the cached sequence. It rejects
// empty prefixes, duplicates, and additions past the per-guild limit. The
// lock spans check and store write: message handlers run on their own
// goroutines, so two concurrent adds must not both pass the limit check.
func (c *Cache) Add(ctx context.Context, guildID int64, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.guilds[guildID]
	if len(existing) >= c.limit {
		return "", fmt.Errorf("%w (only allowed to add up to %d prefixes)", ErrLimit, c.limit)
	}
	for _, p := range existing {
		if p == prefix {
			return "", ErrExists
		}
	}

	if err := c.store.Create(ctx, models.Prefix{GuildID: guildID, Prefix: prefix}); err != nil {
		return "", errutil.With(err)
	}

	c.guilds[guildID] = append(c.guilds[guildID], prefix)

	return prefix, nil
}

// Remove deletes a prefix from the store, then from the cached sequence,
// under the same lock as Add.
func (c *Cache) Remove(ctx context.Context, guildID int64, prefix string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, p := range c.guilds[guildID] {
		if p == prefix {
			found = true
			break
		}
	}
	if !found {
		return "", ErrNotFound
	}

	if _, err := c.store.DeletePrefix(ctx, guildID, prefix); err != nil {
		return "", errutil.With(err)
	}

	kept := c.guilds[guildID][:0]
	for _, p := range c.guilds[guildID] {
		if p != prefix {
			kept = append(kept, p)
		}
	}
	c.guilds[guildID] = kept

	return prefix, nil
}

// Effective returns the ordered prefix list for a guild message: the two
// mention forms first, then the guild's custom prefixes and the default
// prefix sorted lexicographically, de-duplicated.
func (c *Cache) Effective(botID string, guildID int64) []string {
	base := mentionForms(botID)

	rest := append(c.Guild(guildID), c.def)
	sort.Strings(rest)

	seen := make(map[string]struct{}, len(rest))
	for _, p := range rest {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		base = append(base, p)
	}

	return base
}

// EffectiveDM returns the prefix list for a direct message: mention forms
// and the default prefix only.
func (c *Cache) EffectiveDM(botID string) []string {
	return append(mentionForms(botID), c.def)
}

func mentionForms(botID string) []string {
	return []string{
		fmt.Sprintf("<@!%s> ", botID),
		fmt.Sprintf("<@%s> ", botID),
	}
}

// Match returns the first member of the ordered prefix list that is a
// literal prefix of content. Longest-match is deliberately not attempted.
func Match(content string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(content, p) {
			return p, true
		}
	}

	return "", false
}
