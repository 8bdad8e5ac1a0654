package prefix

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/null2264/ziBot-new/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	rows      []models.Prefix
	createErr error
	deleteErr error
}

func (s *fakeStore) Prefixes(ctx context.Context) ([]models.Prefix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Prefix(nil), s.rows...), nil
}

func (s *fakeStore) Create(ctx context.Context, m models.Mappable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}

	p, ok := m.(models.Prefix)
	if !ok {
		return errors.New("unexpected model")
	}
	s.rows = append(s.rows, p)
	return nil
}

func (s *fakeStore) DeletePrefix(ctx context.Context, guildID int64, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return 0, s.deleteErr
	}

	var affected int64
	kept := s.rows[:0]
	for _, p := range s.rows {
		if p.GuildID == guildID && p.Prefix == prefix {
			affected++
			continue
		}
		kept = append(kept, p)
	}
	s.rows = kept
	return affected, nil
}

func TestAddAppearsInReload(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := NewCache(store, ">", 15)

	if _, err := c.Add(ctx, 1, "!"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rebuilt := NewCache(store, ">", 15)
	if err := rebuilt.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := rebuilt.Guild(1); len(got) != 1 || got[0] != "!" {
		t.Fatalf("expected rebuilt cache to contain %q, got %v", "!", got)
	}
}

func TestRemoveGoneAfterReload(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{rows: []models.Prefix{{GuildID: 1, Prefix: "!"}, {GuildID: 1, Prefix: "?"}}}
	c := NewCache(store, ">", 15)
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := c.Remove(ctx, 1, "!"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	rebuilt := NewCache(store, ">", 15)
	if err := rebuilt.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := rebuilt.Guild(1); len(got) != 1 || got[0] != "?" {
		t.Fatalf("expected only %q after remove, got %v", "?", got)
	}
}

func TestAddLimitRejected(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := NewCache(store, ">", 15)

	for i := 0; i < 15; i++ {
		if _, err := c.Add(ctx, 1, string(rune('a'+i))); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}

	before := c.Guild(1)
	if _, err := c.Add(ctx, 1, "z"); !errors.Is(err, ErrLimit) {
		t.Fatalf("expected ErrLimit, got %v", err)
	}
	if after := c.Guild(1); !reflect.DeepEqual(before, after) {
		t.Fatalf("cache changed on rejected add: %v != %v", before, after)
	}
	if len(store.rows) != 15 {
		t.Fatalf("store changed on rejected add: %d rows", len(store.rows))
	}
}

type blockingStore struct {
	fakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Create(ctx context.Context, m models.Mappable) error {
	s.entered <- struct{}{}
	<-s.release
	return s.fakeStore.Create(ctx, m)
}

func TestConcurrentAddsRespectLimit(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	store.rows = []models.Prefix{{GuildID: 1, Prefix: "!"}}

	c := NewCache(store, ">", 2)
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	errs := make(chan error, 2)
	go func() {
		_, err := c.Add(ctx, 1, "a")
		errs <- err
	}()

	// First add is inside the store write; the second must wait for it and
	// then see the guild at the limit.
	<-store.entered
	go func() {
		_, err := c.Add(ctx, 1, "b")
		errs <- err
	}()
	close(store.release)

	var limited, succeeded int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrLimit):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || limited != 1 {
		t.Fatalf("succeeded = %d, limited = %d, want 1/1", succeeded, limited)
	}

	if got := c.Guild(1); len(got) != 2 {
		t.Fatalf("guild holds %d prefixes, want the limit of 2: %v", len(got), got)
	}
	if len(store.rows) != 2 {
		t.Fatalf("store holds %d rows, want 2", len(store.rows))
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&fakeStore{}, ">", 15)

	if _, err := c.Add(ctx, 1, "!"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := c.Add(ctx, 1, "!"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestAddEmptyRejected(t *testing.T) {
	c := NewCache(&fakeStore{}, ">", 15)
	if _, err := c.Add(context.Background(), 1, ""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestRemoveAbsentRejected(t *testing.T) {
	c := NewCache(&fakeStore{}, ">", 15)
	if _, err := c.Remove(context.Background(), 1, "!"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddStoreFailureLeavesCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{createErr: errors.New("disk full")}
	c := NewCache(store, ">", 15)

	if _, err := c.Add(ctx, 1, "!"); err == nil {
		t.Fatal("expected store error")
	}
	if got := c.Guild(1); len(got) != 0 {
		t.Fatalf("cache must never show a prefix absent from the store, got %v", got)
	}
}

func TestEffectiveOrdering(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&fakeStore{}, ">", 15)
	for _, p := range []string{"z!", "a!"} {
		if _, err := c.Add(ctx, 1, p); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got := c.Effective("123", 1)
	want := []string{"<@!123> ", "<@123> ", ">", "a!", "z!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Effective = %v, want %v", got, want)
	}
}

func TestEffectiveDeduplicatesDefault(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&fakeStore{}, ">", 15)
	if _, err := c.Add(ctx, 1, ">"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := c.Effective("123", 1)
	want := []string{"<@!123> ", "<@123> ", ">"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Effective = %v, want %v", got, want)
	}
}

func TestEffectiveDMHasNoCustomPrefixes(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&fakeStore{}, ">", 15)
	if _, err := c.Add(ctx, 1, "!"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := c.EffectiveDM("123")
	want := []string{"<@!123> ", "<@123> ", ">"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectiveDM = %v, want %v", got, want)
	}
}

func TestMatchFirstMemberWins(t *testing.T) {
	// First literal prefix in list order wins; longest-match is not
	// attempted.
	p, ok := Match("!!help", []string{"!", "!!"})
	if !ok || p != "!" {
		t.Fatalf("Match = %q/%v, want %q", p, ok, "!")
	}

	if _, ok := Match("hello", []string{"!", ">"}); ok {
		t.Fatal("expected no match")
	}
}
