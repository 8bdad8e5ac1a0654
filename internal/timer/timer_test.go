package timer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/null2264/ziBot-new/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	timers  map[string]models.Timer
	nextErr error
}

func newMemStore() *memStore {
	return &memStore{timers: make(map[string]models.Timer)}
}

func (s *memStore) NextTimer(ctx context.Context) (*models.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextErr != nil {
		return nil, s.nextErr
	}

	var next *models.Timer
	for _, t := range s.timers {
		t := t
		if next == nil || t.Expires.Before(next.Expires) {
			next = &t
		}
	}

	return next, nil
}

func (s *memStore) ReplaceTimer(ctx context.Context, t models.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.timers {
		if existing.Event == t.Event && existing.Owner == t.Owner {
			delete(s.timers, id)
		}
	}
	s.timers[t.ID] = t

	return nil
}

func (s *memStore) DeleteTimer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.timers, id)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *memStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPastDueTimerFiresImmediately(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)

	var mu sync.Mutex
	var fired []models.Timer
	var rowsAtFire int
	f.Handle("test", func(ctx context.Context, tm models.Timer) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, tm)
		rowsAtFire = store.count()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	created, err := f.Create(ctx, time.Now().Add(-time.Minute), "test", 42, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, "timer did not fire")

	mu.Lock()
	defer mu.Unlock()
	if fired[0].ID != created.ID || fired[0].Owner != 42 {
		t.Fatalf("fired wrong timer: %+v", fired[0])
	}
	if rowsAtFire != 0 {
		t.Fatal("row must be removed from the store before the handler runs")
	}
}

func TestEarlierTimerPreemptsWait(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)

	var mu sync.Mutex
	var fired []int64
	f.Handle("test", func(ctx context.Context, tm models.Timer) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, tm.Owner)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	if _, err := f.Create(ctx, time.Now().Add(time.Hour), "test", 1, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		cur := f.Current()
		return cur != nil && cur.Owner == 1
	}, "far timer never loaded")

	if _, err := f.Create(ctx, time.Now().Add(30*time.Millisecond), "test", 2, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, "earlier timer did not fire")

	mu.Lock()
	defer mu.Unlock()
	if fired[0] != 2 {
		t.Fatalf("fired owner = %d, want the preempting timer", fired[0])
	}
	if store.count() != 1 {
		t.Fatalf("far timer must remain pending, store has %d rows", store.count())
	}
}

func TestCreateSupersedesSameOwner(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)

	ctx := context.Background()
	if _, err := f.Create(ctx, time.Now().Add(time.Hour), "test", 7, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Create(ctx, time.Now().Add(2*time.Hour), "test", 7, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected one timer per (event, owner), got %d", store.count())
	}
}

func TestHandlerPanicDoesNotStopFacility(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)

	var mu sync.Mutex
	var fired []int64
	f.Handle("test", func(ctx context.Context, tm models.Timer) error {
		mu.Lock()
		fired = append(fired, tm.Owner)
		mu.Unlock()
		if tm.Owner == 1 {
			panic("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	if _, err := f.Create(ctx, time.Now().Add(-time.Second), "test", 1, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, "first timer did not fire")

	if _, err := f.Create(ctx, time.Now().Add(-time.Second), "test", 2, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, "facility stopped scheduling after a handler panic")
}

func TestHandlerErrorDoesNotStopFacility(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)

	var mu sync.Mutex
	var fired int
	f.Handle("test", func(ctx context.Context, tm models.Timer) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return errors.New("handler failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	for owner := int64(1); owner <= 2; owner++ {
		if _, err := f.Create(ctx, time.Now().Add(-time.Second), "test", owner, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
		want := int(owner)
		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return fired == want
		}, "timer did not fire after a handler error")
	}
}

func TestRestartAfterExternalCancel(t *testing.T) {
	store := newMemStore()
	f := NewFacility(testLogger(), store)
	f.Handle("test", func(ctx context.Context, tm models.Timer) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	created, err := f.Create(ctx, time.Now().Add(time.Hour), "test", 9, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool {
		cur := f.Current()
		return cur != nil && cur.ID == created.ID
	}, "timer never loaded")

	// Cancel out from under the facility, the way rejoin cancellation does.
	if err := store.DeleteTimer(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTimer: %v", err)
	}
	f.Restart()

	waitFor(t, func() bool { return f.Current() == nil }, "current timer not cleared after cancel")
}

func TestStoreFailureRetries(t *testing.T) {
	store := newMemStore()
	store.setErr(errors.New("store down"))
	f := NewFacility(testLogger(), store)

	var mu sync.Mutex
	var fired int
	f.Handle("test", func(ctx context.Context, tm models.Timer) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	// Write the row directly; Create would fail while the store is down.
	if err := store.ReplaceTimer(ctx, models.Timer{
		ID:      "t1",
		Event:   "test",
		Expires: time.Now().Add(-time.Second),
		Created: time.Now(),
		Owner:   3,
	}); err != nil {
		t.Fatalf("ReplaceTimer: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	store.setErr(nil)
	f.Restart()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, "facility did not recover after store failure")
}
