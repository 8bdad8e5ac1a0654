package timer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/breaker"
	"github.com/null2264/ziBot-new/internal/models"
	"github.com/null2264/ziBot-new/internal/utils"
)

var errBreakerOpen = errors.New("timer store breaker open")

// Store is the slice of the persistent store the facility needs. All timers
// live in the store; the facility only ever keeps the earliest one in memory.
type Store interface {
	NextTimer(ctx context.Context) (*models.Timer, error)
	ReplaceTimer(ctx context.Context, t models.Timer) error
	DeleteTimer(ctx context.Context, id string) error
}

// Handler consumes a completed timer. The row is already gone from the store
// when it runs, so a crashing handler cannot cause re-delivery.
type Handler func(ctx context.Context, t models.Timer) error

// Facility schedules persisted single-fire events. Exactly one timer is
// awaited at a time; creating an earlier timer or canceling the awaited one
// preempts the wait instead of racing a second one.
type Facility struct {
	mu       sync.Mutex
	store    Store
	l        *slog.Logger
	breaker  *breaker.Breaker
	handlers map[string][]Handler
	current  *models.Timer
	wake     chan struct{}
}

func NewFacility(l *slog.Logger, store Store) *Facility {
	return &Facility{
		store:    store,
		l:        l,
		breaker:  breaker.New(5, 30*time.Second),
		handlers: make(map[string][]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers a handler for an event kind. Not safe to call once Run
// has started.
func (f *Facility) Handle(event string, h Handler) {
	f.handlers[event] = append(f.handlers[event], h)
}

// Current returns the timer currently being awaited, if any.
func (f *Facility) Current() *models.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return nil
	}

	t := *f.current
	return &t
}

// Create persists a timer firing no earlier than when, superseding any
// pending timer with the same (event, owner) pair, and preempts the running
// wait if the new deadline is the most urgent one.
func (f *Facility) Create(ctx context.Context, when time.Time, event string, owner int64, extra json.RawMessage) (*models.Timer, error) {
	t := models.Timer{
		ID:      utils.GenerateID(),
		Event:   event,
		Extra:   extra,
		Expires: when.UTC(),
		Created: time.Now().UTC(),
		Owner:   owner,
	}

	if err := f.store.ReplaceTimer(ctx, t); err != nil {
		return nil, errutil.With(err)
	}

	cur := f.Current()
	if cur == nil || t.Expires.Before(cur.Expires) || (cur.Event == event && cur.Owner == owner) {
		f.Restart()
	}

	return &t, nil
}

// Restart cancels the in-flight wait and re-reads the earliest timer from
// the store. Callers use it after deleting timer rows out from under the
// facility.
func (f *Facility) Restart() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run drives the wait-fire loop until ctx is canceled.
func (f *Facility) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		t, err := f.load(ctx)
		if err != nil {
			f.l.Error("error loading next timer", "error", err)
			if !f.sleep(ctx, f.breaker.Backoff()) {
				return
			}
			continue
		}

		f.setCurrent(t)

		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-f.wake:
			}
			continue
		}

		if wait := time.Until(t.Expires); wait > 0 {
			tm := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				tm.Stop()
				return
			case <-f.wake:
				// Preempted: an earlier timer arrived or the awaited one
				// was canceled. Re-read the store.
				tm.Stop()
				f.setCurrent(nil)
				continue
			case <-tm.C:
			}
		}

		f.fire(ctx, *t)
	}
}

func (f *Facility) load(ctx context.Context) (*models.Timer, error) {
	if !f.breaker.Allow() {
		return nil, errBreakerOpen
	}

	t, err := f.store.NextTimer(ctx)
	if err != nil {
		f.breaker.RecordFailure()
		return nil, errutil.With(err)
	}

	f.breaker.RecordSuccess()
	return t, nil
}

func (f *Facility) fire(ctx context.Context, t models.Timer) {
	// Remove the row before dispatch so a crashing handler cannot cause
	// the event to be delivered twice.
	if err := f.store.DeleteTimer(ctx, t.ID); err != nil {
		f.l.Error("error consuming timer", "error", err, "timer", t.ID)
		if f.sleep(ctx, f.breaker.Backoff()) {
			f.Restart()
		}
		return
	}

	f.setCurrent(nil)
	f.dispatch(ctx, t)
}

func (f *Facility) dispatch(ctx context.Context, t models.Timer) {
	for _, h := range f.handlers[t.Event] {
		func() {
			defer func() {
				if r := recover(); r != nil {
					stack := make([]byte, 4096)
					stack = stack[:runtime.Stack(stack, false)]
					f.l.Error("panic recovered in timer handler", "event", t.Event, "owner", t.Owner, "recovered", r, "stack", stack)
				}
			}()

			if err := h(ctx, t); err != nil {
				f.l.Error("error handling timer", "error", err, "event", t.Event, "owner", t.Owner)
			}
		}()
	}
}

func (f *Facility) setCurrent(t *models.Timer) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

func (f *Facility) sleep(ctx context.Context, d time.Duration) bool {
	tm := time.NewTimer(d)
	defer tm.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-f.wake:
		return true
	case <-tm.C:
		return true
	}
}
