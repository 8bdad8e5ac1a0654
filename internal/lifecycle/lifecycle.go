// Package lifecycle reconciles the bot's guild membership against the
// store and drives the deferred-deletion schedule.
package lifecycle

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/database"
	"github.com/null2264/ziBot-new/internal/models"
	"github.com/null2264/ziBot-new/internal/timer"
	"github.com/null2264/ziBot-new/internal/utils"
)

// EventGuildDeletion tags the timer rows that purge a guild's data.
const EventGuildDeletion = "guild_del"

// Membership reports which guilds the bot currently belongs to.
type Membership interface {
	GuildIDs() []int64
}

// CommandLister is the custom-command subsystem query cascade deletion
// walks.
type CommandLister interface {
	List(ctx context.Context, guildID int64) ([]models.CustomCommand, error)
}

type Manager struct {
	l          *slog.Logger
	db         *database.Database
	timers     *timer.Facility
	membership Membership
	lister     CommandLister
	retention  time.Duration
}

func NewManager(l *slog.Logger, db *database.Database, timers *timer.Facility, membership Membership, lister CommandLister, retentionDays int) *Manager {
	m := &Manager{
		l:          l,
		db:         db,
		timers:     timers,
		membership: membership,
		lister:     lister,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
	}

	timers.Handle(EventGuildDeletion, m.HandleDeletion)

	return m
}

// Reconcile runs once at startup, inside one transaction: it inserts guilds
// joined while offline, cancels deletion timers for guilds rejoined while
// offline, and schedules deletion for guilds left while offline. It is
// idempotent.
func (m *Manager) Reconcile(ctx context.Context) error {
	live := m.membership.GuildIDs()

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return errutil.With(err)
	}
	defer tx.Rollback()

	dbGuilds, err := tx.GuildIDs(ctx)
	if err != nil {
		return errutil.With(err)
	}

	var toAdd []int64
	for _, id := range live {
		if !slices.Contains(dbGuilds, id) {
			toAdd = append(toAdd, id)
		}
	}
	if err := tx.InsertGuilds(ctx, toAdd); err != nil {
		return errutil.With(err)
	}

	scheduled, err := tx.ScheduledOwners(ctx, EventGuildDeletion)
	if err != nil {
		return errutil.With(err)
	}

	// Bot rejoined while offline: drop the pending deletion.
	var canceled []int64
	for _, id := range scheduled {
		if slices.Contains(live, id) {
			canceled = append(canceled, id)
		}
	}
	if _, err := tx.DeleteTimersByOwners(ctx, EventGuildDeletion, canceled); err != nil {
		return errutil.With(err)
	}

	// Bot left while offline and no deletion is pending yet: schedule one.
	now := time.Now().UTC()
	when := now.Add(m.retention)
	schedules := 0
	for _, id := range dbGuilds {
		if slices.Contains(live, id) || slices.Contains(scheduled, id) {
			continue
		}
		if err := tx.InsertTimer(ctx, models.Timer{
			ID:      utils.GenerateID(),
			Event:   EventGuildDeletion,
			Expires: when,
			Created: now,
			Owner:   id,
		}); err != nil {
			return errutil.With(err)
		}
		schedules++
	}

	if err := tx.Commit(); err != nil {
		return errutil.With(err)
	}

	m.l.Info("guild reconciliation done",
		"live", len(live),
		"inserted", len(toAdd),
		"canceled", len(canceled),
		"scheduled", schedules,
	)

	cur := m.timers.Current()
	switch {
	case cur == nil:
		m.timers.Restart()
	case cur.Event == EventGuildDeletion && slices.Contains(canceled, cur.Owner):
		m.timers.Restart()
	case schedules > 0 && when.Before(cur.Expires):
		m.timers.Restart()
	}

	return nil
}

// HandleJoin moves a guild back to active membership: first-ever joins get
// a row, rejoins cancel the pending deletion.
func (m *Manager) HandleJoin(ctx context.Context, guildID int64) error {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return errutil.With(err)
	}
	defer tx.Rollback()

	exists, err := tx.GuildExists(ctx, guildID)
	if err != nil {
		return errutil.With(err)
	}

	if !exists {
		if err := tx.InsertGuilds(ctx, []int64{guildID}); err != nil {
			return errutil.With(err)
		}
		if err := tx.Commit(); err != nil {
			return errutil.With(err)
		}

		m.l.Info("joined new guild", "guild", guildID)
		return nil
	}

	deleted, err := tx.DeleteTimersByOwners(ctx, EventGuildDeletion, []int64{guildID})
	if err != nil {
		return errutil.With(err)
	}
	if err := tx.Commit(); err != nil {
		return errutil.With(err)
	}

	if deleted > 0 {
		m.l.Info("rejoined guild, deletion canceled", "guild", guildID)

		cur := m.timers.Current()
		if cur != nil && cur.Event == EventGuildDeletion && cur.Owner == guildID {
			m.timers.Restart()
		}
	}

	return nil
}

// HandleLeave schedules deletion of the guild's data after the retention
// window.
func (m *Manager) HandleLeave(ctx context.Context, guildID int64) error {
	when := time.Now().UTC().Add(m.retention)
	if _, err := m.timers.Create(ctx, when, EventGuildDeletion, guildID, nil); err != nil {
		return errutil.With(err)
	}

	m.l.Info("left guild, deletion scheduled", "guild", guildID, "when", when)

	return nil
}

// HandleDeletion consumes a fired deletion timer. If the bot rejoined and
// the cancellation lost the race with the firing, this is a no-op.
func (m *Manager) HandleDeletion(ctx context.Context, t models.Timer) error {
	if slices.Contains(m.membership.GuildIDs(), t.Owner) {
		return nil
	}

	commands, err := m.lister.List(ctx, t.Owner)
	if err != nil {
		return errutil.With(err)
	}

	ids := make([]int64, 0, len(commands))
	for _, c := range commands {
		ids = append(ids, c.ID)
	}

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return errutil.With(err)
	}
	defer tx.Rollback()

	if err := tx.DeleteCommands(ctx, ids); err != nil {
		return errutil.With(err)
	}

	if err := tx.DeleteGuild(ctx, t.Owner); err != nil {
		return errutil.With(err)
	}

	if err := tx.Commit(); err != nil {
		return errutil.With(err)
	}

	m.l.Info("guild data purged", "guild", t.Owner, "commands", len(ids))

	return nil
}
