package database

import (
	"context"
	"database/sql"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/models"
)

// Tx wraps a database transaction. Multi-row mutations (startup
// reconciliation, guild cascade delete) run through it so partial
// application is never observable.
type Tx struct {
	tx      *sql.Tx
	builder sq.StatementBuilderType
	l       *slog.Logger
}

func (db *Database) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errutil.With(err)
	}

	return &Tx{
		tx:      tx,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(tx),
		l:       db.l,
	}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func (tx *Tx) Create(ctx context.Context, m models.Mappable) error {
	q := tx.builder.
		Insert(string(m.Table())).
		SetMap(m.Map())

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (tx *Tx) GuildIDs(ctx context.Context) ([]int64, error) {
	q := tx.builder.
		Select("id").
		From(string(models.TableGuilds))

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errutil.With(err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, errutil.With(err)
	}

	return ids, nil
}

func (tx *Tx) GuildExists(ctx context.Context, id int64) (bool, error) {
	var count int

	q := tx.builder.
		Select("COUNT(*)").
		From(string(models.TableGuilds)).
		Where(sq.Eq{"id": id})

	if err := q.QueryRowContext(ctx).Scan(&count); err != nil {
		return false, errutil.With(err)
	}

	return count > 0, nil
}

func (tx *Tx) InsertGuilds(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	q := tx.builder.
		Insert(string(models.TableGuilds)).
		Options("OR IGNORE").
		Columns("id")
	for _, id := range ids {
		q = q.Values(id)
	}

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (tx *Tx) DeleteGuild(ctx context.Context, id int64) error {
	q := tx.builder.
		Delete(string(models.TableGuilds)).
		Where(sq.Eq{"id": id})

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

// ScheduledOwners returns the owner ids of every pending timer with the
// given event kind.
func (tx *Tx) ScheduledOwners(ctx context.Context, event string) ([]int64, error) {
	q := tx.builder.
		Select("owner").
		From(string(models.TableTimers)).
		Where(sq.Eq{"event": event})

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			return nil, errutil.With(err)
		}
		owners = append(owners, owner)
	}

	if err := rows.Err(); err != nil {
		return nil, errutil.With(err)
	}

	return owners, nil
}

func (tx *Tx) InsertTimer(ctx context.Context, t models.Timer) error {
	return tx.Create(ctx, t)
}

func (tx *Tx) DeleteTimersByOwners(ctx context.Context, event string, owners []int64) (int64, error) {
	if len(owners) == 0 {
		return 0, nil
	}

	q := tx.builder.
		Delete(string(models.TableTimers)).
		Where(sq.Eq{"event": event, "owner": owners})

	res, err := q.ExecContext(ctx)
	if err != nil {
		return 0, errutil.With(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errutil.With(err)
	}

	return affected, nil
}

// DeleteCommands removes custom-command rows by id. The schema does not
// enforce the guild cascade at the engine level, so callers issue this
// inside the same transaction that deletes the guild row.
func (tx *Tx) DeleteCommands(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	q := tx.builder.
		Delete(string(models.TableCommands)).
		Where(sq.Eq{"id": ids})

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}
