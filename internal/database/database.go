package database

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/graxinc/errutil"
	_ "modernc.org/sqlite"

	"github.com/null2264/ziBot-new/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Database is the single owner of durable state. The prefix cache and the
// timer facility's current timer are rebuilt from it on cold start.
type Database struct {
	l       *slog.Logger
	db      *sql.DB
	builder sq.StatementBuilderType
}

func NewDatabase(l *slog.Logger, path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errutil.With(err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, errutil.With(err)
		}
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	cache := sq.NewStmtCache(db)
	database := Database{l: l, db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(cache)}

	if err := database.migrate(); err != nil {
		return nil, errutil.With(err)
	}

	return &database, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errutil.With(err)
	}

	drv, err := sqlitemigrate.WithInstance(db.db, &sqlitemigrate.Config{})
	if err != nil {
		return errutil.With(err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return errutil.With(err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errutil.With(err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return errutil.With(err)
	}

	db.l.Info("migrations applied", "version", version, "dirty", dirty)

	return nil
}

func (db *Database) Create(ctx context.Context, m models.Mappable) error {
	q := db.builder.
		Insert(string(m.Table())).
		SetMap(m.Map())

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (db *Database) Count(ctx context.Context, table models.Table, where sq.Eq) (int, error) {
	var count int

	q := db.builder.
		Select("COUNT(*)").
		From(string(table)).
		Where(where)

	if err := q.QueryRowContext(ctx).Scan(&count); err != nil {
		return count, errutil.With(err)
	}

	return count, nil
}

func (db *Database) GuildExists(ctx context.Context, id int64) (bool, error) {
	count, err := db.Count(ctx, models.TableGuilds, sq.Eq{"id": id})
	if err != nil {
		return false, errutil.With(err)
	}

	return count > 0, nil
}

func (db *Database) InsertGuild(ctx context.Context, id int64) error {
	q := db.builder.
		Insert(string(models.TableGuilds)).
		Options("OR IGNORE").
		Columns("id").
		Values(id)

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (db *Database) Prefixes(ctx context.Context) ([]models.Prefix, error) {
	q := db.builder.
		Select("guild_id", "prefix").
		From(string(models.TablePrefixes))

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer rows.Close()

	var prefixes []models.Prefix
	for rows.Next() {
		var p models.Prefix
		if err := rows.Scan(&p.GuildID, &p.Prefix); err != nil {
			return nil, errutil.With(err)
		}
		prefixes = append(prefixes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, errutil.With(err)
	}

	return prefixes, nil
}

func (db *Database) DeletePrefix(ctx context.Context, guildID int64, prefix string) (int64, error) {
	q := db.builder.
		Delete(string(models.TablePrefixes)).
		Where(sq.Eq{"guild_id": guildID, "prefix": prefix})

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

func (db *Database) CommandByName(ctx context.Context, guildID int64, name string) (*models.CustomCommand, error) {
	var c models.CustomCommand

	q := db.builder.
		Select("id", "guild_id", "name", "content", "uses", "owner_id", "created_at").
		From(string(models.TableCommands)).
		Where(sq.Eq{"guild_id": guildID, "name": name})

	if err := q.QueryRowContext(ctx).Scan(
		&c.ID,
		&c.GuildID,
		&c.Name,
		&c.Content,
		&c.Uses,
		&c.OwnerID,
		&c.CreatedAt,
	); err != nil {
		return nil, errutil.Wrap(err)
	}

	return &c, nil
}

func (db *Database) Commands(ctx context.Context, guildID int64) ([]models.CustomCommand, error) {
	q := db.builder.
		Select("id", "guild_id", "name", "content", "uses", "owner_id", "created_at").
		From(string(models.TableCommands)).
		Where(sq.Eq{"guild_id": guildID}).
		OrderBy("name ASC")

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer rows.Close()

	var commands []models.CustomCommand
	for rows.Next() {
		var c models.CustomCommand
		if err := rows.Scan(
			&c.ID,
			&c.GuildID,
			&c.Name,
			&c.Content,
			&c.Uses,
			&c.OwnerID,
			&c.CreatedAt,
		); err != nil {
			return nil, errutil.With(err)
		}
		commands = append(commands, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errutil.With(err)
	}

	return commands, nil
}

func (db *Database) IncrementCommandUses(ctx context.Context, id int64) error {
	q := db.builder.
		Update(string(models.TableCommands)).
		Set("uses", sq.Expr("uses + 1")).
		Where(sq.Eq{"id": id})

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

// NextTimer returns the earliest not-yet-fired timer, or nil when the timer
// table is empty.
func (db *Database) NextTimer(ctx context.Context) (*models.Timer, error) {
	var t models.Timer
	var extra string

	q := db.builder.
		Select("id", "event", "extra", "expires", "created", "owner").
		From(string(models.TableTimers)).
		OrderBy("expires ASC").
		Limit(1)

	if err := q.QueryRowContext(ctx).Scan(
		&t.ID,
		&t.Event,
		&extra,
		&t.Expires,
		&t.Created,
		&t.Owner,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errutil.With(err)
	}

	t.Extra = []byte(extra)

	return &t, nil
}

// ReplaceTimer atomically supersedes any existing timer with the same
// (event, owner) pair with the given one.
func (db *Database) ReplaceTimer(ctx context.Context, t models.Timer) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return errutil.With(err)
	}
	defer tx.Rollback()

	if _, err := tx.DeleteTimersByOwners(ctx, t.Event, []int64{t.Owner}); err != nil {
		return errutil.With(err)
	}

	if err := tx.InsertTimer(ctx, t); err != nil {
		return errutil.With(err)
	}

	if err := tx.Commit(); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (db *Database) DeleteTimer(ctx context.Context, id string) error {
	q := db.builder.
		Delete(string(models.TableTimers)).
		Where(sq.Eq{"id": id})

	if _, err := q.ExecContext(ctx); err != nil {
		return errutil.With(err)
	}

	return nil
}

func (db *Database) DeleteTimersByOwner(ctx context.Context, event string, owner int64) (int64, error) {
	q := db.builder.
		Delete(string(models.TableTimers)).
		Where(sq.Eq{"event": event, "owner": owner})

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
