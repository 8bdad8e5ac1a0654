// Package custom is the database-backed custom-command subsystem. The
// dispatch core only depends on its executor and list surfaces.
package custom

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/database"
	"github.com/null2264/ziBot-new/internal/models"
	"github.com/null2264/ziBot-new/internal/resolver"
	"github.com/null2264/ziBot-new/internal/response"
)

type Executor struct {
	l  *slog.Logger
	db *database.Database
	r  *response.Responder
}

func NewExecutor(l *slog.Logger, db *database.Database, r *response.Responder) *Executor {
	return &Executor{l: l, db: db, r: r}
}

// Execute runs the guild's custom command by name. Not-found and
// not-in-guild come back as the resolver's fallback sentinels; everything
// else is unexpected and propagates.
func (e *Executor) Execute(ctx *resolver.Context, name, args string) error {
	if ctx.GuildID == 0 {
		return resolver.ErrCustomNotInGuild
	}

	cmd, err := e.db.CommandByName(ctx.Ctx, ctx.GuildID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolver.ErrCustomNotFound
		}
		return errutil.With(err)
	}

	if err := e.r.Reply(ctx.Message, cmd.Content); err != nil {
		return errutil.With(err)
	}

	if err := e.db.IncrementCommandUses(ctx.Ctx, cmd.ID); err != nil {
		// The command already ran; a lost tally is not worth failing it.
		e.l.Warn("error incrementing command uses", "error", err, "command", cmd.ID)
	}

	return nil
}

// List returns every custom command owned by a guild. Cascade deletion
// walks this.
func (e *Executor) List(ctx context.Context, guildID int64) ([]models.CustomCommand, error) {
	return e.db.Commands(ctx, guildID)
}
