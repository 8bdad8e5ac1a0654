package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	dg "github.com/bwmarrin/discordgo"
	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/metrics"
)

// Sentinels the custom-command executor must return for the two conditions
// that trigger fallback to a built-in. Anything else propagates.
var (
	ErrCustomNotFound   = errors.New("custom command not found")
	ErrCustomNotInGuild = errors.New("custom commands are only available in guilds")
)

// Context carries one classified message through dispatch.
type Context struct {
	Ctx      context.Context
	Session  *dg.Session
	Message  *dg.Message
	GuildID  int64
	AuthorID int64
	Class    Classification
}

// Builtin is a statically registered command. CheckPermission failures and
// evaluation errors alike mean "cannot run"; they are never propagated.
type Builtin interface {
	Name() string
	CheckPermission(ctx *Context) error
	Run(ctx *Context) error
}

// CustomExecutor is the entry point into the custom-command subsystem.
type CustomExecutor interface {
	Execute(ctx *Context, name, args string) error
}

// Resolver decides, per message, which command family runs and in what
// order, then dispatches.
type Resolver struct {
	l        *slog.Logger
	builtins *Registry
	custom   CustomExecutor
	metrics  *metrics.Metrics
}

func NewResolver(l *slog.Logger, builtins *Registry, custom CustomExecutor, m *metrics.Metrics) *Resolver {
	return &Resolver{
		l:        l,
		builtins: builtins,
		custom:   custom,
		metrics:  m,
	}
}

// Dispatch runs the classified command. Callers only reach it after
// Classify matched a prefix; the silent "not a command" exit happens before
// Dispatch and touches no counters. A dispatch that errors before either
// family ran touches no counters either.
func (r *Resolver) Dispatch(ctx *Context) error {
	c := ctx.Class

	var builtin Builtin
	canRun := false
	if b, ok := r.builtins.Lookup(c.Command); ok {
		builtin = b
		canRun = b.CheckPermission(ctx) == nil
	}

	customRan := false
	builtinRan := false
	defer func() {
		switch {
		case customRan:
			r.metrics.CustomCommandUsage.Add(1)
		case builtinRan:
			r.metrics.CommandUsage.Add(1)
		}
	}()

	runCustom := func() error {
		if err := r.custom.Execute(ctx, c.Command, c.Args); err != nil {
			return err
		}
		customRan = true
		return nil
	}

	runBuiltin := func() error {
		builtinRan = true
		if err := builtin.Run(ctx); err != nil {
			return errutil.With(err)
		}
		return nil
	}

	if canRun {
		if c.Priority == PriorityCustom {
			err := runCustom()
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrCustomNotFound) || errors.Is(err, ErrCustomNotInGuild) {
				// Revert to the built-in command.
				return runBuiltin()
			}
			return errutil.With(err)
		}

		// Priority is built-in and it can run; custom lookup is skipped
		// entirely.
		return runBuiltin()
	}

	// No runnable built-in: straight to the custom command, whatever the
	// priority. Its failure propagates; there is no further fallback.
	if err := runCustom(); err != nil {
		return errutil.With(err)
	}

	return nil
}

// Registry stores built-in commands by lowercased name.
type Registry struct {
	commands map[string]Builtin
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Builtin)}
}

func (r *Registry) Register(b Builtin) {
	r.commands[strings.ToLower(b.Name())] = b
}

func (r *Registry) Lookup(name string) (Builtin, bool) {
	b, ok := r.commands[strings.ToLower(name)]
	return b, ok
}
