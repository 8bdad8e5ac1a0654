package bot

import (
	"errors"
	"fmt"
	"strings"

	dg "github.com/bwmarrin/discordgo"
	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/prefix"
	"github.com/null2264/ziBot-new/internal/resolver"
	"github.com/null2264/ziBot-new/internal/utils"
)

var (
	errGuildOnly  = errors.New("command is only available in servers")
	errMasterOnly = errors.New("command is restricted to bot masters")
)

type pingCommand struct {
	b *Bot
}

func (c *pingCommand) Name() string { return "ping" }

func (c *pingCommand) CheckPermission(ctx *resolver.Context) error { return nil }

func (c *pingCommand) Run(ctx *resolver.Context) error {
	return c.b.r.Reply(ctx.Message, fmt.Sprintf("Pong! (%s)", ctx.Session.HeartbeatLatency()))
}

// prefixCommand is the user-facing surface of the prefix cache: `prefix`
// lists, `prefix add <p>` and `prefix rm <p>` mutate.
type prefixCommand struct {
	b *Bot
}

func (c *prefixCommand) Name() string { return "prefix" }

func (c *prefixCommand) CheckPermission(ctx *resolver.Context) error {
	if ctx.GuildID == 0 {
		return errGuildOnly
	}
	return nil
}

func (c *prefixCommand) Run(ctx *resolver.Context) error {
	sub, rest := splitArg(ctx.Class.Args)

	switch sub {
	case "", "list":
		return c.b.r.Reply(ctx.Message, c.b.formattedPrefixes(ctx.GuildID))
	case "add", "+":
		return c.add(ctx, rest)
	case "rm", "remove", "-":
		return c.remove(ctx, rest)
	default:
		return c.b.r.Fail(ctx.Message, utils.Failure{
			Type:    utils.ErrBadInput,
			Message: fmt.Sprintf("Unknown subcommand `%s`, expected `list`, `add` or `rm`", sub),
		})
	}
}

func (c *prefixCommand) add(ctx *resolver.Context, arg string) error {
	if !c.canManage(ctx) {
		return c.b.r.Fail(ctx.Message, utils.Failure{
			Type:    utils.ErrNotAllowed,
			Message: "You need the Manage Server permission to change prefixes",
		})
	}

	added, err := c.b.prefixes.Add(ctx.Ctx, ctx.GuildID, arg)
	if err != nil {
		switch {
		case errors.Is(err, prefix.ErrEmpty), errors.Is(err, prefix.ErrLimit), errors.Is(err, prefix.ErrExists):
			return c.b.r.Fail(ctx.Message, utils.Failure{
				Type:    utils.ErrBadInput,
				Message: err.Error(),
			})
		default:
			return errutil.With(err)
		}
	}

	return c.b.r.Reply(ctx.Message, fmt.Sprintf("Prefix `%s` added", added))
}

func (c *prefixCommand) remove(ctx *resolver.Context, arg string) error {
	if !c.canManage(ctx) {
		return c.b.r.Fail(ctx.Message, utils.Failure{
			Type:    utils.ErrNotAllowed,
			Message: "You need the Manage Server permission to change prefixes",
		})
	}

	removed, err := c.b.prefixes.Remove(ctx.Ctx, ctx.GuildID, arg)
	if err != nil {
		if errors.Is(err, prefix.ErrNotFound) {
			return c.b.r.Fail(ctx.Message, utils.Failure{
				Type:    utils.ErrNotFound,
				Message: fmt.Sprintf("Prefix `%s` does not exist", arg),
			})
		}
		return errutil.With(err)
	}

	return c.b.r.Reply(ctx.Message, fmt.Sprintf("Prefix `%s` removed", removed))
}

func (c *prefixCommand) canManage(ctx *resolver.Context) bool {
	if c.b.isMaster(ctx.AuthorID) {
		return true
	}

	perms, err := ctx.Session.UserChannelPermissions(ctx.Message.Author.ID, ctx.Message.ChannelID)
	if err != nil {
		return false
	}

	return perms&dg.PermissionManageServer != 0
}

// blacklistCommand is the master-only surface of the deny lists:
// `blacklist <guild|user> <add|rm> <id>`. Non-masters never see it; the
// permission probe fails and dispatch moves on to the custom-command path.
type blacklistCommand struct {
	b *Bot
}

func (c *blacklistCommand) Name() string { return "blacklist" }

func (c *blacklistCommand) CheckPermission(ctx *resolver.Context) error {
	if !c.b.isMaster(ctx.AuthorID) {
		return errMasterOnly
	}
	return nil
}

func (c *blacklistCommand) Run(ctx *resolver.Context) error {
	msg, failure, err := c.apply(ctx)
	if err != nil {
		return errutil.With(err)
	}
	if failure != nil {
		return c.b.r.Fail(ctx.Message, *failure)
	}

	return c.b.r.Reply(ctx.Message, msg)
}

func (c *blacklistCommand) apply(ctx *resolver.Context) (string, *utils.Failure, error) {
	kind, rest := splitArg(ctx.Class.Args)
	action, rawID := splitArg(rest)

	usage := utils.Failure{
		Type:    utils.ErrBadInput,
		Message: "Expected `blacklist <guild|user> <add|rm> <id>`",
	}

	id := utils.ParseSnowflake(rawID)
	if id == 0 {
		return "", &usage, nil
	}

	var err error
	switch {
	case kind == "guild" && action == "add":
		err = c.b.blacklist.AddGuild(ctx.Ctx, id)
	case kind == "guild" && (action == "rm" || action == "remove"):
		err = c.b.blacklist.RemoveGuild(ctx.Ctx, id)
	case kind == "user" && action == "add":
		err = c.b.blacklist.AddUser(ctx.Ctx, id)
	case kind == "user" && (action == "rm" || action == "remove"):
		err = c.b.blacklist.RemoveUser(ctx.Ctx, id)
	default:
		return "", &usage, nil
	}
	if err != nil {
		return "", nil, errutil.With(err)
	}

	return fmt.Sprintf("Blacklist updated: `%s %s %d`", kind, action, id), nil, nil
}

func splitArg(args string) (string, string) {
	sub, rest, _ := strings.Cut(args, " ")
	return strings.ToLower(sub), strings.TrimSpace(rest)
}
