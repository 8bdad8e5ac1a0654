package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	dg "github.com/bwmarrin/discordgo"
	"github.com/graxinc/errutil"

	"github.com/null2264/ziBot-new/internal/blacklist"
	"github.com/null2264/ziBot-new/internal/custom"
	"github.com/null2264/ziBot-new/internal/database"
	"github.com/null2264/ziBot-new/internal/lifecycle"
	"github.com/null2264/ziBot-new/internal/metrics"
	"github.com/null2264/ziBot-new/internal/prefix"
	"github.com/null2264/ziBot-new/internal/resolver"
	"github.com/null2264/ziBot-new/internal/response"
	"github.com/null2264/ziBot-new/internal/timer"
	"github.com/null2264/ziBot-new/internal/utils"
)

type Config struct {
	Debug        bool
	Token        string
	Intents      int
	DatabasePath string
	RedisURL     string
	Prefix       string
	PrefixLimit  int
	GuildDelDays int
	Masters      []int64
	ShardID      int
	ShardCount   int
}

type Bot struct {
	ctx    context.Context
	cancel context.CancelFunc

	l *slog.Logger
	s *dg.Session
	d *database.Database
	r *response.Responder

	prefixes  *prefix.Cache
	timers    *timer.Facility
	lifecycle *lifecycle.Manager
	resolver  *resolver.Resolver
	blacklist *blacklist.Blacklist
	metrics   *metrics.Metrics

	masters map[int64]struct{}

	mentionOnce sync.Once
	mention     *regexp.Regexp
}

func NewBot(conf Config) (*Bot, error) {
	b := Bot{
		masters: make(map[int64]struct{}, len(conf.Masters)),
		metrics: metrics.New(),
	}
	for _, id := range conf.Masters {
		b.masters[id] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.ctx = ctx
	b.cancel = cancel

	if conf.Debug {
		b.l = slog.Default()
	} else {
		b.l = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}

	database, err := database.NewDatabase(b.l, conf.DatabasePath)
	if err != nil {
		cancel()
		return nil, errutil.With(err)
	}
	b.d = database

	session, err := dg.New("Bot " + conf.Token)
	if err != nil {
		cancel()
		return nil, errutil.With(err)
	}
	b.s = session

	b.s.Identify.Intents = dg.Intent(conf.Intents)
	b.s.ShardID = conf.ShardID
	b.s.ShardCount = conf.ShardCount

	b.r = response.NewSessionResponder(b.s, b.l)

	b.prefixes = prefix.NewCache(b.d, conf.Prefix, conf.PrefixLimit)
	if err := b.prefixes.Load(b.ctx); err != nil {
		cancel()
		return nil, errutil.With(err)
	}

	bl, err := blacklist.New(conf.RedisURL, b.l)
	if err != nil {
		cancel()
		return nil, errutil.With(err)
	}
	b.blacklist = bl
	if err := b.blacklist.Load(b.ctx); err != nil {
		b.l.Warn("error loading blacklist, starting empty", "error", err)
	}

	executor := custom.NewExecutor(b.l, b.d, b.r)

	registry := resolver.NewRegistry()
	registry.Register(&pingCommand{b: &b})
	registry.Register(&prefixCommand{b: &b})
	registry.Register(&blacklistCommand{b: &b})

	b.resolver = resolver.NewResolver(b.l, registry, executor, b.metrics)

	b.timers = timer.NewFacility(b.l, b.d)
	b.lifecycle = lifecycle.NewManager(b.l, b.d, b.timers, &b, executor, conf.GuildDelDays)

	b.s.AddHandler(func(s *dg.Session, r *dg.Ready) {
		b.l.Info("bot connected to gateway",
			"bot", fmt.Sprintf("%s#%s", r.User.Username, r.User.Discriminator),
			"guilds", len(s.State.Guilds),
			"shard_id", conf.ShardID,
			"shard_count", conf.ShardCount,
		)

		if err := b.lifecycle.Reconcile(b.ctx); err != nil {
			b.l.Error("error reconciling guilds", "error", err)
		}
	})

	b.s.AddHandler(func(s *dg.Session, m *dg.MessageCreate) { b.handleMessage(s, m) })
	b.s.AddHandler(func(s *dg.Session, g *dg.GuildCreate) { b.handleGuildCreate(g) })
	b.s.AddHandler(func(s *dg.Session, g *dg.GuildDelete) { b.handleGuildDelete(g) })

	go b.timers.Run(b.ctx)

	if err := b.s.Open(); err != nil {
		cancel()
		return nil, errutil.With(err)
	}

	return &b, nil
}

func (b *Bot) Close() {
	defer b.s.Close()
	defer b.d.Close()
	defer b.blacklist.Close()

	b.cancel()
}

// GuildIDs reports current live membership from session state. It backs
// both reconciliation and the rejoin re-check on deletion timers.
func (b *Bot) GuildIDs() []int64 {
	b.s.State.RLock()
	defer b.s.State.RUnlock()

	ids := make([]int64, 0, len(b.s.State.Guilds))
	for _, g := range b.s.State.Guilds {
		if id := utils.ParseSnowflake(g.ID); id != 0 {
			ids = append(ids, id)
		}
	}

	return ids
}

func (b *Bot) handleMessage(s *dg.Session, m *dg.MessageCreate) {
	if m.Author == nil || m.Author.Bot || s.State.User == nil {
		return
	}

	guildID := utils.ParseSnowflake(m.GuildID)
	authorID := utils.ParseSnowflake(m.Author.ID)

	if b.blacklist.IsBlocked(guildID, authorID) && !b.isMaster(authorID) {
		return
	}

	botID := s.State.User.ID

	// A bare mention gets the prefix list.
	if b.mentionPattern(botID).MatchString(strings.TrimSpace(m.Content)) {
		if err := b.r.Reply(m.Message, b.formattedPrefixes(guildID)); err != nil {
			b.l.Error("error sending prefix list", "error", err)
		}
		return
	}

	var prefixes []string
	if guildID == 0 {
		prefixes = b.prefixes.EffectiveDM(botID)
	} else {
		prefixes = b.prefixes.Effective(botID, guildID)
	}

	class, ok := resolver.Classify(m.Content, prefixes)
	if !ok {
		// Not a command. The single most common path; no logging, no
		// counters.
		return
	}

	rctx := &resolver.Context{
		Ctx:      b.ctx,
		Session:  s,
		Message:  m.Message,
		GuildID:  guildID,
		AuthorID: authorID,
		Class:    class,
	}

	if err := b.resolver.Dispatch(rctx); err != nil {
		b.reportError(m.Message, class, err)
	}
}

func (b *Bot) handleGuildCreate(g *dg.GuildCreate) {
	if id := utils.ParseSnowflake(g.ID); id != 0 {
		if err := b.lifecycle.HandleJoin(b.ctx, id); err != nil {
			b.l.Error("error handling guild join", "error", err, "guild", g.ID)
		}
	}
}

func (b *Bot) handleGuildDelete(g *dg.GuildDelete) {
	if g.Unavailable {
		// Gateway outage, not a removal.
		return
	}

	if id := utils.ParseSnowflake(g.ID); id != 0 {
		if err := b.lifecycle.HandleLeave(b.ctx, id); err != nil {
			b.l.Error("error handling guild leave", "error", err, "guild", g.ID)
		}
	}
}

func (b *Bot) reportError(m *dg.Message, class resolver.Classification, err error) {
	var failure utils.Failure
	switch {
	case errors.Is(err, resolver.ErrCustomNotFound):
		failure = utils.Failure{
			Type:    utils.ErrNotFound,
			Message: fmt.Sprintf("No command called `%s`", class.Command),
		}
	case errors.Is(err, resolver.ErrCustomNotInGuild):
		failure = utils.Failure{
			Type:    utils.ErrBadInput,
			Message: "Custom commands are only available in servers",
		}
	default:
		b.l.Error("error dispatching command", "error", err, "command", class.Command)
		failure = utils.Failure{
			Type:    utils.ErrInternal,
			Message: fmt.Sprintf("Failed to run `%s`", class.Command),
			Data:    map[string]any{"error": err.Error()},
		}
	}

	if err := b.r.Fail(m, failure); err != nil {
		b.l.Error("error reporting failure", "error", err)
	}
}

func (b *Bot) isMaster(id int64) bool {
	_, ok := b.masters[id]
	return ok
}

func (b *Bot) mentionPattern(botID string) *regexp.Regexp {
	b.mentionOnce.Do(func() {
		b.mention = regexp.MustCompile(fmt.Sprintf("^<@!?%s>$", regexp.QuoteMeta(botID)))
	})

	return b.mention
}

func (b *Bot) formattedPrefixes(guildID int64) string {
	result := fmt.Sprintf("My default prefixes are `%s` or %s", b.prefixes.Default(), b.mentionString())

	custom := b.prefixes.Guild(guildID)
	if len(custom) > 0 {
		quoted := make([]string, len(custom))
		for i, p := range custom {
			quoted[i] = fmt.Sprintf("`%s`", p)
		}
		result += "\n\nCustom prefixes: " + strings.Join(quoted, ", ")
	}

	return result
}

func (b *Bot) mentionString() string {
	if b.s.State.User == nil {
		return "@me"
	}
	return b.s.State.User.Mention()
}
