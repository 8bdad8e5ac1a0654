package models

// Guild is a row in the guilds table. A row exists for every guild the bot
// has ever joined until the deferred-deletion timer purges it.
type Guild struct {
	ID int64
}

func (g Guild) Map() map[string]any {
	return map[string]any{
		"id": g.ID,
	}
}

func (g Guild) Table() Table {
	return TableGuilds
}
