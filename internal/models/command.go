package models

import "time"

// CustomCommand is a per-guild, user-authored command. The core only needs
// enough of it to execute by name, count uses, and cascade-delete with the
// owning guild.
type CustomCommand struct {
	ID        int64
	GuildID   int64
	Name      string
	Content   string
	Uses      int
	OwnerID   int64
	CreatedAt time.Time
}

func (c CustomCommand) Map() map[string]any {
	return map[string]any{
		"guild_id":   c.GuildID,
		"name":       c.Name,
		"content":    c.Content,
		"uses":       c.Uses,
		"owner_id":   c.OwnerID,
		"created_at": c.CreatedAt,
	}
}

func (c CustomCommand) Table() Table {
	return TableCommands
}
