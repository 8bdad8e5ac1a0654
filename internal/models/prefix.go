package models

// Prefix is a custom command prefix owned by exactly one guild. The
// (guild_id, prefix) pair is unique; the default prefix is never stored.
type Prefix struct {
	GuildID int64
	Prefix  string
}

func (p Prefix) Map() map[string]any {
	return map[string]any{
		"guild_id": p.GuildID,
		"prefix":   p.Prefix,
	}
}

func (p Prefix) Table() Table {
	return TablePrefixes
}
