package models

type Table string

const (
	TableGuilds   Table = "guilds"
	TablePrefixes Table = "prefixes"
	TableCommands Table = "commands"
	TableTimers   Table = "timer"
)

type Mappable interface {
	Table() Table
	Map() map[string]any
}
