package main

import (
	"log"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/null2264/ziBot-new/internal/bot"
)

type Conf struct {
	Debug        bool    `env:"DEBUG"`
	Token        string  `env:"BOT_TOKEN,required"`
	Intents      int     `env:"BOT_INTENTS" envDefault:"32509"`
	DatabasePath string  `env:"DATABASE_PATH" envDefault:"data/zibot.db"`
	RedisURL     string  `env:"REDIS_URL"`
	Prefix       string  `env:"BOT_PREFIX" envDefault:">"`
	PrefixLimit  int     `env:"PREFIX_LIMIT" envDefault:"15"`
	GuildDelDays int     `env:"GUILD_DEL_DAYS" envDefault:"30"`
	Masters      []int64 `env:"BOT_MASTERS" envSeparator:","`
	ShardID      int     `env:"SHARD_ID" envDefault:"0"`
	ShardCount   int     `env:"SHARD_COUNT" envDefault:"1"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	var conf Conf
	if err := env.Parse(&conf); err != nil {
		panic(err)
	}

	bot, err := bot.NewBot(bot.Config{
		Debug:        conf.Debug,
		Token:        conf.Token,
		Intents:      conf.Intents,
		DatabasePath: conf.DatabasePath,
		RedisURL:     conf.RedisURL,
		Prefix:       conf.Prefix,
		PrefixLimit:  conf.PrefixLimit,
		GuildDelDays: conf.GuildDelDays,
		Masters:      conf.Masters,
		ShardID:      conf.ShardID,
		ShardCount:   conf.ShardCount,
	})
	if err != nil {
		panic(err)
	}
	defer bot.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
}
