package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"storyfold/internal/bot"
	"storyfold/internal/config"
	"storyfold/internal/game"
	"storyfold/internal/gateway"
	"storyfold/internal/store"
	"storyfold/internal/store/memory"
	"storyfold/internal/store/postgres"
	"storyfold/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err.Error())
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tg, err := gateway.NewTelegram(cfg.BotToken, cfg.Debug)
	if err != nil {
		return err
	}

	svc := game.NewService(st, tg, game.DefaultQuestions, cfg.Timeout())
	b := bot.New(tg, bot.NewRouter(svc))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("[Bot] Started polling...")
	return b.Run(ctx)
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return postgres.Connect(cfg.DatabaseURL)
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	case "memory":
		log.Println("[DB] Using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
