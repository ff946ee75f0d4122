package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqarfund/aqar/internal/app"
	"github.com/aqarfund/aqar/internal/platform/db"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [up|down|status]\n", os.Args[0])
	}
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	switch command {
	case "up":
		err = db.Migrate(ctx, pool)
	case "down":
		err = db.MigrateDown(ctx, pool)
	case "status":
		err = db.MigrationStatus(ctx, pool)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrate finished", slog.String("command", command))
}
