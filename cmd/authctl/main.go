// Command authctl runs operator tasks against the auth database: migrations,
// ledger housekeeping for cron, and bootstrap users.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Anthony-Michael/replyrocket-auth/internal/admin"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/config"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/repomanager"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		if errors.Is(err, admin.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if name, _ := admin.Split(args); name == "" {
		admin.Usage(os.Stderr)
		return fmt.Errorf("%w: no command given", admin.ErrUsage)
	}

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	db, err := repomanager.OpenPostgres(ctx, cfg.DatabaseDSN, repomanager.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	core := server.NewCore(cfg, db, rm, timex.SystemClock{}, logger)

	return admin.Run(ctx, admin.Deps{
		Sessions:     core.Sessions,
		Migrate:      func(ctx context.Context) error { return rm.RunMigrations(ctx, db) },
		Out:          os.Stdout,
		Password:     admin.PromptPassword,
		EphemeralKey: cfg.SecretGenerated,
	}, args)
}
