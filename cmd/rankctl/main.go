// Command rankctl runs sync, refresh and user administration against the
// configured store without the HTTP server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	app "github.com/dundeezhang/UWGitRank/internal/app"
	"github.com/dundeezhang/UWGitRank/internal/config"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

var version = "v0.0.1-default"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Stderr.WriteString("failed to read .env: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.InitWithWriter(os.Stderr, false); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(openService).Run(ctx, os.Args); err != nil {
		logger.Get().Error(ctx, "fatal error", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// openService loads configuration and starts a service without the
// periodic sync loop.
func openService(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}
	cfg.SyncIntervalSec = 0
	cfg.SyncWorkers = 1

	svc := app.New(cfg)
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}
