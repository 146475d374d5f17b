package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/nonceserver"
	"github.com/dmitrijs2005/chatauth/internal/nonceserver/config"
	"go.uber.org/multierr"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.Env, os.Stdout)

	app, err := nonceserver.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if err := multierr.Append(app.Run(ctx), app.Close()); err != nil {
		logger.Error(ctx, "shutdown with error", "error", err)
		os.Exit(1)
	}
}
