package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/chatauth/internal/authctl/cli"
	"github.com/dmitrijs2005/chatauth/internal/authctl/config"
	"github.com/dmitrijs2005/chatauth/internal/authctl/session"
	"github.com/dmitrijs2005/chatauth/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	cfg, args, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		return 2
	}

	sessions, err := session.Open(ctx, cfg.SessionDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authctl: open session: %v\n", err)
		return 1
	}
	defer sessions.Close()

	logger := logging.New(logging.EnvProduction, os.Stderr).With("app", "authctl")
	app := cli.NewApp(cfg, sessions, os.Stdin, os.Stdout, os.Stderr, logger)
	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		return 1
	}
	return 0
}
