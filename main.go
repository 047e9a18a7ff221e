// Package main is the entry point for the Watchtower monitoring service.
package main

import (
	"context"
	"fmt"
	"os"

	"watchtower/bootstrap"
	"watchtower/cmd"
	"watchtower/config"
)

// run initializes and starts the long-running monitoring service.
func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := bootstrap.InitLogger()
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	app, err := bootstrap.NewApp(ctx, cfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	// Operator subcommands run one-shot and exit; everything else starts
	// the server.
	if len(os.Args) > 1 && cmd.IsCLICommand(os.Args[1]) {
		if err := cmd.NewOpsCmd().Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
