package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/arcforge/arcforge"
	"github.com/arcforge/arcforge/internal/monitoring"
)

func main() {
	cfg, err := arcforge.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	srv, err := arcforge.NewServer(cfg, TicTacToe{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", cfg.Addr).Msg("starting tic-tac-toe server")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}
