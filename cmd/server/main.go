package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/internal/server"
	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger/console"
)

func main() {
	configPath := flag.String("config", "compass.toml", "path to the TOML configuration file")
	flag.Parse()

	util.LoadEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{}))
		logger.Fatal("Failed to load configuration", "err", err)
	}

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Init(ctx, cfg)
}
