package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/compass/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/internal/queue"
	"github.com/OFFIS-RIT/compass/backend/internal/storage"
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

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}
	bundles := storage.NewBucket(s3Client, cfg.S3.Bucket)
	logger.Info("Reading report bundles", "bucket", bundles.Name())

	aiClient, err := bootstrap.AIClient(cfg.AI)
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	st, err := bootstrap.Store(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer st.Close()

	p, err := bootstrap.Pipeline(cfg, st, aiClient)
	if err != nil {
		logger.Fatal("Could not build pipeline", "err", err)
	}

	// Replicas sharing one postgres database take turns on the pipeline.
	hostname, _ := os.Hostname()
	locker, closeLocker, err := bootstrap.Locker(ctx, cfg.Database, hostname)
	if err != nil {
		logger.Fatal("Could not create job lock", "err", err)
	}
	defer closeLocker()

	handler := queue.NewHandler(p, bundles)
	if locker != nil {
		handler.WithLocker(locker)
	}

	// Init rabbitmq
	conn, err := queue.Connect(ctx, cfg.Queue)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	logger.Info("Listening for messages")
	worker := queue.NewWorker(handler, ch, aiClient)
	if err := worker.Run(ctx, consumerCh, queue.Queues); err != nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
