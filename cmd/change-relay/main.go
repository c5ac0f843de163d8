package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/config"
	"github.com/simonbegg/todo/relay"
	"github.com/simonbegg/todo/storage"
)

func main() {
	logger := log.StandardLogger()
	config.SetupLogging(logger)

	cfg, err := config.Require("STORAGE_CONNECTION_STRING", "CHANGES_QUEUE", "REDIS_CONNECTION_STRING")
	if err != nil {
		log.Fatal(err)
	}
	poll, err := config.Duration("RELAY_POLL_INTERVAL", relay.DefaultPollInterval)
	if err != nil {
		log.Fatal(err)
	}

	queue, err := storage.NewQueueFeed(cfg["STORAGE_CONNECTION_STRING"], cfg["CHANGES_QUEUE"])
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	redisOpts, err := config.RedisOptions(cfg["REDIS_CONNECTION_STRING"])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := storage.NewRedisFeed(rc, config.Getenv("CHANGES_CHANNEL", "todo-changes"), logger)
	relay.New(queue, sink, logger, poll).Run(ctx)
	logger.Info("change relay stopped")
}
