package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/config"
	"github.com/simonbegg/todo/storage"
)

func main() {
	config.SetupLogging(log.StandardLogger())
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx := context.Background()
	if err := storage.CreateTables(ctx, connStr, []string{
		os.Getenv("TASKS_TABLE"),
		os.Getenv("USERS_TABLE"),
	}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, connStr, []string{os.Getenv("CHANGES_QUEUE")}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}
