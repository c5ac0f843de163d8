package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/api"
	"github.com/simonbegg/todo/config"
	"github.com/simonbegg/todo/storage"
)

const (
	defaultChangesChannel = "todo-changes"
	localIssuer           = "todo-api"
)

func main() {
	logger := log.StandardLogger()
	config.SetupLogging(logger)

	cfg, err := config.Require("STORAGE_CONNECTION_STRING", "TASKS_TABLE", "USERS_TABLE", "REDIS_CONNECTION_STRING")
	if err != nil {
		log.Fatal(err)
	}
	cacheTTL, err := config.Duration("TASKS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	dedupeTTL, err := config.Duration("DEDUPER_TTL", 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}

	store, err := storage.New(cfg["STORAGE_CONNECTION_STRING"], cfg["TASKS_TABLE"], cfg["USERS_TABLE"])
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(cfg["REDIS_CONNECTION_STRING"])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	feed := storage.NewRedisFeed(rc, config.Getenv("CHANGES_CHANNEL", defaultChangesChannel), logger)
	var publisher api.ChangePublisher = feed
	if queueName := os.Getenv("CHANGES_QUEUE"); queueName != "" {
		queue, err := storage.NewQueueFeed(cfg["STORAGE_CONNECTION_STRING"], queueName)
		if err != nil {
			log.Fatalf("changes queue: %v", err)
		}
		publisher = queue
		logger.WithField("queue", queueName).Info("publishing changes through queue")
	}

	deps := api.Deps{
		Tasks:   storage.NewCache(store, rc, cacheTTL),
		Changes: publisher,
		Hub:     api.NewHub(),
		Deduper: api.NewRedisDeduper(rc, dedupeTTL),
		Logger:  logger,
	}
	auth, err := newAuth()
	if err != nil {
		log.Fatal(err)
	}
	deps.Auth = auth
	if len(auth.LocalSecret) > 0 {
		deps.Accounts = store
		deps.Issuer = auth
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go feed.Listen(ctx, deps.Hub.Broadcast)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	}))
	api.Register(e, deps)

	listenAddr := ":" + config.Getenv("LISTEN_PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

// newAuth prefers a local HS256 secret and falls back to an external JWKS.
func newAuth() (*api.Auth, error) {
	tokenTTL, err := config.Duration("TOKEN_TTL", api.DefaultTokenTTL)
	if err != nil {
		return nil, err
	}
	if secret := os.Getenv("LOCAL_AUTH_SECRET"); secret != "" {
		return api.NewLocalAuth([]byte(secret), localIssuer, tokenTTL), nil
	}

	audience := os.Getenv("AUTH_AUDIENCE")
	domain := os.Getenv("AUTH_DOMAIN")
	if audience == "" || domain == "" {
		return nil, errors.New("missing auth config: set LOCAL_AUTH_SECRET or AUTH_DOMAIN and AUTH_AUDIENCE")
	}
	keyTTL, err := config.Duration("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL)
	if err != nil {
		return nil, err
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, audience, "https://"+domain+"/", keyTTL), nil
}
