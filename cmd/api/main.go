package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	api "voice-summarizer/internal/api"
	"voice-summarizer/internal/blob"
	"voice-summarizer/internal/config"
	"voice-summarizer/internal/queue"
	"voice-summarizer/internal/ratelimit"
	"voice-summarizer/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	blobs, err := blob.NewS3Store(ctx, cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, q, blobs, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
