package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"voice-summarizer/internal/blob"
	"voice-summarizer/internal/config"
	"voice-summarizer/internal/queue"
	"voice-summarizer/internal/store"
	"voice-summarizer/internal/summarize"
	"voice-summarizer/internal/telemetry"
	"voice-summarizer/internal/transcribe"
	workerproc "voice-summarizer/internal/worker"
	"voice-summarizer/internal/workflow"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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
	transcriber, err := transcribe.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init transcribe client: %v", err)
	}
	summarizer, err := summarize.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init summarize client: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewRedisQueueWithClient(redisClient, cfg.LeaseTTL)
	lock := queue.NewExecLock(redisClient, cfg.LeaseTTL)

	engine := workflow.NewEngine(st, blobs, transcriber, summarizer, cfg)
	runner := workerproc.NewRunner(cfg, q, lock, st, engine)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with poll_interval=%s attempt_limit=%d", cfg.PollInterval, cfg.MaxPollAttempts)
	if err := runner.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
