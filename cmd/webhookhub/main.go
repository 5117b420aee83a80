package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"webhookhub/internal/admin"
	"webhookhub/internal/backoff"
	"webhookhub/internal/breaker"
	"webhookhub/internal/broker"
	"webhookhub/internal/config"
	"webhookhub/internal/consumer"
	"webhookhub/internal/db"
	"webhookhub/internal/dedupe"
	"webhookhub/internal/deliveryclient"
	"webhookhub/internal/ingest"
	"webhookhub/internal/logging"
	"webhookhub/internal/migrate"
	"webhookhub/internal/ratelimit"
	"webhookhub/internal/retention"
	"webhookhub/internal/store"
)

func main() {
	logger := logging.New("webhookhub")

	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL, int32(cfg.Prefetch*2+5))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer database.Close()

	applied, err := migrate.Apply(ctx, database.Pool)
	if err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if len(applied) > 0 {
		logger.KV("migrations_applied", "names", applied)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	conn, ch, err := broker.Dial(cfg.AMQPURL())
	if err != nil {
		log.Fatalf("broker dial: %v", err)
	}
	defer conn.Close()
	defer ch.Close()

	pgxStore := store.New(database.Pool)
	publisher := broker.NewPublisher(ch)

	switch cfg.Role {
	case "api":
		runAPI(ctx, cfg, logger, database, pgxStore, publisher, rdb)
	case "worker":
		go retention.Run(ctx, database.Pool, logger.With("component", "retention"))
		runWorker(ctx, cfg, logger, ch, pgxStore, rdb, publisher)
	default:
		fmt.Println("unknown ROLE", cfg.Role)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger logging.Logger, database *db.DB, pgxStore *store.PgxStore, publisher *broker.Publisher, rdb *redis.Client) {
	pipeline := &ingest.Pipeline{
		Sources:      pgxStore,
		Destinations: pgxStore,
		Events:       pgxStore,
		Deliveries:   pgxStore,
		Publisher:    publisher,
		Dedupe:       dedupe.New(rdb),
		Logger:       logger.With("component", "ingest"),
	}

	mux := http.NewServeMux()
	ingest.NewHandler(pipeline, logger.With("component", "http")).Routes(mux)
	admin.NewServer(database.Pool, logger.With("component", "admin"), cfg.AdminToken).Routes(mux)

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.KV("api_listen", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %v", err)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger logging.Logger, ch *amqp.Channel, pgxStore *store.PgxStore, rdb *redis.Client, publisher *broker.Publisher) {
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		log.Fatalf("set qos: %v", err)
	}
	deliveries, err := ch.Consume(broker.MainQueue, "webhookhub-worker", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	c := &consumer.Consumer{
		Publisher:   publisher,
		Deliveries:  pgxStore,
		Destination: pgxStore,
		Poster:      deliveryclient.New(time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond),
		Limiter:     ratelimit.New(rdb),
		Breaker:     breaker.New(pgxStore),
		Backoff:     backoff.Policy{BaseDelayMS: int64(cfg.BaseDelayMS), MaxDelayMS: backoff.Default().MaxDelayMS},
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger.With("component", "consumer"),
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx, deliveries); err != nil && ctx.Err() == nil {
				logger.Error("consumer_run_failed", "error", err)
			}
		}()
	}
	logger.KV("worker_start", "prefetch", cfg.Prefetch)
	wg.Wait()
}
