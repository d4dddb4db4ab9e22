package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sksarvesh007/gpuflow/internal/bus"
	"github.com/sksarvesh007/gpuflow/internal/config"
	"github.com/sksarvesh007/gpuflow/internal/dispatch"
	"github.com/sksarvesh007/gpuflow/internal/queue"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

func main() {
	log.Println("Initializing gpuflow dispatcher...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// The event bus is always Redis, regardless of the work-queue
	// backend: the gateways subscribe there.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	consumer, err := newConsumer(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("init work queue: %v", err)
	}

	dispatcher := dispatch.New(st, bus.NewPublisher(redisClient, cfg.EventChannel), cfg.ClaimRetries)
	pool := dispatch.NewPool(consumer, dispatcher, cfg.DispatchConcurrency)

	pool.Run(ctx)

	log.Println("Dispatcher shut down gracefully.")
}

func newConsumer(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (queue.Consumer, error) {
	switch cfg.QueueBackend {
	case config.BackendSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return queue.NewSQSManager(sqs.NewFromConfig(awsCfg), cfg.DispatchQueue), nil
	default:
		return queue.NewRedisManager(redisClient, cfg.DispatchQueue), nil
	}
}
