package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sksarvesh007/gpuflow/internal/api"
	"github.com/sksarvesh007/gpuflow/internal/config"
	"github.com/sksarvesh007/gpuflow/internal/queue"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

func main() {
	log.Println("Initializing gpuflow API server...")

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

	producer, err := newProducer(ctx, cfg)
	if err != nil {
		log.Fatalf("init work queue: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: api.NewServer(st, producer),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("API server listening on %s", cfg.APIAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}

	log.Println("API server shut down gracefully.")
}

func newProducer(ctx context.Context, cfg *config.Config) (queue.Producer, error) {
	switch cfg.QueueBackend {
	case config.BackendSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return queue.NewSQSManager(sqs.NewFromConfig(awsCfg), cfg.DispatchQueue), nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return queue.NewRedisManager(client, cfg.DispatchQueue), nil
	}
}
