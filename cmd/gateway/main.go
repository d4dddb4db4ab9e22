package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sksarvesh007/gpuflow/internal/bus"
	"github.com/sksarvesh007/gpuflow/internal/config"
	"github.com/sksarvesh007/gpuflow/internal/gateway"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

func main() {
	log.Println("Initializing gpuflow gateway...")

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	registry := gateway.NewRegistry()
	bridge := gateway.NewBridge(bus.NewSubscriber(redisClient, cfg.EventChannel), registry)

	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("bridge stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /ws/machine/{auth_token}", gateway.NewHandler(st, registry))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`+"\n", registry.Len())
	})

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Gateway listening on %s", cfg.GatewayAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}

	log.Println("Gateway shut down gracefully.")
}
