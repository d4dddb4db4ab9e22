package config

import (
	"os"
	"strconv"
)

// Queue backend selectors for GPUFLOW_QUEUE_BACKEND.
const (
	BackendRedis = "redis"
	BackendSQS   = "sqs"
)

// Config holds everything the three daemons read from the environment.
// All fields have working defaults for a single-host dev setup.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueBackend picks the dispatch work-queue implementation.
	// "redis" consumes a Redis list; "sqs" long-polls an SQS queue,
	// in which case DispatchQueue is the queue URL.
	QueueBackend  string
	DispatchQueue string

	// EventChannel is the pub/sub channel dispatch events travel on.
	EventChannel string

	DBPath string

	APIAddr     string
	GatewayAddr string

	DispatchConcurrency int
	ClaimRetries        int
}

// Load assembles a Config from the environment. Missing variables fall
// back to defaults; no variable is required.
func Load() *Config {
	return &Config{
		RedisAddr:           getenv("REDIS_HOST", "localhost") + ":" + getenv("REDIS_PORT", "6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getenvInt("REDIS_DB", 0),
		QueueBackend:        getenv("GPUFLOW_QUEUE_BACKEND", BackendRedis),
		DispatchQueue:       getenv("GPUFLOW_DISPATCH_QUEUE", "gpuflow:dispatch"),
		EventChannel:        getenv("GPUFLOW_EVENT_CHANNEL", "gpu_events"),
		DBPath:              getenv("GPUFLOW_DB_PATH", "gpuflow.db"),
		APIAddr:             getenv("GPUFLOW_API_ADDR", ":8000"),
		GatewayAddr:         getenv("GPUFLOW_GATEWAY_ADDR", ":8001"),
		DispatchConcurrency: getenvInt("GPUFLOW_DISPATCH_CONCURRENCY", 5),
		ClaimRetries:        getenvInt("GPUFLOW_CLAIM_RETRIES", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
