package workq

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config maps logical queue identifiers to underlying queue names and
// carries the connection parameters for the shared store. It is consumed
// once at startup by OpenQueues.
type Config struct {
	// Addr is the Redis host:port.
	Addr string

	// Password is the Redis password; empty means no auth.
	Password string

	// DB selects the Redis logical database.
	DB int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// Queues maps a logical identifier (how the application refers to a
	// queue) to the underlying queue name (the Redis key prefix).
	Queues map[string]string
}

// DefaultConfig returns a Config pointing at a local Redis with no
// queues configured.
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		Queues:      map[string]string{},
	}
}

// LoadConfig builds a Config from environment variables:
//
//	REDIS_ADDR      host:port (default localhost:6379)
//	REDIS_PASSWORD  auth password (default none)
//	REDIS_DB        logical database number (default 0)
//	WORKQ_QUEUES    comma-separated id=name pairs, e.g.
//	                "input=dicom_folders,results=dicom_results"
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = getEnv("REDIS_ADDR", cfg.Addr)
	cfg.Password = getEnv("REDIS_PASSWORD", "")
	cfg.DB = getInt("REDIS_DB", 0)

	for _, pair := range strings.Split(os.Getenv("WORKQ_QUEUES"), ",") {
		id, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || id == "" || name == "" {
			continue
		}
		cfg.Queues[id] = name
	}
	return cfg
}

// OpenQueues connects one shared client, verifies it with a ping, and
// returns a Queue per configured logical identifier. Every Queue gets its
// own session identifier; the client is shared.
func OpenQueues(ctx context.Context, cfg Config, opts ...Option) (map[string]*Queue, error) {
	if len(cfg.Queues) == 0 {
		return nil, ErrNoQueues
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("workq: open queues %s: %w", cfg.Addr, err)
	}

	queues := make(map[string]*Queue, len(cfg.Queues))
	for id, name := range cfg.Queues {
		queues[id] = New(client, name, opts...)
	}
	return queues, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
