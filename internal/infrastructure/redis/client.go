// Package redis holds the go-redis backed job locker and notification publisher.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// Config locates the redis server. URL wins over Addr when both are set.
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// NewClient builds a client and checks connectivity.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	var opts *goredis.Options
	if url := strings.TrimSpace(cfg.URL); url != "" {
		parsed, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
