// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package connectors builds the handles to external systems the gateway
// depends on. Today that is a single Redis deployment backing the worker
// affinity binding store; additional connectors follow the same
// construct-once-at-startup, hand-down-by-interface shape.
package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/streamgateway/internal/config"
)

// RedisConnector is the narrow surface the binding store needs. Keeping it
// an interface (rather than handing out *redis.Client directly) lets tests
// substitute go-redis/redismock without reaching into the real driver.
// Ping is inherited from redis.Cmdable (it returns *redis.StatusCmd; callers
// needing a plain error call Ping(ctx).Err()).
type RedisConnector interface {
	redis.Cmdable
	Close() error
}

type redisConnector struct {
	redis.Cmdable
	client *redis.Client
}

// NewRedisConnector dials the configured Redis instance. Dialing is lazy in
// go-redis (the TCP connection is opened on first command), so Ping is
// called here to fail fast at startup instead of on the first session.
func NewRedisConnector(ctx context.Context, cfg *config.AppConfig) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	return &redisConnector{Cmdable: client, client: client}, nil
}

func (r *redisConnector) Close() error {
	return r.client.Close()
}
