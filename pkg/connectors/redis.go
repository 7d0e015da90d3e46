// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/configs"
)

// RedisConnector exposes the shared per-user cache client. Each key is
// written only by the session owning that uid, so no cross-session locking
// is layered on top of the client.
type RedisConnector interface {
	Client() *redis.Client
	Ping(ctx context.Context) error
	Close() error
}

type redisConnector struct {
	client *redis.Client
	logger commons.Logger
}

// NewRedisConnector builds a connector from config and verifies connectivity.
func NewRedisConnector(ctx context.Context, cfg configs.RedisConfig, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	connector := &redisConnector{client: client, logger: logger}
	if err := connector.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis connector: %w", err)
	}
	logger.Infof("redis connector ready on %s", cfg.Addr())
	return connector, nil
}

func (rc *redisConnector) Client() *redis.Client {
	return rc.client
}

func (rc *redisConnector) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("unable to reach redis: %w", err)
	}
	return nil
}

func (rc *redisConnector) Close() error {
	return rc.client.Close()
}
