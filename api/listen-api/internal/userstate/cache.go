// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_userstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

// Geolocation is the client-reported position cached by the mobile app's
// location updates; the relay only reads it at finalization time.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Cache is the short-term shared per-user state. Each key is written only by
// the session owning that uid; writes are atomic per key.
type Cache interface {
	// GetInProgressConversationID returns the cached in-progress conversation
	// id for the uid, or "" when none is cached.
	GetInProgressConversationID(ctx context.Context, uid string) (string, error)

	// SetInProgressConversationID records the in-progress conversation id.
	SetInProgressConversationID(ctx context.Context, uid, conversationID string) error

	// GetGeolocation returns the cached user geolocation, or nil.
	GetGeolocation(ctx context.Context, uid string) (*Geolocation, error)

	// GetAudioBytesWebhookSeconds returns the configured audio-bytes webhook
	// period for the uid; 0 means no webhook.
	GetAudioBytesWebhookSeconds(ctx context.Context, uid string) (int, error)

	// IsAudioBytesAppEnabled reports whether an audio-bytes consumer app is
	// enabled for the uid.
	IsAudioBytesAppEnabled(ctx context.Context, uid string) (bool, error)
}

const (
	inProgressKeyFormat   = "users:%s:in_progress_memory_id"
	geolocationKeyFormat  = "users:%s:geolocation"
	audioWebhookKeyFormat = "users:%s:audio_bytes_webhook_seconds"
	audioAppKeyFormat     = "users:%s:audio_bytes_app_enabled"
)

type redisCache struct {
	redis  connectors.RedisConnector
	logger commons.Logger
}

// NewCache creates the redis-backed per-user state cache.
func NewCache(redisConnector connectors.RedisConnector, logger commons.Logger) Cache {
	return &redisCache{redis: redisConnector, logger: logger}
}

func (c *redisCache) GetInProgressConversationID(ctx context.Context, uid string) (string, error) {
	id, err := c.redis.Client().Get(ctx, fmt.Sprintf(inProgressKeyFormat, uid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read in-progress conversation id for %s: %w", uid, err)
	}
	return id, nil
}

func (c *redisCache) SetInProgressConversationID(ctx context.Context, uid, conversationID string) error {
	err := c.redis.Client().Set(ctx, fmt.Sprintf(inProgressKeyFormat, uid), conversationID, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to cache in-progress conversation id for %s: %w", uid, err)
	}
	return nil
}

func (c *redisCache) GetGeolocation(ctx context.Context, uid string) (*Geolocation, error) {
	raw, err := c.redis.Client().Get(ctx, fmt.Sprintf(geolocationKeyFormat, uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geolocation for %s: %w", uid, err)
	}
	var geolocation Geolocation
	if err := json.Unmarshal(raw, &geolocation); err != nil {
		return nil, fmt.Errorf("illegal cached geolocation for %s: %w", uid, err)
	}
	return &geolocation, nil
}

func (c *redisCache) GetAudioBytesWebhookSeconds(ctx context.Context, uid string) (int, error) {
	seconds, err := c.redis.Client().Get(ctx, fmt.Sprintf(audioWebhookKeyFormat, uid)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read audio-bytes webhook seconds for %s: %w", uid, err)
	}
	return seconds, nil
}

func (c *redisCache) IsAudioBytesAppEnabled(ctx context.Context, uid string) (bool, error) {
	enabled, err := c.redis.Client().Get(ctx, fmt.Sprintf(audioAppKeyFormat, uid)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read audio-bytes app flag for %s: %w", uid, err)
	}
	return enabled, nil
}
