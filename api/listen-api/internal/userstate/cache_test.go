// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_userstate

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/listen/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-userstate"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type mockRedisConnector struct {
	client *redis.Client
}

func (m *mockRedisConnector) Client() *redis.Client          { return m.client }
func (m *mockRedisConnector) Ping(ctx context.Context) error { return nil }
func (m *mockRedisConnector) Close() error                   { return m.client.Close() }

func newMockCache(t *testing.T) (Cache, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	cache := NewCache(&mockRedisConnector{client: client}, newTestLogger(t))
	return cache, mock
}

// --- Conversation ID Tests ---

func TestGetInProgressConversationID(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:in_progress_memory_id").SetVal("conv-9")

	id, err := cache.GetInProgressConversationID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInProgressConversationIDMissing(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:in_progress_memory_id").RedisNil()

	id, err := cache.GetInProgressConversationID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSetInProgressConversationID(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectSet("users:u1:in_progress_memory_id", "conv-9", 0).SetVal("OK")

	require.NoError(t, cache.SetInProgressConversationID(context.Background(), "u1", "conv-9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Geolocation Tests ---

func TestGetGeolocation(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:geolocation").SetVal(`{"latitude":12.97,"longitude":77.59}`)

	geolocation, err := cache.GetGeolocation(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, geolocation)
	assert.InDelta(t, 12.97, geolocation.Latitude, 1e-9)
	assert.InDelta(t, 77.59, geolocation.Longitude, 1e-9)
}

func TestGetGeolocationMissing(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:geolocation").RedisNil()

	geolocation, err := cache.GetGeolocation(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, geolocation)
}

func TestGetGeolocationCorrupt(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:geolocation").SetVal("not-json")

	_, err := cache.GetGeolocation(context.Background(), "u1")
	assert.Error(t, err)
}

// --- Audio Fan-out Eligibility Tests ---

func TestGetAudioBytesWebhookSeconds(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:audio_bytes_webhook_seconds").SetVal("30")

	seconds, err := cache.GetAudioBytesWebhookSeconds(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, seconds)
}

func TestGetAudioBytesWebhookSecondsMissing(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:audio_bytes_webhook_seconds").RedisNil()

	seconds, err := cache.GetAudioBytesWebhookSeconds(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, seconds)
}

func TestIsAudioBytesAppEnabled(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:audio_bytes_app_enabled").SetVal("1")

	enabled, err := cache.IsAudioBytesAppEnabled(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestIsAudioBytesAppEnabledMissing(t *testing.T) {
	cache, mock := newMockCache(t)
	mock.ExpectGet("users:u1:audio_bytes_app_enabled").RedisNil()

	enabled, err := cache.IsAudioBytesAppEnabled(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, enabled)
}
