// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsResolve(t *testing.T) {
	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "listen-api", cfg.Name)
	assert.Equal(t, 9098, cfg.Port)
	assert.Equal(t, "nova-2-general", cfg.DeepgramModel)
	assert.True(t, cfg.SttForceDeepgram)
	assert.Equal(t, "ws://localhost:8990", cfg.PusherHost)
	assert.Equal(t, "http://localhost:8991", cfg.MemoryHost)
	assert.Equal(t, "profiles", cfg.SpeechProfileDir)
	assert.Equal(t, "models/silero_vad.onnx", cfg.VadModelPath)
	assert.False(t, cfg.NoSocketTimeout)
	assert.Equal(t, "localhost", cfg.PostgresConfig.Host)
	assert.Equal(t, 6379, cfg.RedisConfig.Port)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STT_FORCE_DEEPGRAM", "false")

	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.False(t, cfg.SttForceDeepgram)
}
