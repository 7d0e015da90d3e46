// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_speechprofile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/listen/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-speechprofile"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

// buildWav renders a minimal PCM16 mono RIFF payload of the given length.
func buildWav(t *testing.T, sampleRate, seconds int) []byte {
	t.Helper()
	byteRate := sampleRate * 2
	dataSize := byteRate * seconds
	wav := make([]byte, 44+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1)
	binary.LittleEndian.PutUint16(wav[22:24], 1)
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], 2)
	binary.LittleEndian.PutUint16(wav[34:36], 16)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	return wav
}

// --- Duration Tests ---

func TestWavDuration(t *testing.T) {
	seconds, err := WavDuration(buildWav(t, 16000, 7))
	require.NoError(t, err)
	assert.InDelta(t, 7.0, seconds, 1e-9)
}

func TestWavDurationRejectsGarbage(t *testing.T) {
	_, err := WavDuration([]byte("definitely not a wav"))
	assert.Error(t, err)

	_, err = WavDuration(nil)
	assert.Error(t, err)
}

// --- Storage Tests ---

func TestGetAddsDispatchPad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user-1.wav"), buildWav(t, 16000, 7), 0o644))

	storage := NewStorage(dir, newTestLogger(t))
	profile, err := storage.Get("user-1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.InDelta(t, 12.0, profile.Duration, 1e-9)
	assert.NotEmpty(t, profile.Audio)
}

func TestGetMissingProfileIsNil(t *testing.T) {
	storage := NewStorage(t.TempDir(), newTestLogger(t))
	profile, err := storage.Get("nobody")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestGetCorruptProfileIsNil(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user-2.wav"), []byte("broken"), 0o644))

	storage := NewStorage(dir, newTestLogger(t))
	profile, err := storage.Get("user-2")
	require.NoError(t, err)
	assert.Nil(t, profile)
}
