// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/listen/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-audio"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type fakeDetector struct {
	calls   [][]float32
	verdict []bool
	err     error
}

func (f *fakeDetector) HasSpeech(samples []float32) (bool, error) {
	f.calls = append(f.calls, samples)
	if f.err != nil {
		return false, f.err
	}
	verdict := f.verdict[0]
	if len(f.verdict) > 1 {
		f.verdict = f.verdict[1:]
	}
	return verdict, nil
}

func (f *fakeDetector) Close() error { return nil }

// --- Gate Tests ---

func TestGateSplitsIntoSubSamples16k(t *testing.T) {
	detector := &fakeDetector{verdict: []bool{false}}
	gate := NewGate(detector, 16000, newTestLogger(t))

	// 800 bytes → three windows of 320 (last zero padded).
	assert.False(t, gate.Allow(make([]byte, 800)))
	assert.Len(t, detector.calls, 3)
	for _, call := range detector.calls {
		assert.Len(t, call, 160)
	}
}

func TestGateSubSampleSize8k(t *testing.T) {
	detector := &fakeDetector{verdict: []bool{false}}
	gate := NewGate(detector, 8000, newTestLogger(t))

	assert.False(t, gate.Allow(make([]byte, 320)))
	assert.Len(t, detector.calls, 2)
	for _, call := range detector.calls {
		assert.Len(t, call, 80)
	}
}

func TestGateShortCircuitsOnFirstSpeech(t *testing.T) {
	detector := &fakeDetector{verdict: []bool{false, true, false}}
	gate := NewGate(detector, 16000, newTestLogger(t))

	assert.True(t, gate.Allow(make([]byte, 960)))
	assert.Len(t, detector.calls, 2)
}

func TestGateZeroPadsShortWindow(t *testing.T) {
	detector := &fakeDetector{verdict: []bool{false}}
	gate := NewGate(detector, 16000, newTestLogger(t))

	assert.False(t, gate.Allow(make([]byte, 100)))
	assert.Len(t, detector.calls, 1)
	assert.Len(t, detector.calls[0], 160)
}

func TestGateFailsOpenOnDetectorError(t *testing.T) {
	detector := &fakeDetector{err: errors.New("model gone")}
	gate := NewGate(detector, 16000, newTestLogger(t))

	assert.True(t, gate.Allow(make([]byte, 320)))
}

// --- PCM Conversion Tests ---

func TestPcmToFloat32Range(t *testing.T) {
	// int16 min, zero, and a positive sample.
	pcm := []byte{0x00, 0x80, 0x00, 0x00, 0xff, 0x7f}
	samples := pcmToFloat32(pcm)
	assert.Len(t, samples, 3)
	assert.InDelta(t, -1.0, samples[0], 1e-6)
	assert.InDelta(t, 0.0, samples[1], 1e-6)
	assert.InDelta(t, 1.0, samples[2], 1e-3)
}
