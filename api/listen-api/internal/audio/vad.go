// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/rapidaai/listen/pkg/commons"
)

// Detector decides whether a PCM window contains speech.
type Detector interface {
	HasSpeech(samples []float32) (bool, error)
	Close() error
}

type sileroDetector struct {
	mu         sync.Mutex
	detector   *speech.Detector
	windowSize int
}

// NewSileroDetector loads the silero onnx model for the session sample rate.
// Silero accepts 512-sample windows at 16kHz and 256-sample windows at 8kHz.
func NewSileroDetector(modelPath string, sampleRate int) (Detector, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create silero detector: %w", err)
	}
	windowSize := 512
	if sampleRate == 8000 {
		windowSize = 256
	}
	return &sileroDetector{detector: detector, windowSize: windowSize}, nil
}

func (d *sileroDetector) HasSpeech(samples []float32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rem := len(samples) % d.windowSize; rem != 0 {
		padded := make([]float32, len(samples)+d.windowSize-rem)
		copy(padded, samples)
		samples = padded
	}
	segments, err := d.detector.Detect(samples)
	if err != nil {
		return false, fmt.Errorf("failed to run vad detection: %w", err)
	}
	// Each packet is judged in isolation.
	if err := d.detector.Reset(); err != nil {
		return false, fmt.Errorf("failed to reset vad detector: %w", err)
	}
	return len(segments) > 0, nil
}

func (d *sileroDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Destroy()
}

// Gate drops silent packets before they reach the primary STT upstream. It
// splits each decoded packet into short sub-samples and forwards the whole
// packet as soon as any sub-sample trips the detector.
type Gate struct {
	detector      Detector
	subSampleSize int
	logger        commons.Logger
}

// NewGate sizes the sub-sample window to 10ms of PCM16: 320 bytes at 16kHz,
// 160 bytes at 8kHz.
func NewGate(detector Detector, sampleRate int, logger commons.Logger) *Gate {
	subSampleSize := 320
	if sampleRate == 8000 {
		subSampleSize = 160
	}
	return &Gate{detector: detector, subSampleSize: subSampleSize, logger: logger}
}

// Allow reports whether the packet carries speech. Detector failures fail
// open so a broken model never silences a live session.
func (g *Gate) Allow(pcm []byte) bool {
	for offset := 0; offset < len(pcm); offset += g.subSampleSize {
		end := offset + g.subSampleSize
		if end > len(pcm) {
			end = len(pcm)
		}
		window := make([]byte, g.subSampleSize)
		copy(window, pcm[offset:end])

		speechFound, err := g.detector.HasSpeech(pcmToFloat32(window))
		if err != nil {
			g.logger.Warnf("vad detection failed, passing packet through: %v", err)
			return true
		}
		if speechFound {
			return true
		}
	}
	return false
}

// Close releases the underlying detector.
func (g *Gate) Close() error {
	return g.detector.Close()
}

func pcmToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}
