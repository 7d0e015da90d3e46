// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// opusFrameSamples is the per-packet decode window. Clients send one opus
// packet per websocket message sized for this frame.
const opusFrameSamples = 160

// Decoder turns a client audio message into PCM16-LE suitable for the STT
// upstream and the VAD gate. For PCM codecs it is the identity.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

type passthroughDecoder struct{}

// NewPassthroughDecoder handles pcm8/pcm16 input, which arrives already in
// the upstream wire format.
func NewPassthroughDecoder() Decoder {
	return passthroughDecoder{}
}

func (passthroughDecoder) Decode(packet []byte) ([]byte, error) {
	return packet, nil
}

type opusDecoder struct {
	decoder *opus.Decoder
	pcm     []int16
}

// NewOpusDecoder creates a mono opus decoder for the session sample rate.
func NewOpusDecoder(sampleRate int) (Decoder, error) {
	decoder, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &opusDecoder{
		decoder: decoder,
		pcm:     make([]int16, opusFrameSamples),
	}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.decoder.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus packet: %w", err)
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.pcm[i]))
	}
	return out, nil
}
