// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	"github.com/rapidaai/listen/pkg/commons"
)

type deepgramUpstream struct {
	mu     sync.Mutex
	logger commons.Logger
	client *listenClient.WSCallback
	closed bool
}

// deepgramCallback routes transcript messages into the session callback,
// converting diarized words into segments and applying the speech profile
// window.
type deepgramCallback struct {
	*websocketv1api.DefaultCallbackHandler
	logger     commons.Logger
	preSeconds float64
	onSegments SegmentCallback
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	segments := wordsToSegments(mr.Channel.Alternatives[0].Words, c.preSeconds)
	if len(segments) > 0 {
		c.onSegments(segments)
	}
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Errorf("deepgram-stt: upstream error: %+v", er)
	return nil
}

// wordsToSegments groups consecutive same-speaker diarized words into
// segments. Words ending inside the profile window are enrollment audio and
// are dropped; survivors shift back by the window so timestamps restart at
// the live audio boundary. Speaker 0 is the enrolled user whenever a profile
// was pushed.
func wordsToSegments(words []msginterfaces.Word, preSeconds float64) []internal_transcript.Segment {
	var segments []internal_transcript.Segment
	for _, word := range words {
		if word.End <= preSeconds {
			continue
		}

		speaker := 0
		if word.Speaker != nil {
			speaker = *word.Speaker
		}
		text := word.PunctuatedWord
		if text == "" {
			text = word.Word
		}
		start := word.Start - preSeconds
		if start < 0 {
			start = 0
		}
		end := word.End - preSeconds

		label := internal_transcript.SpeakerLabel(speaker)
		if n := len(segments); n > 0 && segments[n-1].Speaker == label {
			segments[n-1].Text += " " + text
			segments[n-1].End = end
			continue
		}
		segments = append(segments, internal_transcript.Segment{
			Text:      text,
			Speaker:   label,
			SpeakerID: speaker,
			IsUser:    speaker == 0 && preSeconds > 0,
			Start:     start,
			End:       end,
		})
	}
	return segments
}

// NewDeepgramUpstream opens a diarized live transcription stream.
func NewDeepgramUpstream(
	ctx context.Context,
	logger commons.Logger,
	apiKey string,
	model string,
	opts Options,
	onSegments SegmentCallback,
) (Upstream, error) {
	tOptions := &clientinterfaces.LiveTranscriptionOptions{
		Model:      model,
		Language:   opts.Language,
		SampleRate: opts.SampleRate,
		Channels:   opts.Channels,
		// Opus packets are decoded session-side before reaching the stream,
		// so every codec arrives here as PCM16-LE.
		Encoding:       "linear16",
		Punctuate:      true,
		SmartFormat:    true,
		Diarize:        true,
		InterimResults: false,
		Endpointing:    "100",
	}
	cOptions := &clientinterfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	callback := &deepgramCallback{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		logger:                 logger,
		preSeconds:             opts.PreSeconds,
		onSegments:             onSegments,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, apiKey, cOptions, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("deepgram-stt: failed to create client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("deepgram-stt: failed to connect")
	}

	logger.Infof("deepgram-stt: stream open, model=%s, language=%s, sample_rate=%d",
		model, opts.Language, opts.SampleRate)
	return &deepgramUpstream{logger: logger, client: client}, nil
}

func (d *deepgramUpstream) Send(audio []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("deepgram-stt: stream is closed")
	}
	if _, err := d.client.Write(audio); err != nil {
		return fmt.Errorf("deepgram-stt: failed to send audio: %w", err)
	}
	return nil
}

func (d *deepgramUpstream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.client.Finish()
	d.logger.Info("deepgram-stt: stream finalized")
	return nil
}
