// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	"github.com/rapidaai/listen/pkg/commons"
)

const (
	sonioxEndpoint = "wss://api.soniox.com/transcribe-websocket"
	sonioxModel    = "en_v2_lowlatency"
)

// sonioxConfig is the first frame on the socket; audio follows as binary.
type sonioxConfig struct {
	APIKey                    string   `json:"api_key"`
	Model                     string   `json:"model"`
	SampleRateHertz           int      `json:"sample_rate_hertz"`
	IncludeNonfinal           bool     `json:"include_nonfinal"`
	EnableEndpointDetection   bool     `json:"enable_endpoint_detection"`
	EnableSpeakerDiarization  bool     `json:"enable_streaming_speaker_diarization"`
	EnableSpeakerIdentication bool     `json:"enable_speaker_identification"`
	CandidateSpeakerNames     []string `json:"cand_speaker_names,omitempty"`
}

type sonioxWord struct {
	Text        string `json:"t"`
	StartMs     int    `json:"s"`
	DurationMs  int    `json:"d"`
	Speaker     int    `json:"spk"`
	SpeakerName string `json:"spk_name,omitempty"`
}

type sonioxResponse struct {
	FinalWords []sonioxWord `json:"fw"`
}

type sonioxUpstream struct {
	mu         sync.Mutex
	logger     commons.Logger
	connection *websocket.Conn
	closed     bool
	uid        string
	identify   bool
	onSegments SegmentCallback
}

// NewSonioxUpstream opens a diarized Soniox stream. The uid is offered as a
// candidate speaker name only when speaker identification is enabled, which
// requires an enrolled speech profile.
func NewSonioxUpstream(
	ctx context.Context,
	logger commons.Logger,
	apiKey string,
	opts Options,
	onSegments SegmentCallback,
) (Upstream, error) {
	connection, _, err := websocket.DefaultDialer.DialContext(ctx, sonioxEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("soniox-stt: failed to connect: %w", err)
	}

	config := sonioxConfig{
		APIKey:                   apiKey,
		Model:                    sonioxModel,
		SampleRateHertz:          opts.SampleRate,
		IncludeNonfinal:          false,
		EnableEndpointDetection:  true,
		EnableSpeakerDiarization: true,
	}
	if opts.UID != "" {
		config.EnableSpeakerIdentication = true
		config.CandidateSpeakerNames = []string{opts.UID}
	}
	if err := connection.WriteJSON(config); err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("soniox-stt: failed to send config: %w", err)
	}

	upstream := &sonioxUpstream{
		logger:     logger,
		connection: connection,
		uid:        opts.UID,
		identify:   opts.UID != "",
		onSegments: onSegments,
	}
	go upstream.listen(ctx)

	logger.Infof("soniox-stt: stream open, model=%s, sample_rate=%d, identify=%v",
		sonioxModel, opts.SampleRate, upstream.identify)
	return upstream, nil
}

func (s *sonioxUpstream) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("soniox-stt: context cancelled, stopping response listener")
			return
		default:
			_, msg, err := s.connection.ReadMessage()
			if err != nil {
				if !s.isClosed() {
					s.logger.Error("soniox-stt: error reading from Soniox WebSocket: ", err)
				}
				return
			}
			var resp sonioxResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				s.logger.Warnf("soniox-stt: unreadable response: %v", err)
				continue
			}
			if segments := s.wordsToSegments(resp.FinalWords); len(segments) > 0 {
				s.onSegments(segments)
			}
		}
	}
}

// wordsToSegments groups consecutive same-speaker final words. A word whose
// identified speaker name matches the session uid belongs to the user.
func (s *sonioxUpstream) wordsToSegments(words []sonioxWord) []internal_transcript.Segment {
	var segments []internal_transcript.Segment
	for _, word := range words {
		if word.Text == "" || word.Text == "<end>" {
			continue
		}
		start := float64(word.StartMs) / 1000.0
		end := float64(word.StartMs+word.DurationMs) / 1000.0
		isUser := s.identify && word.SpeakerName == s.uid
		label := internal_transcript.SpeakerLabel(word.Speaker)

		if n := len(segments); n > 0 && segments[n-1].Speaker == label && segments[n-1].IsUser == isUser {
			segments[n-1].Text += " " + word.Text
			segments[n-1].End = end
			continue
		}
		segments = append(segments, internal_transcript.Segment{
			Text:      word.Text,
			Speaker:   label,
			SpeakerID: word.Speaker,
			IsUser:    isUser,
			Start:     start,
			End:       end,
		})
	}
	return internal_transcript.CleanAll(segments)
}

func (s *sonioxUpstream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("soniox-stt: stream is closed")
	}
	if err := s.connection.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("soniox-stt: failed to send audio: %w", err)
	}
	return nil
}

func (s *sonioxUpstream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Empty binary frame tells Soniox the stream is complete.
	_ = s.connection.WriteMessage(websocket.BinaryMessage, nil)
	if err := s.connection.Close(); err != nil {
		return fmt.Errorf("soniox-stt: error closing WebSocket connection: %w", err)
	}
	s.logger.Info("soniox-stt: stream finalized")
	return nil
}

func (s *sonioxUpstream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
