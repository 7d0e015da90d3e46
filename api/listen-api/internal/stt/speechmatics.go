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
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	"github.com/rapidaai/listen/pkg/commons"
)

const speechmaticsEndpoint = "wss://eu2.rt.speechmatics.com/v2"

type speechmaticsAudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type speechmaticsTranscriptionConfig struct {
	Language       string  `json:"language"`
	Diarization    string  `json:"diarization"`
	EnablePartials bool    `json:"enable_partials"`
	OperatingPoint string  `json:"operating_point"`
	MaxDelay       float64 `json:"max_delay"`
}

type speechmaticsStartRecognition struct {
	Message             string                          `json:"message"`
	AudioFormat         speechmaticsAudioFormat         `json:"audio_format"`
	TranscriptionConfig speechmaticsTranscriptionConfig `json:"transcription_config"`
}

type speechmaticsResult struct {
	Type         string  `json:"type"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Alternatives []struct {
		Content string `json:"content"`
		Speaker string `json:"speaker"`
	} `json:"alternatives"`
}

type speechmaticsMessage struct {
	Message string               `json:"message"`
	Reason  string               `json:"reason,omitempty"`
	Results []speechmaticsResult `json:"results,omitempty"`
}

type speechmaticsUpstream struct {
	mu         sync.Mutex
	logger     commons.Logger
	connection *websocket.Conn
	closed     bool
	seqNo      int
	preSeconds float64
	onSegments SegmentCallback
}

// NewSpeechmaticsUpstream opens a diarized realtime stream. PreSeconds marks
// the speech profile window pushed ahead of live audio; words inside it are
// dropped and the rest rebased, mirroring the Deepgram profile handling.
func NewSpeechmaticsUpstream(
	ctx context.Context,
	logger commons.Logger,
	apiKey string,
	opts Options,
	onSegments SegmentCallback,
) (Upstream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	connection, _, err := websocket.DefaultDialer.DialContext(ctx, speechmaticsEndpoint, header)
	if err != nil {
		return nil, fmt.Errorf("speechmatics-stt: failed to connect: %w", err)
	}

	start := speechmaticsStartRecognition{
		Message: "StartRecognition",
		AudioFormat: speechmaticsAudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: opts.SampleRate,
		},
		TranscriptionConfig: speechmaticsTranscriptionConfig{
			Language:       opts.Language,
			Diarization:    "speaker",
			EnablePartials: false,
			OperatingPoint: "enhanced",
			MaxDelay:       3,
		},
	}
	if err := connection.WriteJSON(start); err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("speechmatics-stt: failed to start recognition: %w", err)
	}

	upstream := &speechmaticsUpstream{
		logger:     logger,
		connection: connection,
		preSeconds: opts.PreSeconds,
		onSegments: onSegments,
	}
	go upstream.listen(ctx)

	logger.Infof("speechmatics-stt: stream open, language=%s, sample_rate=%d, preseconds=%.1f",
		opts.Language, opts.SampleRate, opts.PreSeconds)
	return upstream, nil
}

func (s *speechmaticsUpstream) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("speechmatics-stt: context cancelled, stopping response listener")
			return
		default:
			_, msg, err := s.connection.ReadMessage()
			if err != nil {
				if !s.isClosed() {
					s.logger.Error("speechmatics-stt: error reading from Speechmatics WebSocket: ", err)
				}
				return
			}
			var resp speechmaticsMessage
			if err := json.Unmarshal(msg, &resp); err != nil {
				s.logger.Warnf("speechmatics-stt: unreadable response: %v", err)
				continue
			}
			switch resp.Message {
			case "AddTranscript":
				if segments := s.resultsToSegments(resp.Results); len(segments) > 0 {
					s.onSegments(segments)
				}
			case "Error":
				s.logger.Errorf("speechmatics-stt: upstream error: %s", resp.Reason)
			}
		}
	}
}

// resultsToSegments groups consecutive same-speaker words, dropping profile
// window words and rebasing the survivors onto the live clock. The first
// diarized speaker is the enrolled user when a profile was pushed.
func (s *speechmaticsUpstream) resultsToSegments(results []speechmaticsResult) []internal_transcript.Segment {
	var segments []internal_transcript.Segment
	for _, result := range results {
		if result.Type != "word" || len(result.Alternatives) == 0 {
			continue
		}
		if result.EndTime <= s.preSeconds {
			continue
		}
		alt := result.Alternatives[0]
		start := result.StartTime - s.preSeconds
		if start < 0 {
			start = 0
		}
		end := result.EndTime - s.preSeconds
		isUser := s.preSeconds > 0 && alt.Speaker == "S1"

		if n := len(segments); n > 0 && segments[n-1].Speaker == alt.Speaker {
			segments[n-1].Text += " " + alt.Content
			segments[n-1].End = end
			continue
		}
		segments = append(segments, internal_transcript.Segment{
			Text:      alt.Content,
			Speaker:   alt.Speaker,
			SpeakerID: internal_transcript.SpeakerID(alt.Speaker),
			IsUser:    isUser,
			Start:     start,
			End:       end,
		})
	}
	return internal_transcript.CleanAll(segments)
}

func (s *speechmaticsUpstream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speechmatics-stt: stream is closed")
	}
	if err := s.connection.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("speechmatics-stt: failed to send audio: %w", err)
	}
	s.seqNo++
	return nil
}

func (s *speechmaticsUpstream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	endOfStream := map[string]interface{}{
		"message":     "EndOfStream",
		"last_seq_no": s.seqNo,
	}
	_ = s.connection.WriteJSON(endOfStream)
	if err := s.connection.Close(); err != nil {
		return fmt.Errorf("speechmatics-stt: error closing WebSocket connection: %w", err)
	}
	s.logger.Info("speechmatics-stt: stream finalized")
	return nil
}

func (s *speechmaticsUpstream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
