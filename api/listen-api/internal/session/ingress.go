// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"

	"github.com/gorilla/websocket"
)

// ingress consumes binary frames from the client, normalizes them to PCM,
// gates silence, and dispatches to the STT upstreams and the audio fan-out.
func (s *Session) ingress(ctx context.Context) {
	for s.Active() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.Shutdown(websocket.CloseGoingAway)
			} else {
				s.logger.Warnf("session: client read failed for uid=%s: %v", s.uid, err)
				s.Shutdown(websocket.CloseInternalServerErr)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		pcm, err := s.decodeFrame(frame)
		if err != nil {
			s.logger.Errorf("session: frame decode failed for uid=%s: %v", s.uid, err)
			s.Shutdown(websocket.CloseInternalServerErr)
			return
		}

		// Fan-out receives decoded PCM for every frame regardless of the VAD
		// verdict; downstream consumers expect audio at the advertised rate.
		s.relay.EnqueueAudio(pcm)

		if s.gate != nil && !s.gate.Allow(pcm) {
			continue
		}

		elapsed := s.clock().Sub(s.startedAt).Seconds()
		if err := s.upstreams.Dispatch(elapsed, pcm); err != nil {
			// Transient upstream failures never fail the session.
			s.logger.Warnf("session: stt send failed for uid=%s: %v", s.uid, err)
		}
	}
}

// decodeFrame normalizes one client frame to PCM16-LE. Opus is decoded only
// at 16kHz; other opus variants pass untouched.
func (s *Session) decodeFrame(frame []byte) ([]byte, error) {
	if s.params.Codec == "opus" && s.params.SampleRate == 16000 && s.decoder != nil {
		return s.decoder.Decode(frame)
	}
	return frame, nil
}
