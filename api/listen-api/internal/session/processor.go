// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
)

// processor drains the segment buffer every tick, rebases timestamps onto
// the conversation clock, coalesces, emits, and persists. It keeps running
// after shutdown until the buffer is empty so no in-flight segment is lost.
func (s *Session) processor(ctx context.Context) {
	ticker := time.NewTicker(processorTick)
	defer ticker.Stop()

	for {
		if !s.Active() && s.bufferEmpty() {
			return
		}
		select {
		case <-ctx.Done():
			if s.bufferEmpty() {
				return
			}
		case <-ticker.C:
		}

		batch := s.drainSegments()
		if len(batch) == 0 {
			continue
		}
		if err := s.processBatch(ctx, batch); err != nil {
			// Per-tick failures are logged; the loop continues.
			s.logger.Errorf("session: transcript tick failed for uid=%s: %v", s.uid, err)
		}
	}
}

func (s *Session) processBatch(ctx context.Context, batch []internal_transcript.Segment) error {
	batch = internal_transcript.Combine(nil, s.rebase(batch))

	finishedAt := s.clock()
	conversation, err := s.getOrCreateConversation(ctx, batch, finishedAt)
	if err != nil {
		return err
	}
	s.scheduleCreation(finishedAt, conversationCreationTimeout)

	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	s.send(websocket.TextMessage, payload)
	s.relay.EnqueueTranscript(batch, conversation.ID)

	merged := internal_transcript.Combine(conversation.TranscriptSegments, batch)
	conversation.TranscriptSegments = merged
	conversation.FinishedAt = finishedAt
	if err := s.deps.Store.UpdateSegments(ctx, s.uid, conversation.ID, merged); err != nil {
		return err
	}
	return s.deps.Store.UpdateFinishedAt(ctx, s.uid, conversation.ID, finishedAt)
}

// rebase maps provider stream-local timestamps onto the conversation clock.
// The trim offset freezes on the first-ever batch so a fresh conversation's
// clock starts at the onset of its first utterance; exactly one branch
// applies per batch.
func (s *Session) rebase(batch []internal_transcript.Segment) []internal_transcript.Segment {
	s.stateMu.Lock()
	if s.secondsToTrim == nil {
		trim := batch[0].Start
		s.secondsToTrim = &trim
	}
	add, trim := s.secondsToAdd, s.secondsToTrim
	s.stateMu.Unlock()

	if add != nil {
		internal_transcript.Shift(batch, *add)
	} else {
		internal_transcript.Trim(batch, *trim)
	}
	return batch
}

func (s *Session) bufferEmpty() bool {
	s.segmentMu.Lock()
	defer s.segmentMu.Unlock()
	return len(s.segmentBuf) == 0
}
