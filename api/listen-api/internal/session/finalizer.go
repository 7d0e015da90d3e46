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

	"github.com/google/uuid"

	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
	internal_event "github.com/rapidaai/listen/api/listen-api/internal/event"
	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
)

// scheduleCreation cancels any outstanding finalization task and installs a
// replacement firing after delay. The witness finishedAt lets a fired task
// detect that a newer batch superseded it.
func (s *Session) scheduleCreation(witness time.Time, delay time.Duration) {
	s.creationMu.Lock()
	if s.creationCancel != nil {
		s.creationCancel()
	}
	ctx, cancel := context.WithCancel(s.finalizeCtx)
	s.creationCancel = cancel
	s.creationMu.Unlock()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.fireCreation(ctx, witness)
	}()
}

// fireCreation re-reads the in-progress conversation and finalizes it unless
// a later batch advanced finished_at past the witness.
func (s *Session) fireCreation(ctx context.Context, witness time.Time) {
	conversation, err := s.deps.Store.GetInProgress(ctx, s.uid)
	if err != nil {
		s.logger.Errorf("session: finalization re-read failed for uid=%s: %v", s.uid, err)
		return
	}
	if conversation == nil || conversation.FinishedAt.After(witness) {
		return
	}
	s.finalize(ctx, conversation)

	// The next batch begins a new conversation on a fresh clock. Only the
	// idle-timer path resets; the catch-up replay must not clear a frozen
	// trim mid-conversation.
	s.stateMu.Lock()
	s.secondsToTrim = nil
	s.secondsToAdd = nil
	s.conversationID = ""
	s.stateMu.Unlock()
}

// finalize runs the two-phase close: transition to processing, enrich, hand
// off, and announce. Failures discard the aggregate but still announce so
// clients clear their in-progress view.
func (s *Session) finalize(ctx context.Context, conversation *internal_conversation.Conversation) {
	// Merge any buffer residue before the point of no return; segments may
	// have raced in between the last persist and this transition.
	if residue := s.drainSegments(); len(residue) > 0 {
		conversation.TranscriptSegments = internal_transcript.Combine(conversation.TranscriptSegments, s.rebase(residue))
		if err := s.deps.Store.UpdateSegments(ctx, s.uid, conversation.ID, conversation.TranscriptSegments); err != nil {
			s.logger.Warnf("session: residue persist failed for %s: %v", conversation.ID, err)
		}
	}

	if conversation.Status != internal_conversation.StatusProcessing {
		s.sendEvent(internal_event.MemoryProcessingStarted(conversation))
		if err := s.deps.Store.UpdateStatus(ctx, s.uid, conversation.ID, internal_conversation.StatusProcessing); err != nil {
			s.logger.Errorf("session: processing transition failed for %s: %v", conversation.ID, err)
			return
		}
		conversation.Status = internal_conversation.StatusProcessing
	}

	processed, messages, err := s.postProcess(ctx, conversation)
	if err != nil {
		s.logger.Errorf("session: post-processing failed for %s: %v", conversation.ID, err)
		if derr := s.deps.Store.SetDiscarded(ctx, s.uid, conversation.ID); derr != nil {
			s.logger.Errorf("session: discard failed for %s: %v", conversation.ID, derr)
		}
		conversation.Status = internal_conversation.StatusDiscarded
		conversation.Discarded = true
		s.sendEvent(internal_event.MemoryCreated(conversation, nil))
	} else {
		s.sendEvent(internal_event.MemoryCreated(processed, messages))
	}
}

func (s *Session) postProcess(ctx context.Context, conversation *internal_conversation.Conversation) (*internal_conversation.Conversation, []json.RawMessage, error) {
	if geolocation, err := s.deps.Cache.GetGeolocation(ctx, s.uid); err == nil && geolocation != nil {
		address, gerr := s.deps.Geocoder.ReverseGeocode(ctx, geolocation.Latitude, geolocation.Longitude)
		if gerr != nil {
			return nil, nil, gerr
		}
		if address != "" {
			conversation.GeocodedAddress = address
			if uerr := s.deps.Store.Upsert(ctx, conversation); uerr != nil {
				return nil, nil, uerr
			}
		}
	}

	processed, err := s.deps.Memories.Process(ctx, s.uid, s.params.Language, conversation)
	if err != nil {
		return nil, nil, err
	}
	if processed.Status == "" {
		processed.Status = internal_conversation.StatusCompleted
	}
	if err := s.deps.Store.Upsert(ctx, processed); err != nil {
		return nil, nil, err
	}

	messages, err := s.deps.Plugins.Trigger(ctx, s.uid, processed)
	if err != nil {
		return nil, nil, err
	}
	return processed, messages, nil
}

// finalizeProcessing is the one-shot catch-up at session start: conversations
// stranded in processing by an earlier crash are replayed through
// finalization. The status check keeps the replay idempotent.
func (s *Session) finalizeProcessing(ctx context.Context) {
	stranded, err := s.deps.Store.GetProcessing(ctx, s.uid)
	if err != nil {
		s.logger.Errorf("session: catch-up listing failed for uid=%s: %v", s.uid, err)
		return
	}
	for i := range stranded {
		s.finalize(ctx, &stranded[i])
	}
}

// retrieveInProgress resolves the in-progress conversation through the cache
// first, falling back to the store-level index. A cached id pointing at a
// non-in-progress row is ignored.
func (s *Session) retrieveInProgress(ctx context.Context) (*internal_conversation.Conversation, error) {
	if id, err := s.deps.Cache.GetInProgressConversationID(ctx, s.uid); err == nil && id != "" {
		conversation, gerr := s.deps.Store.Get(ctx, s.uid, id)
		if gerr == nil && conversation != nil && conversation.Status == internal_conversation.StatusInProgress {
			return conversation, nil
		}
	}
	return s.deps.Store.GetInProgress(ctx, s.uid)
}

// getOrCreateConversation binds the batch to the user's in-progress
// conversation, creating one whose clock starts at the onset of the batch's
// first utterance when none exists.
func (s *Session) getOrCreateConversation(ctx context.Context, batch []internal_transcript.Segment, now time.Time) (*internal_conversation.Conversation, error) {
	conversation, err := s.retrieveInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if conversation != nil {
		s.bindConversation(conversation.ID)
		return conversation, nil
	}

	first := batch[0]
	conversation = &internal_conversation.Conversation{
		ID:         uuid.NewString(),
		UID:        s.uid,
		Language:   s.params.Language,
		CreatedAt:  now,
		StartedAt:  now.Add(-time.Duration((first.End - first.Start) * float64(time.Second))),
		FinishedAt: now,
		Status:     internal_conversation.StatusInProgress,
	}
	if err := s.deps.Store.Upsert(ctx, conversation); err != nil {
		return nil, err
	}
	if err := s.deps.Cache.SetInProgressConversationID(ctx, s.uid, conversation.ID); err != nil {
		s.logger.Warnf("session: failed to cache conversation id for uid=%s: %v", s.uid, err)
	}
	s.bindConversation(conversation.ID)
	s.logger.Infof("session: started conversation %s for uid=%s", conversation.ID, s.uid)
	return conversation, nil
}

func (s *Session) bindConversation(id string) {
	s.stateMu.Lock()
	s.conversationID = id
	s.stateMu.Unlock()
}
