// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	internal_audio "github.com/rapidaai/listen/api/listen-api/internal/audio"
	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
	internal_event "github.com/rapidaai/listen/api/listen-api/internal/event"
	internal_memories "github.com/rapidaai/listen/api/listen-api/internal/memories"
	internal_pusher "github.com/rapidaai/listen/api/listen-api/internal/pusher"
	internal_stt "github.com/rapidaai/listen/api/listen-api/internal/stt"
	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	internal_userstate "github.com/rapidaai/listen/api/listen-api/internal/userstate"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
)

const (
	heartbeatInterval = 10 * time.Second
	softTimeout       = 420 * time.Second
	processorTick     = 300 * time.Millisecond

	// conversationCreationTimeout is the silence threshold after which the
	// in-progress conversation is finalized.
	conversationCreationTimeout = 120 * time.Second
)

// Socket is the client connection surface the session drives; gorilla
// satisfies it and tests inject fakes.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps carries the session collaborators.
type Deps struct {
	Config   *config.AppConfig
	Logger   commons.Logger
	Store    internal_conversation.Store
	Cache    internal_userstate.Cache
	Users    internal_userstate.Users
	Memories internal_memories.Processor
	Plugins  internal_memories.PluginDispatcher
	Geocoder internal_memories.Geocoder
	STT      internal_stt.Factory

	// NewPusher builds the downstream relay once audio fan-out eligibility is
	// known.
	NewPusher func(uid string, sampleRate int, audioEnabled bool) *internal_pusher.Pusher

	// NewDecoder and NewGate build the per-session audio chain; both may be
	// nil in tests that never push audio.
	NewDecoder func(codec string, sampleRate int) (internal_audio.Decoder, error)
	NewGate    func(sampleRate int) (*internal_audio.Gate, error)

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Session owns all mutable state for one client connection. Every concurrent
// activity holds a reference to it; there are no session-to-session shared
// mutables besides the per-key cache.
type Session struct {
	uid    string
	params internal_stt.Params
	deps   Deps
	logger commons.Logger
	clock  func() time.Time

	conn    Socket
	writeMu sync.Mutex

	active    atomic.Bool
	closeCode atomic.Int64
	startedAt time.Time

	upstreams *internal_stt.Upstreams
	relay     *internal_pusher.Pusher
	decoder   internal_audio.Decoder
	gate      *internal_audio.Gate

	// Segment buffer: single producer (STT callback), single consumer (the
	// processor), drained by swap-and-reset.
	segmentMu  sync.Mutex
	segmentBuf []internal_transcript.Segment

	// Rebase state and the current conversation binding.
	stateMu        sync.Mutex
	secondsToTrim  *float64
	secondsToAdd   *float64
	conversationID string

	// Finalization scheduling; guards only the cancel/replace sequence.
	creationMu     sync.Mutex
	creationCancel context.CancelFunc

	// finalizeCtx outlives the socket so an armed timer still fires after a
	// disconnect; the witness re-read keeps a late fire harmless.
	finalizeCtx context.Context
}

// New builds a session for an accepted connection.
func New(conn Socket, uid string, params internal_stt.Params, deps Deps) *Session {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		uid:    uid,
		params: params,
		deps:   deps,
		logger: deps.Logger,
		clock:  clock,
		conn:   conn,
	}
}

// Listen drives the session to completion. It returns once the socket is
// closed and both loops have exited.
func (s *Session) Listen(ctx context.Context) {
	s.active.Store(true)
	s.closeCode.Store(websocket.CloseGoingAway)
	s.startedAt = s.clock()
	s.finalizeCtx = context.WithoutCancel(ctx)

	go s.heartbeat()
	s.sendEvent(internal_event.ServiceStatus(internal_event.StatusInitiating, internal_event.StatusTextServiceStarting))

	exists, err := s.deps.Users.Exists(ctx, s.uid)
	if err != nil || !exists {
		if err != nil {
			s.logger.Errorf("session: user lookup failed for uid=%s: %v", s.uid, err)
		}
		s.Shutdown(websocket.ClosePolicyViolation)
		s.teardown()
		return
	}

	s.sendEvent(internal_event.ServiceStatus(internal_event.StatusInProgress, internal_event.StatusTextProcessingMemories))
	go s.finalizeProcessing(s.finalizeCtx)
	go s.sendLastMemory(ctx)

	if err := s.resumeInProgress(ctx); err != nil {
		s.logger.Warnf("session: continuity check failed for uid=%s: %v", s.uid, err)
	}

	s.sendEvent(internal_event.ServiceStatus(internal_event.StatusSTTInitiating, internal_event.StatusTextSTTServiceStarting))
	upstreams, err := s.deps.STT.Open(ctx, s.uid, s.params, s.streamTranscript)
	if err != nil {
		s.logger.Errorf("session: failed to open stt upstreams for uid=%s: %v", s.uid, err)
		s.Shutdown(websocket.CloseInternalServerErr)
		s.teardown()
		return
	}
	s.upstreams = upstreams

	if err := s.setupAudio(); err != nil {
		s.logger.Errorf("session: failed to set up audio chain for uid=%s: %v", s.uid, err)
		s.Shutdown(websocket.CloseInternalServerErr)
		s.teardown()
		return
	}

	s.relay = s.deps.NewPusher(s.uid, s.params.SampleRate, s.audioFanoutEnabled(ctx))
	go s.relay.Run(s.finalizeCtx)

	s.sendEvent(internal_event.ServiceStatus(internal_event.StatusReady, ""))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { s.ingress(groupCtx); return nil })
	group.Go(func() error { s.processor(groupCtx); return nil })
	_ = group.Wait()

	s.teardown()
}

// Shutdown flips the session inactive exactly once and records the close
// code for the socket teardown.
func (s *Session) Shutdown(code int) {
	if s.active.CompareAndSwap(true, false) {
		s.closeCode.Store(int64(code))
		s.logger.Infof("session: shutting down uid=%s, code=%d", s.uid, code)
	}
}

// Active reports whether the session still accepts work.
func (s *Session) Active() bool {
	return s.active.Load()
}

func (s *Session) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.Active() {
			return
		}
		if !s.deps.Config.NoSocketTimeout && s.clock().Sub(s.startedAt) > softTimeout {
			s.Shutdown(websocket.CloseGoingAway)
			return
		}
		s.send(websocket.TextMessage, []byte("ping"))
	}
}

// resumeInProgress applies the continuity rules for a reconnect: align the
// rebase clock onto the existing conversation and either finalize immediately
// or arm the timer for the remaining idle budget.
func (s *Session) resumeInProgress(ctx context.Context) error {
	conversation, err := s.retrieveInProgress(ctx)
	if err != nil || conversation == nil {
		return err
	}

	now := s.clock()
	add := now.Sub(conversation.StartedAt).Seconds()
	s.stateMu.Lock()
	s.secondsToAdd = &add
	s.conversationID = conversation.ID
	s.stateMu.Unlock()

	idle := now.Sub(conversation.FinishedAt)
	if idle >= conversationCreationTimeout {
		go s.fireCreation(s.finalizeCtx, conversation.FinishedAt)
		return nil
	}
	s.scheduleCreation(conversation.FinishedAt, conversationCreationTimeout-idle)
	return nil
}

func (s *Session) sendLastMemory(ctx context.Context) {
	last, err := s.deps.Store.GetLastCompleted(ctx, s.uid)
	if err != nil {
		s.logger.Warnf("session: failed to load last completed conversation for uid=%s: %v", s.uid, err)
		return
	}
	if last != nil {
		s.sendEvent(internal_event.LastMemory(last.ID))
	}
}

func (s *Session) setupAudio() error {
	if s.deps.NewDecoder != nil {
		decoder, err := s.deps.NewDecoder(s.params.Codec, s.params.SampleRate)
		if err != nil {
			return err
		}
		s.decoder = decoder
	}
	if s.deps.NewGate != nil && s.params.IncludeSpeechProfile && s.params.Codec != "opus" {
		gate, err := s.deps.NewGate(s.params.SampleRate)
		if err != nil {
			return err
		}
		s.gate = gate
	}
	return nil
}

func (s *Session) audioFanoutEnabled(ctx context.Context) bool {
	seconds, err := s.deps.Cache.GetAudioBytesWebhookSeconds(ctx, s.uid)
	if err != nil {
		s.logger.Warnf("session: audio webhook lookup failed for uid=%s: %v", s.uid, err)
	}
	if seconds > 0 {
		return true
	}
	enabled, err := s.deps.Cache.IsAudioBytesAppEnabled(ctx, s.uid)
	if err != nil {
		s.logger.Warnf("session: audio app lookup failed for uid=%s: %v", s.uid, err)
	}
	return enabled
}

// send writes one frame under the write lock while the session is active.
func (s *Session) send(messageType int, payload []byte) {
	if !s.Active() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		s.logger.Debugf("session: client write failed for uid=%s: %v", s.uid, err)
	}
}

func (s *Session) sendEvent(payload []byte) {
	s.send(websocket.TextMessage, payload)
}

// teardown finalizes upstreams, drains the relay, and closes the socket with
// the recorded code. Safe to run once per session.
func (s *Session) teardown() {
	s.Shutdown(int(s.closeCode.Load()))

	if s.upstreams != nil {
		if err := s.upstreams.Close(); err != nil {
			s.logger.Warnf("session: upstream close failed for uid=%s: %v", s.uid, err)
		}
	}
	if s.gate != nil {
		_ = s.gate.Close()
	}
	if s.relay != nil {
		s.relay.Shutdown()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	code := int(s.closeCode.Load())
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	_ = s.conn.Close()
	s.logger.Infof("session: closed uid=%s, code=%d", s.uid, code)
}

// streamTranscript is the shared upstream callback; it appends provider
// segments to the buffer in arrival order.
func (s *Session) streamTranscript(segments []internal_transcript.Segment) {
	s.segmentMu.Lock()
	defer s.segmentMu.Unlock()
	s.segmentBuf = append(s.segmentBuf, segments...)
}

// drainSegments swaps the buffer out and resets it.
func (s *Session) drainSegments() []internal_transcript.Segment {
	s.segmentMu.Lock()
	defer s.segmentMu.Unlock()
	batch := s.segmentBuf
	s.segmentBuf = nil
	return batch
}
