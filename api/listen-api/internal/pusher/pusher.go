// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_pusher

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	"github.com/rapidaai/listen/pkg/commons"
)

// Frame types on the trigger relay. The payload follows a 4-byte little
// endian type prefix.
const (
	FrameAudio      uint32 = 101
	FrameTranscript uint32 = 102
)

const (
	flushInterval    = time.Second
	maxDrainAttempts = 5
)

// Conn is the narrow websocket surface the relay needs; gorilla satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one relay channel.
type Dialer func(ctx context.Context) (Conn, error)

type transcriptBatch struct {
	Segments []internal_transcript.Segment `json:"segments"`
	MemoryID string                        `json:"memory_id"`
}

// Frame renders one relay frame: 4-byte LE type prefix plus payload.
func Frame(frameType uint32, payload []byte) []byte {
	framed := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(framed, frameType)
	copy(framed[4:], payload)
	return framed
}

// stream is one relay channel: a connection plus the reconnect lock.
type stream struct {
	mu     sync.Mutex
	name   string
	dial   Dialer
	conn   Conn
	logger commons.Logger
}

// write delivers one frame, reconnecting once on a write failure and retrying
// on the fresh connection. Reports whether the frame went out.
func (s *stream) write(ctx context.Context, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil && !s.reconnect(ctx) {
		return false
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.logger.Warnf("pusher: %s write failed, reconnecting: %v", s.name, err)
		_ = s.conn.Close()
		s.conn = nil
		if !s.reconnect(ctx) {
			return false
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.logger.Warnf("pusher: %s retry failed: %v", s.name, err)
			_ = s.conn.Close()
			s.conn = nil
			return false
		}
	}
	return true
}

func (s *stream) reconnect(ctx context.Context) bool {
	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Warnf("pusher: %s reconnect failed: %v", s.name, err)
		return false
	}
	s.conn = conn
	s.logger.Infof("pusher: %s channel connected", s.name)
	return true
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Pusher relays transcript batches and raw audio to the downstream trigger
// service on two independent channels. Each channel accumulates between
// drains and leaves as ONE framed message per flush; a failed flush retains
// the accumulated content. Neither channel may fail the session.
type Pusher struct {
	transcript   *stream
	audio        *stream
	audioEnabled bool
	inactive     chan struct{}
	once         sync.Once
	logger       commons.Logger

	bufMu    sync.Mutex
	segments []internal_transcript.Segment
	memoryID string
	audioBuf []byte
}

// New creates the relay for one session. Audio fan-out runs only when the
// uid has an audio-bytes consumer configured.
func New(host, uid string, sampleRate int, audioEnabled bool, logger commons.Logger) *Pusher {
	dial := func(path string) Dialer {
		url := fmt.Sprintf("%s%s?uid=%s&sample_rate=%d", host, path, uid, sampleRate)
		return func(ctx context.Context) (Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	return NewWithDialers(
		dial("/v1/trigger/transcript/listen"),
		dial("/v1/trigger/audio-bytes/listen"),
		audioEnabled,
		logger,
	)
}

// NewWithDialers wires custom channel dialers; tests inject fakes here.
func NewWithDialers(transcriptDialer, audioDialer Dialer, audioEnabled bool, logger commons.Logger) *Pusher {
	return &Pusher{
		transcript:   &stream{name: "transcript", dial: transcriptDialer, logger: logger},
		audio:        &stream{name: "audio", dial: audioDialer, logger: logger},
		audioEnabled: audioEnabled,
		inactive:     make(chan struct{}),
		logger:       logger,
	}
}

// EnqueueTranscript accumulates one processed batch for the next drain.
func (p *Pusher) EnqueueTranscript(segments []internal_transcript.Segment, memoryID string) {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	p.segments = append(p.segments, segments...)
	p.memoryID = memoryID
}

// EnqueueAudio accumulates raw audio bytes for the next drain.
func (p *Pusher) EnqueueAudio(audio []byte) {
	if !p.audioEnabled {
		return
	}
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	p.audioBuf = append(p.audioBuf, audio...)
}

// flushTranscript drains the accumulated segments as one transcript frame.
func (p *Pusher) flushTranscript(ctx context.Context) {
	p.bufMu.Lock()
	if len(p.segments) == 0 {
		p.bufMu.Unlock()
		return
	}
	segments := p.segments
	memoryID := p.memoryID
	p.segments = nil
	p.bufMu.Unlock()

	payload, err := json.Marshal(transcriptBatch{Segments: segments, MemoryID: memoryID})
	if err != nil {
		p.logger.Warnf("pusher: failed to marshal transcript batch: %v", err)
		return
	}
	if !p.transcript.write(ctx, Frame(FrameTranscript, payload)) {
		p.bufMu.Lock()
		p.segments = append(segments, p.segments...)
		p.bufMu.Unlock()
	}
}

// flushAudio drains the accumulated audio bytes as one audio frame.
func (p *Pusher) flushAudio(ctx context.Context) {
	p.bufMu.Lock()
	if len(p.audioBuf) == 0 {
		p.bufMu.Unlock()
		return
	}
	audio := p.audioBuf
	p.audioBuf = nil
	p.bufMu.Unlock()

	if !p.audio.write(ctx, Frame(FrameAudio, audio)) {
		p.bufMu.Lock()
		p.audioBuf = append(audio, p.audioBuf...)
		p.bufMu.Unlock()
	}
}

func (p *Pusher) flush(ctx context.Context) {
	p.flushTranscript(ctx)
	p.flushAudio(ctx)
}

func (p *Pusher) empty() bool {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return len(p.segments) == 0 && len(p.audioBuf) == 0
}

// Run flushes both channels every second. After Shutdown it keeps draining
// until both buffers are empty, then returns.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return
		case <-ticker.C:
			p.flush(ctx)
		case <-p.inactive:
			// Bounded drain so a dead relay cannot pin the session.
			for attempt := 0; attempt < maxDrainAttempts; attempt++ {
				p.flush(ctx)
				if p.empty() {
					break
				}
				select {
				case <-ctx.Done():
					p.closeAll()
					return
				case <-time.After(flushInterval):
				}
			}
			p.closeAll()
			return
		}
	}
}

// Shutdown stops the relay after the remaining buffers drain. Idempotent.
func (p *Pusher) Shutdown() {
	p.once.Do(func() { close(p.inactive) })
}

func (p *Pusher) closeAll() {
	p.transcript.close()
	p.audio.close()
}
