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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
	"github.com/rapidaai/listen/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-pusher"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   int
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("connection reset")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func fakeDialer(conn Conn) Dialer {
	return func(ctx context.Context) (Conn, error) { return conn, nil }
}

// --- Framing Tests ---

func TestFramePrefixesLittleEndianType(t *testing.T) {
	framed := Frame(FrameAudio, []byte{0xde, 0xad})
	require.Len(t, framed, 6)
	assert.Equal(t, uint32(101), binary.LittleEndian.Uint32(framed[:4]))
	assert.Equal(t, []byte{0xde, 0xad}, framed[4:])
}

func TestTranscriptFrameCarriesJSONBody(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithDialers(fakeDialer(conn), fakeDialer(&fakeConn{}), false, newTestLogger(t))

	segments := []internal_transcript.Segment{
		{Text: "hello", Speaker: "SPEAKER_00", Start: 0, End: 1},
	}
	p.EnqueueTranscript(segments, "memory-1")
	p.flushTranscript(context.Background())

	frames := conn.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(102), binary.LittleEndian.Uint32(frames[0][:4]))

	var body struct {
		Segments []internal_transcript.Segment `json:"segments"`
		MemoryID string                        `json:"memory_id"`
	}
	require.NoError(t, json.Unmarshal(frames[0][4:], &body))
	assert.Equal(t, "memory-1", body.MemoryID)
	require.Len(t, body.Segments, 1)
	assert.Equal(t, "hello", body.Segments[0].Text)
}

// --- Accumulation Tests ---

func TestAudioDrainsAsOneMessage(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithDialers(fakeDialer(&fakeConn{}), fakeDialer(conn), true, newTestLogger(t))

	p.EnqueueAudio(make([]byte, 20))
	p.EnqueueAudio(make([]byte, 20))
	p.EnqueueAudio(make([]byte, 10))
	p.flushAudio(context.Background())

	frames := conn.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(101), binary.LittleEndian.Uint32(frames[0][:4]))
	assert.Len(t, frames[0][4:], 50)
}

func TestTranscriptDrainsAsOneMessage(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithDialers(fakeDialer(conn), fakeDialer(&fakeConn{}), false, newTestLogger(t))

	p.EnqueueTranscript([]internal_transcript.Segment{{Text: "first"}}, "m")
	p.EnqueueTranscript([]internal_transcript.Segment{{Text: "second"}}, "m")
	p.flushTranscript(context.Background())

	frames := conn.sent()
	require.Len(t, frames, 1)

	var body struct {
		Segments []internal_transcript.Segment `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(frames[0][4:], &body))
	require.Len(t, body.Segments, 2)
	assert.Equal(t, "first", body.Segments[0].Text)
	assert.Equal(t, "second", body.Segments[1].Text)
}

// --- Channel Tests ---

func TestAudioDisabledDropsFrames(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithDialers(fakeDialer(&fakeConn{}), fakeDialer(conn), false, newTestLogger(t))

	p.EnqueueAudio([]byte{1, 2, 3})
	p.flushAudio(context.Background())
	assert.Empty(t, conn.sent())
}

func TestAudioEnabledForwardsFrames(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithDialers(fakeDialer(&fakeConn{}), fakeDialer(conn), true, newTestLogger(t))

	p.EnqueueAudio([]byte{1, 2, 3})
	p.flushAudio(context.Background())

	frames := conn.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(101), binary.LittleEndian.Uint32(frames[0][:4]))
	assert.Equal(t, []byte{1, 2, 3}, frames[0][4:])
}

func TestWriteReconnectsAndRetriesWithinFlush(t *testing.T) {
	conn := &fakeConn{fail: 1}
	p := NewWithDialers(fakeDialer(conn), fakeDialer(&fakeConn{}), false, newTestLogger(t))

	p.EnqueueTranscript([]internal_transcript.Segment{{Text: "kept"}}, "m")
	p.flushTranscript(context.Background())

	// First write failed, the reconnect succeeded, and the frame went out on
	// the retry within the same flush.
	require.Len(t, conn.sent(), 1)
}

func TestFailedFlushRetainsAccumulatedContent(t *testing.T) {
	conn := &fakeConn{}
	dead := true
	dial := func(ctx context.Context) (Conn, error) {
		if dead {
			return nil, errors.New("relay offline")
		}
		return conn, nil
	}
	p := NewWithDialers(fakeDialer(&fakeConn{}), dial, true, newTestLogger(t))

	p.EnqueueAudio(make([]byte, 30))
	p.flushAudio(context.Background())
	assert.Empty(t, conn.sent())

	// The relay recovers; the next drain still carries everything buffered so
	// far, as one message.
	dead = false
	p.EnqueueAudio(make([]byte, 20))
	p.flushAudio(context.Background())

	frames := conn.sent()
	require.Len(t, frames, 1)
	assert.Len(t, frames[0][4:], 50)
}

func TestRunDrainsAfterShutdown(t *testing.T) {
	transcriptConn := &fakeConn{}
	audioConn := &fakeConn{}
	p := NewWithDialers(fakeDialer(transcriptConn), fakeDialer(audioConn), true, newTestLogger(t))

	p.EnqueueTranscript([]internal_transcript.Segment{{Text: "final"}}, "m")
	p.EnqueueAudio(make([]byte, 50))
	p.Shutdown()

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pusher did not drain after shutdown")
	}
	assert.Len(t, transcriptConn.sent(), 1)
	require.Len(t, audioConn.sent(), 1)
	assert.Len(t, audioConn.sent()[0], 54)
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := NewWithDialers(fakeDialer(&fakeConn{}), fakeDialer(&fakeConn{}), false, newTestLogger(t))
	p.Shutdown()
	p.Shutdown()
}
