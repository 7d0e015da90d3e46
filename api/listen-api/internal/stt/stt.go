// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"sync"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
)

// Provider names accepted on the session query string.
const (
	ProviderDeepgram     = "deepgram"
	ProviderSoniox       = "soniox"
	ProviderSpeechmatics = "speechmatics"
)

// SegmentCallback receives finalized transcript segments from an upstream.
// Segments carry provider stream-local timestamps; the session rebases them.
type SegmentCallback func(segments []internal_transcript.Segment)

// Upstream is one live STT socket.
type Upstream interface {
	// Send pushes raw audio bytes to the provider.
	Send(audio []byte) error

	// Close finalizes the stream. Safe to call more than once.
	Close() error
}

// Options selects the provider stream parameters for one session.
type Options struct {
	Language   string
	SampleRate int
	Codec      string
	Channels   int

	// PreSeconds is the speech profile window already pushed into the stream.
	// Words ending inside the window are enrollment audio and are dropped;
	// the rest shift back onto the live clock.
	PreSeconds float64

	// UID is passed to providers that key speaker identification on the user.
	UID string
}

// Upstreams is the provider variant for one session. Exactly one provider is
// populated: Deepgram uses Primary plus an optional Secondary during the
// speech profile window; Soniox and Speechmatics use Primary alone.
type Upstreams struct {
	Provider  string
	Primary   Upstream
	Secondary Upstream

	// ProfileDuration is the dispatch window in seconds; zero when no speech
	// profile is in play.
	ProfileDuration float64

	mu              sync.Mutex
	secondaryClosed bool
}

// Dispatch routes one live audio packet given the elapsed stream seconds.
// While the profile window is open and a secondary exists, live audio goes to
// the secondary so it cannot bleed into the profile-primed primary; once the
// window closes the secondary is finalized exactly once and the primary takes
// over.
func (u *Upstreams) Dispatch(elapsed float64, audio []byte) error {
	if u.Secondary != nil {
		if elapsed <= u.ProfileDuration {
			return u.Secondary.Send(audio)
		}
		u.closeSecondary()
	}
	return u.Primary.Send(audio)
}

func (u *Upstreams) closeSecondary() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.secondaryClosed {
		return
	}
	u.secondaryClosed = true
	_ = u.Secondary.Close()
}

// Close finalizes every open upstream. Idempotent.
func (u *Upstreams) Close() error {
	var err error
	if u.Primary != nil {
		err = u.Primary.Close()
	}
	if u.Secondary != nil {
		u.closeSecondary()
	}
	return err
}
