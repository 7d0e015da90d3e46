// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"context"
	"fmt"

	internal_speechprofile "github.com/rapidaai/listen/api/listen-api/internal/speechprofile"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
)

// Params describes one session's audio stream as negotiated on the query
// string.
type Params struct {
	Service              string
	Language             string
	SampleRate           int
	Codec                string
	Channels             int
	IncludeSpeechProfile bool
}

// Factory opens the provider upstreams for a session.
type Factory interface {
	Open(ctx context.Context, uid string, params Params, onSegments SegmentCallback) (*Upstreams, error)
}

type factory struct {
	config   *config.AppConfig
	profiles internal_speechprofile.Storage
	logger   commons.Logger
}

// NewFactory creates the provider multiplexer.
func NewFactory(cfg *config.AppConfig, profiles internal_speechprofile.Storage, logger commons.Logger) Factory {
	return &factory{config: cfg, profiles: profiles, logger: logger}
}

// Open applies the provider policy and returns the session's upstream
// variant. Soniox is coerced to Deepgram while the Soniox language rollout is
// incomplete; the coercion sits behind a config flag.
func (f *factory) Open(ctx context.Context, uid string, params Params, onSegments SegmentCallback) (*Upstreams, error) {
	service := f.resolveService(params.Service)
	if service != params.Service {
		f.logger.Infof("stt: coercing %s to %s for uid=%s", params.Service, service, uid)
	}

	profile, err := f.fetchProfile(uid, params)
	if err != nil {
		f.logger.Warnf("stt: speech profile unavailable for uid=%s: %v", uid, err)
		profile = nil
	}
	profileDuration := 0.0
	if profile != nil {
		profileDuration = profile.Duration
	}

	switch service {
	case ProviderDeepgram:
		return f.openDeepgram(ctx, uid, params, profile, profileDuration, onSegments)
	case ProviderSoniox:
		return f.openSoniox(ctx, uid, params, profile != nil, onSegments)
	case ProviderSpeechmatics:
		return f.openSpeechmatics(ctx, uid, params, profile, profileDuration, onSegments)
	default:
		return nil, fmt.Errorf("stt: unknown service %q", params.Service)
	}
}

func (f *factory) resolveService(service string) string {
	if service == ProviderSoniox && f.config.SttForceDeepgram {
		return ProviderDeepgram
	}
	return service
}

// fetchProfile loads the enrollment sample only for english sessions on
// codecs whose decoded stream matches the stored WAV layout.
func (f *factory) fetchProfile(uid string, params Params) (*internal_speechprofile.Profile, error) {
	if params.Language != "en" || !params.IncludeSpeechProfile {
		return nil, nil
	}
	if params.Codec != "opus" && params.Codec != "pcm16" {
		return nil, nil
	}
	return f.profiles.Get(uid)
}

func (f *factory) openDeepgram(
	ctx context.Context,
	uid string,
	params Params,
	profile *internal_speechprofile.Profile,
	profileDuration float64,
	onSegments SegmentCallback,
) (*Upstreams, error) {
	primary, err := NewDeepgramUpstream(ctx, f.logger, f.config.DeepgramApiKey, f.config.DeepgramModel, Options{
		Language:   params.Language,
		SampleRate: params.SampleRate,
		Codec:      params.Codec,
		Channels:   params.Channels,
		PreSeconds: profileDuration,
	}, onSegments)
	if err != nil {
		return nil, err
	}

	upstreams := &Upstreams{
		Provider:        ProviderDeepgram,
		Primary:         primary,
		ProfileDuration: profileDuration,
	}
	if profile == nil {
		return upstreams, nil
	}

	secondary, err := NewDeepgramUpstream(ctx, f.logger, f.config.DeepgramApiKey, f.config.DeepgramModel, Options{
		Language:   params.Language,
		SampleRate: params.SampleRate,
		Codec:      params.Codec,
		Channels:   1,
	}, onSegments)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	upstreams.Secondary = secondary

	// Prime the primary with the enrollment sample ahead of live audio.
	go f.pushProfile(uid, profile, primary)
	return upstreams, nil
}

func (f *factory) openSoniox(
	ctx context.Context,
	uid string,
	params Params,
	profileEnabled bool,
	onSegments SegmentCallback,
) (*Upstreams, error) {
	options := Options{
		Language:   params.Language,
		SampleRate: params.SampleRate,
		Codec:      params.Codec,
		Channels:   params.Channels,
	}
	if profileEnabled {
		options.UID = uid
	}
	primary, err := NewSonioxUpstream(ctx, f.logger, f.config.SonioxApiKey, options, onSegments)
	if err != nil {
		return nil, err
	}
	return &Upstreams{Provider: ProviderSoniox, Primary: primary}, nil
}

func (f *factory) openSpeechmatics(
	ctx context.Context,
	uid string,
	params Params,
	profile *internal_speechprofile.Profile,
	profileDuration float64,
	onSegments SegmentCallback,
) (*Upstreams, error) {
	primary, err := NewSpeechmaticsUpstream(ctx, f.logger, f.config.SpeechmaticsApiKey, Options{
		Language:   params.Language,
		SampleRate: params.SampleRate,
		Codec:      params.Codec,
		Channels:   params.Channels,
		PreSeconds: profileDuration,
	}, onSegments)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		go f.pushProfile(uid, profile, primary)
	}
	return &Upstreams{Provider: ProviderSpeechmatics, Primary: primary}, nil
}

func (f *factory) pushProfile(uid string, profile *internal_speechprofile.Profile, upstream Upstream) {
	if err := upstream.Send(profile.Audio); err != nil {
		f.logger.Warnf("stt: failed to push speech profile for uid=%s: %v", uid, err)
		return
	}
	f.logger.Debugf("stt: pushed speech profile for uid=%s, duration=%.1fs", uid, profile.Duration)
}
