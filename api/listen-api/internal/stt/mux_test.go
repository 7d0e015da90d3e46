// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_speechprofile "github.com/rapidaai/listen/api/listen-api/internal/speechprofile"
	"github.com/rapidaai/listen/config"
	"github.com/rapidaai/listen/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-stt"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type fakeProfiles struct {
	profile *internal_speechprofile.Profile
	gets    []string
}

func (f *fakeProfiles) Get(uid string) (*internal_speechprofile.Profile, error) {
	f.gets = append(f.gets, uid)
	return f.profile, nil
}

func newTestFactory(t *testing.T, force bool, profiles internal_speechprofile.Storage) *factory {
	t.Helper()
	return &factory{
		config:   &config.AppConfig{SttForceDeepgram: force},
		profiles: profiles,
		logger:   newTestLogger(t),
	}
}

// --- Provider Coercion Tests ---

func TestResolveServiceCoercesSoniox(t *testing.T) {
	f := newTestFactory(t, true, &fakeProfiles{})
	assert.Equal(t, ProviderDeepgram, f.resolveService(ProviderSoniox))
	assert.Equal(t, ProviderSpeechmatics, f.resolveService(ProviderSpeechmatics))
	assert.Equal(t, ProviderDeepgram, f.resolveService(ProviderDeepgram))
}

func TestResolveServiceRespectsFlag(t *testing.T) {
	f := newTestFactory(t, false, &fakeProfiles{})
	assert.Equal(t, ProviderSoniox, f.resolveService(ProviderSoniox))
}

// --- Speech Profile Policy Tests ---

func TestFetchProfileEligibleCodecs(t *testing.T) {
	profiles := &fakeProfiles{profile: &internal_speechprofile.Profile{Duration: 12}}
	f := newTestFactory(t, true, profiles)

	for _, codec := range []string{"opus", "pcm16"} {
		profile, err := f.fetchProfile("u1", Params{
			Language:             "en",
			Codec:                codec,
			IncludeSpeechProfile: true,
		})
		require.NoError(t, err)
		require.NotNil(t, profile, "codec %s should be eligible", codec)
	}
	assert.Len(t, profiles.gets, 2)
}

func TestFetchProfileSkipsPcm8(t *testing.T) {
	profiles := &fakeProfiles{profile: &internal_speechprofile.Profile{Duration: 12}}
	f := newTestFactory(t, true, profiles)

	profile, err := f.fetchProfile("u1", Params{
		Language:             "en",
		Codec:                "pcm8",
		IncludeSpeechProfile: true,
	})
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.Empty(t, profiles.gets)
}

func TestFetchProfileSkipsNonEnglish(t *testing.T) {
	profiles := &fakeProfiles{profile: &internal_speechprofile.Profile{Duration: 12}}
	f := newTestFactory(t, true, profiles)

	profile, err := f.fetchProfile("u1", Params{
		Language:             "hi",
		Codec:                "pcm16",
		IncludeSpeechProfile: true,
	})
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestFetchProfileSkipsWhenDisabled(t *testing.T) {
	profiles := &fakeProfiles{profile: &internal_speechprofile.Profile{Duration: 12}}
	f := newTestFactory(t, true, profiles)

	profile, err := f.fetchProfile("u1", Params{
		Language:             "en",
		Codec:                "pcm16",
		IncludeSpeechProfile: false,
	})
	require.NoError(t, err)
	assert.Nil(t, profile)
}
