// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_speechprofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rapidaai/listen/pkg/commons"
)

// padSeconds is appended to the WAV duration when computing the dispatch
// window, covering decode latency between the profile tail and live audio.
const padSeconds = 5.0

// Profile is a stored speaker enrollment sample plus the dispatch window it
// implies on the primary STT stream.
type Profile struct {
	Audio []byte
	// Duration is the profile WAV length plus the pad, in seconds. Audio
	// arriving before this much stream time has elapsed belongs to the
	// profile, not the live conversation.
	Duration float64
}

// Storage retrieves speaker enrollment samples.
type Storage interface {
	// Get returns the user's profile, or (nil, nil) when none is stored.
	Get(uid string) (*Profile, error)
}

type filesystemStorage struct {
	dir    string
	logger commons.Logger
}

// NewStorage serves profiles from a flat directory of <uid>.wav files.
func NewStorage(dir string, logger commons.Logger) Storage {
	return &filesystemStorage{dir: dir, logger: logger}
}

func (s *filesystemStorage) Get(uid string) (*Profile, error) {
	path := filepath.Join(s.dir, uid+".wav")
	audio, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read speech profile for %s: %w", uid, err)
	}

	seconds, err := WavDuration(audio)
	if err != nil {
		s.logger.Warnf("unreadable speech profile for %s: %v", uid, err)
		return nil, nil
	}
	return &Profile{Audio: audio, Duration: seconds + padSeconds}, nil
}

// WavDuration computes the play length of a RIFF/WAVE payload by walking its
// chunks for the fmt byte rate and the data size.
func WavDuration(wav []byte) (float64, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE payload")
	}

	var byteRate uint32
	var dataSize uint32
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(wav[offset+4 : offset+8])
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return 0, errors.New("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(wav[body+8 : body+12])
		case "data":
			dataSize = chunkSize
		}

		// Chunks are word aligned.
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if byteRate == 0 {
		return 0, errors.New("missing fmt chunk or zero byte rate")
	}
	if dataSize == 0 {
		return 0, errors.New("missing data chunk")
	}
	return float64(dataSize) / float64(byteRate), nil
}
