// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// Speakers closer together than this are considered one utterance and their
// texts are joined when no other speaker intervenes.
const MergeWindowSeconds = 30.0

// Segment is one diarized slice of the live transcript. Start and End are
// seconds on the conversation clock once rebased; providers deliver them on
// their own stream-local clock starting at zero.
type Segment struct {
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	SpeakerID int     `json:"speaker_id"`
	IsUser    bool    `json:"is_user"`
	PersonID  *string `json:"person_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// NewSegment derives the numeric speaker id from the "SPEAKER_NN" suffix.
func NewSegment(text, speaker string, isUser bool, start, end float64) Segment {
	return Segment{
		Text:      text,
		Speaker:   speaker,
		SpeakerID: SpeakerID(speaker),
		IsUser:    isUser,
		Start:     start,
		End:       end,
	}
}

// SpeakerID parses the numeric suffix of a "SPEAKER_NN" label; unknown labels
// map to 0.
func SpeakerID(speaker string) int {
	idx := strings.LastIndex(speaker, "_")
	if idx < 0 {
		return 0
	}
	id, err := strconv.Atoi(speaker[idx+1:])
	if err != nil {
		return 0
	}
	return id
}

// SpeakerLabel renders the canonical "SPEAKER_NN" label for a numeric id.
func SpeakerLabel(id int) string {
	return fmt.Sprintf("SPEAKER_%02d", id)
}

func sameVoice(a, b Segment) bool {
	return a.Speaker == b.Speaker || (a.IsUser && b.IsUser)
}

// Shift moves every segment by delta seconds. Used for the add path of the
// rebase (continuing an existing conversation).
func Shift(segments []Segment, delta float64) {
	for i := range segments {
		segments[i].Start += delta
		segments[i].End += delta
	}
}

// Trim subtracts delta seconds from every segment. Used for the trim path of
// the rebase (a fresh conversation whose clock starts at the first utterance).
func Trim(segments []Segment, delta float64) {
	for i := range segments {
		segments[i].Start -= delta
		segments[i].End -= delta
	}
}

// Combine merges incoming segments onto an existing tail. Adjacent incoming
// segments from the same voice collapse unconditionally; the persisted tail
// absorbs the incoming head only when the silence gap stays inside the merge
// window. Texts are joined and cleaned.
func Combine(existing, incoming []Segment) []Segment {
	if len(incoming) == 0 {
		return CleanAll(existing)
	}

	batch := make([]Segment, 0, len(incoming))
	for _, segment := range incoming {
		if n := len(batch); n > 0 && sameVoice(batch[n-1], segment) {
			batch[n-1].Text = batch[n-1].Text + " " + segment.Text
			batch[n-1].End = segment.End
			continue
		}
		batch = append(batch, segment)
	}

	merged := make([]Segment, 0, len(existing)+len(batch))
	merged = append(merged, existing...)
	if n := len(merged); n > 0 {
		tail := &merged[n-1]
		if sameVoice(*tail, batch[0]) && batch[0].Start-tail.End < MergeWindowSeconds {
			tail.Text = tail.Text + " " + batch[0].Text
			tail.End = batch[0].End
			batch = batch[1:]
		}
	}
	merged = append(merged, batch...)

	return CleanAll(merged)
}

// CleanAll normalizes whitespace and spaced punctuation on every segment.
func CleanAll(segments []Segment) []Segment {
	for i := range segments {
		segments[i].Text = CleanText(segments[i].Text)
	}
	return segments
}

var textCleaner = strings.NewReplacer(
	"  ", " ",
	" ,", ",",
	" .", ".",
	" ?", "?",
)

// CleanText collapses double spaces and detaches punctuation that providers
// leave space-prefixed after a merge.
func CleanText(text string) string {
	cleaned := strings.TrimSpace(text)
	for {
		next := textCleaner.Replace(cleaned)
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
}
