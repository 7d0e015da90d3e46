// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_conversation

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	internal_transcript "github.com/rapidaai/listen/api/listen-api/internal/transcript"
)

// Status is the two-phase lifecycle of a conversation. The store owns the
// state machine; the relay only issues transitions and treats the persisted
// status as authoritative on every re-read.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDiscarded  Status = "discarded"
)

// SegmentList stores the ordered transcript as a JSONB column.
type SegmentList []internal_transcript.Segment

func (sl SegmentList) Value() (driver.Value, error) {
	if sl == nil {
		sl = SegmentList{}
	}
	return json.Marshal(sl)
}

func (sl *SegmentList) Scan(value interface{}) error {
	if value == nil {
		*sl = SegmentList{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported segment list column type %T", value)
	}
	return json.Unmarshal(raw, sl)
}

// Conversation is the rolling in-progress aggregate for one user. At most one
// row per uid may hold StatusInProgress; FinishedAt advances monotonically
// while in progress and freezes once the row transitions to processing.
type Conversation struct {
	ID                 string      `gorm:"column:id;primaryKey" json:"id"`
	UID                string      `gorm:"column:uid;index" json:"uid"`
	Language           string      `gorm:"column:language" json:"language"`
	CreatedAt          time.Time   `gorm:"column:created_at" json:"created_at"`
	StartedAt          time.Time   `gorm:"column:started_at" json:"started_at"`
	FinishedAt         time.Time   `gorm:"column:finished_at" json:"finished_at"`
	Status             Status      `gorm:"column:status;index" json:"status"`
	Discarded          bool        `gorm:"column:discarded" json:"discarded"`
	GeocodedAddress    string      `gorm:"column:geocoded_address" json:"geocoded_address,omitempty"`
	TranscriptSegments SegmentList `gorm:"column:transcript_segments;type:jsonb" json:"transcript_segments"`
}

func (Conversation) TableName() string { return "conversations" }
