// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rapidaai/listen/pkg/commons"
	"github.com/rapidaai/listen/pkg/connectors"
)

// Store provides the conversation document operations the relay consumes.
//
// Rows are never deleted by the relay. A conversation moves through
// in_progress → processing → completed/discarded; the processing transition
// is the point of no return after which no segments may be appended.
type Store interface {
	// Get retrieves a conversation by id regardless of status. Returns
	// (nil, nil) when the row does not exist.
	Get(ctx context.Context, uid, id string) (*Conversation, error)

	// GetInProgress returns the user's in-progress conversation via the
	// store-level index, or (nil, nil) when none exists.
	GetInProgress(ctx context.Context, uid string) (*Conversation, error)

	// GetProcessing returns every conversation stuck in processing for the
	// uid; the catch-up activity replays these through finalization.
	GetProcessing(ctx context.Context, uid string) ([]Conversation, error)

	// GetLastCompleted returns the most recently finished completed
	// conversation, or (nil, nil).
	GetLastCompleted(ctx context.Context, uid string) (*Conversation, error)

	// Upsert writes the full conversation document.
	Upsert(ctx context.Context, conversation *Conversation) error

	// UpdateStatus transitions the lifecycle status.
	UpdateStatus(ctx context.Context, uid, id string, status Status) error

	// UpdateSegments replaces the persisted transcript.
	UpdateSegments(ctx context.Context, uid, id string, segments SegmentList) error

	// UpdateFinishedAt advances the finished_at watermark.
	UpdateFinishedAt(ctx context.Context, uid, id string, finishedAt time.Time) error

	// SetDiscarded marks a conversation whose post-processing failed.
	SetDiscarded(ctx context.Context, uid, id string) error
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates the postgres-backed conversation store.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{postgres: postgres, logger: logger}
}

func (s *postgresStore) Get(ctx context.Context, uid, id string) (*Conversation, error) {
	db := s.postgres.DB(ctx)
	var conversation Conversation
	err := db.Where("uid = ? AND id = ?", uid, id).First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conversation, nil
}

func (s *postgresStore) GetInProgress(ctx context.Context, uid string) (*Conversation, error) {
	db := s.postgres.DB(ctx)
	var conversation Conversation
	err := db.Where("uid = ? AND status = ?", uid, StatusInProgress).
		Order("started_at DESC").
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get in-progress conversation for %s: %w", uid, err)
	}
	return &conversation, nil
}

func (s *postgresStore) GetProcessing(ctx context.Context, uid string) ([]Conversation, error) {
	db := s.postgres.DB(ctx)
	var conversations []Conversation
	err := db.Where("uid = ? AND status = ?", uid, StatusProcessing).
		Order("started_at ASC").
		Find(&conversations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get processing conversations for %s: %w", uid, err)
	}
	return conversations, nil
}

func (s *postgresStore) GetLastCompleted(ctx context.Context, uid string) (*Conversation, error) {
	db := s.postgres.DB(ctx)
	var conversation Conversation
	err := db.Where("uid = ? AND status = ?", uid, StatusCompleted).
		Order("finished_at DESC").
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last completed conversation for %s: %w", uid, err)
	}
	return &conversation, nil
}

func (s *postgresStore) Upsert(ctx context.Context, conversation *Conversation) error {
	db := s.postgres.DB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(conversation).Error
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", conversation.ID, err)
	}
	s.logger.Debugf("upserted conversation: id=%s, uid=%s, status=%s",
		conversation.ID, conversation.UID, conversation.Status)
	return nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, uid, id string, status Status) error {
	return s.update(ctx, uid, id, map[string]interface{}{"status": status})
}

func (s *postgresStore) UpdateSegments(ctx context.Context, uid, id string, segments SegmentList) error {
	return s.update(ctx, uid, id, map[string]interface{}{"transcript_segments": segments})
}

func (s *postgresStore) UpdateFinishedAt(ctx context.Context, uid, id string, finishedAt time.Time) error {
	return s.update(ctx, uid, id, map[string]interface{}{"finished_at": finishedAt})
}

func (s *postgresStore) SetDiscarded(ctx context.Context, uid, id string) error {
	return s.update(ctx, uid, id, map[string]interface{}{
		"status":    StatusDiscarded,
		"discarded": true,
	})
}

func (s *postgresStore) update(ctx context.Context, uid, id string, fields map[string]interface{}) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&Conversation{}).
		Where("uid = ? AND id = ?", uid, id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update conversation %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s not found for uid %s", id, uid)
	}
	return nil
}
