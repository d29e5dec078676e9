// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// IntentStore is append-only; Latest reads the most recent row per callId.
type IntentStore interface {
	Append(ctx context.Context, in *Intent) error
	// Latest returns the most recent intent for callId, or commons.ErrNotFound
	// if none has been recorded yet.
	Latest(ctx context.Context, callID string) (*Intent, error)
	// DeleteByCallID removes every intent row for callId so a reused cache
	// key never surfaces a stale suggestion after disposition.
	DeleteByCallID(ctx context.Context, callID string) error
}

type intentStore struct {
	db     *gorm.DB
	logger commons.Logger
}

func NewIntentStore(db *gorm.DB, logger commons.Logger) IntentStore {
	return &intentStore{db: db, logger: logger}
}

func (s *intentStore) Append(ctx context.Context, in *Intent) error {
	if err := s.db.WithContext(ctx).Create(in).Error; err != nil {
		return fmt.Errorf("store: appending intent callId=%s: %w", in.CallID, err)
	}
	return nil
}

func (s *intentStore) Latest(ctx context.Context, callID string) (*Intent, error) {
	var row Intent
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_date DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("store: no intent recorded for callId=%s: %w", callID, commons.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading latest intent callId=%s: %w", callID, err)
	}
	return &row, nil
}

func (s *intentStore) DeleteByCallID(ctx context.Context, callID string) error {
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&Intent{}).Error; err != nil {
		return fmt.Errorf("store: deleting intents callId=%s: %w", callID, err)
	}
	s.logger.Debugf("cleared intent rows: callId=%s", callID)
	return nil
}
