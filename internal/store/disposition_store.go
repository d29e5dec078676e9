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
	"gorm.io/gorm/clause"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// DispositionStore persists exactly one disposition row per callId.
type DispositionStore interface {
	// Create inserts d if none exists yet for d.CallID; a repeat call for
	// the same callId is a no-op (DO NOTHING), satisfying the "idempotent
	// per callId, never re-invokes the LLM" contract at the storage layer.
	Create(ctx context.Context, d *Disposition) error
	Get(ctx context.Context, callID string) (*Disposition, error)
}

type dispositionStore struct {
	db     *gorm.DB
	logger commons.Logger
}

func NewDispositionStore(db *gorm.DB, logger commons.Logger) DispositionStore {
	return &dispositionStore{db: db, logger: logger}
}

func (s *dispositionStore) Create(ctx context.Context, d *Disposition) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoNothing: true,
	}).Create(d).Error
	if err != nil {
		return fmt.Errorf("store: creating disposition callId=%s: %w", d.CallID, err)
	}
	return nil
}

func (s *dispositionStore) Get(ctx context.Context, callID string) (*Disposition, error) {
	var row Disposition
	err := s.db.WithContext(ctx).Where("call_id = ?", callID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("store: no disposition for callId=%s: %w", callID, commons.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading disposition callId=%s: %w", callID, err)
	}
	return &row, nil
}
