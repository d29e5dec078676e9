// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// UtteranceStore persists transcript lines with upsert-on-conflict
// semantics keyed on (callId, seq).
type UtteranceStore interface {
	// Upsert inserts u, or updates text/speaker/ts in place if (callId, seq)
	// already exists; duplicates update rather than error.
	Upsert(ctx context.Context, u *Utterance) error
	// ListOrdered returns every utterance for callId ordered by seq.
	ListOrdered(ctx context.Context, callID string) ([]Utterance, error)
	// Get fetches one utterance by primary key, or commons.ErrNotFound.
	Get(ctx context.Context, callID string, seq uint64) (*Utterance, error)
	// MaxSeq returns the highest seq recorded for callId (0 if none), the
	// DB fallback behind the App API's short-lived seq counter cache.
	MaxSeq(ctx context.Context, callID string) (uint64, error)
	// DeleteByCallID removes every utterance for callId (dispose path).
	DeleteByCallID(ctx context.Context, callID string) error
}

type utteranceStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewUtteranceStore constructs a Postgres-backed UtteranceStore.
func NewUtteranceStore(db *gorm.DB, logger commons.Logger) UtteranceStore {
	return &utteranceStore{db: db, logger: logger}
}

func (s *utteranceStore) Upsert(ctx context.Context, u *Utterance) error {
	if u.CreatedDate.IsZero() {
		u.CreatedDate = time.Now()
	}
	u.UpdatedDate = time.Now()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "speaker", "ts_ms", "updated_date"}),
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("store: upserting utterance callId=%s seq=%d: %w", u.CallID, u.Seq, err)
	}

	s.logger.Debugf("upserted utterance: callId=%s seq=%d speaker=%s", u.CallID, u.Seq, u.Speaker)
	return nil
}

func (s *utteranceStore) Get(ctx context.Context, callID string, seq uint64) (*Utterance, error) {
	var row Utterance
	err := s.db.WithContext(ctx).Where("call_id = ? AND seq = ?", callID, seq).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("store: no utterance callId=%s seq=%d: %w", callID, seq, commons.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading utterance callId=%s seq=%d: %w", callID, seq, err)
	}
	return &row, nil
}

func (s *utteranceStore) MaxSeq(ctx context.Context, callID string) (uint64, error) {
	row := s.db.WithContext(ctx).Model(&Utterance{}).
		Where("call_id = ?", callID).
		Select("MAX(seq)").
		Row()
	var max sql.NullInt64
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("store: reading max seq for callId=%s: %w", callID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

func (s *utteranceStore) DeleteByCallID(ctx context.Context, callID string) error {
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&Utterance{}).Error; err != nil {
		return fmt.Errorf("store: deleting utterances callId=%s: %w", callID, err)
	}
	s.logger.Debugf("cleared utterances: callId=%s", callID)
	return nil
}

func (s *utteranceStore) ListOrdered(ctx context.Context, callID string) ([]Utterance, error) {
	var rows []Utterance
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: listing utterances for callId=%s: %w", callID, err)
	}
	return rows, nil
}
