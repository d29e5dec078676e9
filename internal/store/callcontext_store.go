// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// CallContextStore bridges the Ingest Gateway's accepted carrier `start`
// frame to any later asynchronous provider callback. Rows are never deleted
// during a call's lifecycle; they only transition pending -> claimed ->
// completed, because a status webhook can legitimately arrive after the
// media stream itself has already closed.
type CallContextStore interface {
	// Save stores cc with a generated contextId (UUID) if not already set.
	Save(ctx context.Context, cc *CallContext) (string, error)
	// Get retrieves a call context by contextId regardless of status.
	Get(ctx context.Context, contextID string) (*CallContext, error)
	// Claim atomically transitions "pending" to "claimed"; only one
	// concurrent caller wins.
	Claim(ctx context.Context, contextID string) (*CallContext, error)
	// Complete marks a call context completed; the row remains readable.
	Complete(ctx context.Context, contextID string) error
	// CompleteByCallID resolves every non-completed context for callID,
	// the path a carrier's asynchronous status callback takes when the
	// media stream (and its contextId) is already gone.
	CompleteByCallID(ctx context.Context, callID string) error
	// UpdateField sets a single allowlisted column.
	UpdateField(ctx context.Context, contextID, field, value string) error
}

type callContextStore struct {
	db     *gorm.DB
	logger commons.Logger
}

func NewCallContextStore(db *gorm.DB, logger commons.Logger) CallContextStore {
	return &callContextStore{db: db, logger: logger}
}

func (s *callContextStore) Save(ctx context.Context, cc *CallContext) (string, error) {
	if cc.ContextID == "" {
		cc.ContextID = uuid.New().String()
	}
	if cc.Status == "" {
		cc.Status = CallContextStatusPending
	}

	if err := s.db.WithContext(ctx).Create(cc).Error; err != nil {
		return "", fmt.Errorf("store: saving call context %s: %w", cc.ContextID, err)
	}

	s.logger.Infof("saved call context: contextId=%s callId=%s direction=%s", cc.ContextID, cc.CallID, cc.Direction)
	return cc.ContextID, nil
}

func (s *callContextStore) Get(ctx context.Context, contextID string) (*CallContext, error) {
	var cc CallContext
	if err := s.db.WithContext(ctx).Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("store: call context not found %s: %w", contextID, err)
	}
	return &cc, nil
}

func (s *callContextStore) Claim(ctx context.Context, contextID string) (*CallContext, error) {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ? AND status = ?", contextID, CallContextStatusPending).
		Updates(map[string]interface{}{
			"status":       CallContextStatusClaimed,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("store: claiming call context %s: %w", contextID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("store: call context %s not found or already claimed", contextID)
	}

	var cc CallContext
	if err := s.db.WithContext(ctx).Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("store: fetching claimed call context %s: %w", contextID, err)
	}
	s.logger.Debugf("claimed call context: contextId=%s callId=%s", cc.ContextID, cc.CallID)
	return &cc, nil
}

func (s *callContextStore) Complete(ctx context.Context, contextID string) error {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Updates(map[string]interface{}{
			"status":       CallContextStatusCompleted,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("store: completing call context %s: %w", contextID, result.Error)
	}
	s.logger.Debugf("completed call context: contextId=%s", contextID)
	return nil
}

func (s *callContextStore) CompleteByCallID(ctx context.Context, callID string) error {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("call_id = ? AND status <> ?", callID, CallContextStatusCompleted).
		Updates(map[string]interface{}{
			"status":       CallContextStatusCompleted,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("store: completing call contexts for callId=%s: %w", callID, result.Error)
	}
	s.logger.Debugf("completed %d call context(s): callId=%s", result.RowsAffected, callID)
	return nil
}

var callContextUpdatableFields = map[string]bool{
	"channel_uuid": true,
	"status":       true,
	"provider":     true,
}

func (s *callContextStore) UpdateField(ctx context.Context, contextID, field, value string) error {
	if !callContextUpdatableFields[field] {
		return fmt.Errorf("store: field %q is not updatable on call context", field)
	}

	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("store: updating field %s on call context %s: %w", field, contextID, result.Error)
	}
	s.logger.Debugf("updated call context field: contextId=%s %s=%s", contextID, field, value)
	return nil
}
