// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/agent-assist/internal/commons"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gdb, mock
}

func TestDispositionStore_Create_IdempotentOnConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	s := NewDispositionStore(gdb, commons.NewApplicationLogger("development", ""))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "dispositions"`)).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()

	err := s.Create(context.Background(), &Disposition{
		CallID:       "call-1",
		IssueSummary: "billing question",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntentStore_DeleteByCallID(t *testing.T) {
	gdb, mock := newMockDB(t)
	s := NewIntentStore(gdb, commons.NewApplicationLogger("development", ""))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "intents"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.DeleteByCallID(context.Background(), "call-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
