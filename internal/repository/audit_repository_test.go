package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/models"
)

func TestAuditRepositoryCreateAssignsIDAndTime(t *testing.T) {
	db, mock, cleanup := newItemRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "staff-1", models.AuditActionClaimApprove, "claim", "claim-a", sqlmock.AnyArg(), []byte(`{"status":"approved"}`), "system", "adjudication-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	userID, resourceID := "staff-1", "claim-a"
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionClaimApprove,
		Resource:   "claim",
		ResourceID: &resourceID,
		NewValues:  []byte(`{"status":"approved"}`),
		IPAddress:  "system",
		UserAgent:  "adjudication-service",
	}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreateWrapsErrors(t *testing.T) {
	db, mock, cleanup := newItemRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnError(errors.New("disk full"))

	err := repo.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionItemReport, Resource: "item"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create audit log")
}

func TestAuditRepositoryListByResource(t *testing.T) {
	db, mock, cleanup := newItemRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	at := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "created_at"}).
		AddRow("log-1", "reporter-1", models.AuditActionItemReport, "item", "item-1", nil, []byte(`{}`), "system", "item-service", at).
		AddRow("log-2", nil, models.AuditActionItemExpire, "item", "item-1", nil, []byte(`{}`), "system", "item-service", at.Add(time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE resource = $1 AND resource_id = $2")).
		WithArgs("item", "item-1").
		WillReturnRows(rows)

	logs, err := repo.ListByResource(context.Background(), "item", "item-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, "reporter-1", *logs[0].UserID)
	assert.Nil(t, logs[1].UserID)
	assert.Equal(t, models.AuditActionItemExpire, logs[1].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
