package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/lifecycle"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

type itemMutator interface {
	Mutate(ctx context.Context, id string, fn func(*models.Item) error) (*models.Item, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

// mutationRunner applies a lifecycle transition to one item. Callers for the same item are
// serialised in-process by the locker and across processes by the store's row locks.
type mutationRunner struct {
	store  itemMutator
	locker *ItemLocker
}

func (r mutationRunner) run(ctx context.Context, itemID string, fn func(*models.Item) error) (*models.Item, error) {
	unlock := r.locker.Lock(itemID)
	defer unlock()

	item, err := r.store.Mutate(ctx, itemID, func(item *models.Item) error {
		if err := fn(item); err != nil {
			return err
		}
		if err := lifecycle.CheckInvariants(item); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "item invariant violated")
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "item not found", "failed to update item")
	}
	return item, nil
}

// storeError keeps domain errors intact and maps everything else onto the API taxonomy.
func storeError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

// auditTrail records audit entries; failures are logged and never surface to the caller.
type auditTrail struct {
	audit  auditLogger
	logger *zap.Logger
	source string
}

func (a auditTrail) record(ctx context.Context, actor *models.JWTClaims, action, resource, resourceID string, oldValues, newValues interface{}) {
	if a.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
		IPAddress:  "system",
		UserAgent:  a.source,
	}
	if actor != nil {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if err := a.audit.CreateAuditLog(ctx, entry); err != nil {
		a.logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func requireActor(actor *models.JWTClaims) error {
	if actor == nil || actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	return nil
}

func requireStaff(actor *models.JWTClaims) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.Role.IsStaff() {
		return appErrors.Clone(appErrors.ErrForbidden, "staff role required")
	}
	return nil
}

// requireConfirmation implements the confirmation protocol for irreversible operations: the
// first call returns ErrConfirmationRequired carrying reason, the caller repeats it confirmed.
func requireConfirmation(confirmed bool, reason string) error {
	if confirmed {
		return nil
	}
	return appErrors.Clone(appErrors.ErrConfirmationRequired, reason)
}
