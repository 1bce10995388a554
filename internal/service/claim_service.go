package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/lifecycle"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

type claimStore interface {
	itemMutator
	GetByID(ctx context.Context, id string) (*models.Item, error)
	ListClaimsByUser(ctx context.Context, userID string) ([]models.Claim, error)
}

// ClaimService accepts ownership claims against found items.
type ClaimService struct {
	store     claimStore
	uploads   batchClaimer
	runner    mutationRunner
	audit     auditTrail
	cache     *CacheService
	notifier  Notifier
	sanitizer *Sanitizer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ClaimOption configures the claim service.
type ClaimOption func(*ClaimService)

// WithClaimNotifier sets the notifier collaborator.
func WithClaimNotifier(n Notifier) ClaimOption {
	return func(s *ClaimService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClaimCache enables cache invalidation after submissions.
func WithClaimCache(c *CacheService) ClaimOption {
	return func(s *ClaimService) { s.cache = c }
}

// WithClaimClock overrides the time source.
func WithClaimClock(now func() time.Time) ClaimOption {
	return func(s *ClaimService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewClaimService constructs the service.
func NewClaimService(store claimStore, uploads batchClaimer, locker *ItemLocker, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...ClaimOption) *ClaimService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if locker == nil {
		locker = NewItemLocker()
	}
	svc := &ClaimService{
		store:     store,
		uploads:   uploads,
		runner:    mutationRunner{store: store, locker: locker},
		audit:     auditTrail{audit: audit, logger: logger, source: "claim-service"},
		notifier:  noopNotifier{},
		sanitizer: NewSanitizer(),
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit files a pending claim against an active found item. The reporter cannot claim their
// own item and a user may hold only one pending claim per item.
func (s *ClaimService) Submit(ctx context.Context, itemID string, req dto.SubmitClaimRequest, actor *models.JWTClaims) (*models.Claim, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid claim payload")
	}
	notes := s.sanitizer.Text(req.Notes)
	if len([]rune(notes)) < 10 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notes must describe the item in at least 10 characters")
	}

	documents, lease, err := s.uploads.Claim(req.DocumentBatchID, actor.UserID, BatchKindClaimDocuments)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	claim := models.Claim{
		ID:                    uuid.NewString(),
		ClaimedBy:             actor.UserID,
		Notes:                 notes,
		VerificationDocuments: documents,
		Status:                models.ClaimStatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	item, err := s.runner.run(ctx, itemID, func(item *models.Item) error {
		if item.ReportedBy == actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "reporters cannot claim their own item")
		}
		if err := lifecycle.CanAcceptClaim(item); err != nil {
			return err
		}
		for _, existing := range item.Claims {
			if existing.ClaimedBy == actor.UserID && existing.Status == models.ClaimStatusPending {
				return appErrors.Clone(appErrors.ErrConflict, "you already have a pending claim for this item")
			}
		}
		return lifecycle.AddClaim(item, claim)
	})
	if err != nil {
		lease.Release()
		return nil, err
	}
	lease.Commit()

	created := item.FindClaim(claim.ID)
	if created == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "claim not persisted")
	}
	s.logger.Info("claim submitted",
		zap.String("item_id", itemID),
		zap.String("claim_id", created.ID),
		zap.Int("documents", len(created.VerificationDocuments)),
	)
	s.audit.record(ctx, actor, models.AuditActionClaimSubmit, "claim", created.ID, nil, created)
	s.cache.InvalidateItem(ctx, itemID)
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotificationClaimSubmitted,
		Recipient: item.ReportedBy,
		ItemID:    itemID,
		ClaimID:   created.ID,
		Message:   fmt.Sprintf("A new claim was submitted for %q.", item.Title),
		CreatedAt: now,
	})
	return created, nil
}

// ListForItem returns every claim on an item in submission order. Staff and the reporter only.
func (s *ClaimService) ListForItem(ctx context.Context, itemID string, actor *models.JWTClaims) ([]models.Claim, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := s.store.GetByID(ctx, itemID)
	if err != nil {
		return nil, storeError(err, "item not found", "failed to load item")
	}
	if !actor.Role.IsStaff() && item.ReportedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff or the reporter can list claims")
	}
	if item.Claims == nil {
		return []models.Claim{}, nil
	}
	return item.Claims, nil
}

// ListMine returns the caller's own claims, newest first.
func (s *ClaimService) ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.Claim, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaimsByUser(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list claims")
	}
	if claims == nil {
		claims = []models.Claim{}
	}
	return claims, nil
}
