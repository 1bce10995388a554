package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/lifecycle"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

type receiptIssuer interface {
	IssueHandoverReceipt(item *models.Item, officer string) (*models.Artifact, error)
}

// AdjudicationService applies staff decisions to claims and items. Every operation is one
// transition of a single item snapshot, so sibling suppression on approval can never race a
// concurrently submitted claim.
type AdjudicationService struct {
	runner    mutationRunner
	audit     auditTrail
	cache     *CacheService
	notifier  Notifier
	metrics   *MetricsService
	receipts  receiptIssuer
	sanitizer *Sanitizer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// AdjudicationOption configures the service.
type AdjudicationOption func(*AdjudicationService)

// WithAdjudicationNotifier sets the notifier collaborator.
func WithAdjudicationNotifier(n Notifier) AdjudicationOption {
	return func(s *AdjudicationService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAdjudicationCache enables cache invalidation after transitions.
func WithAdjudicationCache(c *CacheService) AdjudicationOption {
	return func(s *AdjudicationService) { s.cache = c }
}

// WithAdjudicationMetrics records decisions and transitions.
func WithAdjudicationMetrics(m *MetricsService) AdjudicationOption {
	return func(s *AdjudicationService) { s.metrics = m }
}

// WithHandoverReceipts issues a PDF receipt on police handover.
func WithHandoverReceipts(r receiptIssuer) AdjudicationOption {
	return func(s *AdjudicationService) { s.receipts = r }
}

// WithAdjudicationClock overrides the time source.
func WithAdjudicationClock(now func() time.Time) AdjudicationOption {
	return func(s *AdjudicationService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAdjudicationService constructs the service.
func NewAdjudicationService(store itemMutator, locker *ItemLocker, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...AdjudicationOption) *AdjudicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if locker == nil {
		locker = NewItemLocker()
	}
	svc := &AdjudicationService{
		runner:    mutationRunner{store: store, locker: locker},
		audit:     auditTrail{audit: audit, logger: logger, source: "adjudication-service"},
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

// Approve accepts a pending claim, rejects its pending siblings and marks the item claimed.
func (s *AdjudicationService) Approve(ctx context.Context, itemID, claimID string, req dto.ApproveClaimRequest, actor *models.JWTClaims) (*lifecycle.Decision, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	note := s.sanitizer.Text(req.Notes)

	var decision *lifecycle.Decision
	item, err := s.runner.run(ctx, itemID, func(item *models.Item) error {
		var err error
		decision, err = lifecycle.Approve(item, claimID, actor.UserID, note, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("claim approved",
		zap.String("item_id", itemID),
		zap.String("claim_id", claimID),
		zap.Int("suppressed", len(decision.Suppressed)),
		zap.String("reviewer", actor.UserID),
	)
	s.audit.record(ctx, actor, models.AuditActionClaimApprove, "claim", claimID, nil, decision.Approved)
	for _, suppressed := range decision.Suppressed {
		s.audit.record(ctx, actor, models.AuditActionClaimSuppress, "claim", suppressed.ID, nil, suppressed)
	}
	s.metrics.RecordDecision("approved", 1)
	s.metrics.RecordDecision("suppressed", len(decision.Suppressed))
	s.metrics.RecordTransition(string(models.ItemStatusClaimed))
	s.cache.InvalidateItem(ctx, itemID)

	notifications := []models.Notification{{
		Type:      models.NotificationClaimApproved,
		Recipient: decision.Approved.ClaimedBy,
		ItemID:    itemID,
		ClaimID:   claimID,
		Message:   fmt.Sprintf("Your claim for %q was approved.", item.Title),
		CreatedAt: s.now().UTC(),
	}}
	for _, suppressed := range decision.Suppressed {
		notifications = append(notifications, models.Notification{
			Type:      models.NotificationClaimRejected,
			Recipient: suppressed.ClaimedBy,
			ItemID:    itemID,
			ClaimID:   suppressed.ID,
			Message:   fmt.Sprintf("Your claim for %q was not approved: %s", item.Title, lifecycle.SuppressedNote),
			CreatedAt: s.now().UTC(),
		})
	}
	s.notifier.Notify(ctx, notifications...)
	return decision, nil
}

// Reject declines a single pending claim. A reason is mandatory.
func (s *AdjudicationService) Reject(ctx context.Context, itemID, claimID string, req dto.RejectClaimRequest, actor *models.JWTClaims) (*models.Claim, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	reason := s.sanitizer.Text(req.Reason)

	var rejected *models.Claim
	item, err := s.runner.run(ctx, itemID, func(item *models.Item) error {
		var err error
		rejected, err = lifecycle.Reject(item, claimID, actor.UserID, reason, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("claim rejected", zap.String("item_id", itemID), zap.String("claim_id", claimID), zap.String("reviewer", actor.UserID))
	s.audit.record(ctx, actor, models.AuditActionClaimReject, "claim", claimID, nil, rejected)
	s.metrics.RecordDecision("rejected", 1)
	s.cache.InvalidateItem(ctx, itemID)
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotificationClaimRejected,
		Recipient: rejected.ClaimedBy,
		ItemID:    itemID,
		ClaimID:   claimID,
		Message:   fmt.Sprintf("Your claim for %q was rejected: %s", item.Title, reason),
		CreatedAt: s.now().UTC(),
	})
	return rejected, nil
}

// Review applies a decision from the verification surface, where "verified" means approved.
func (s *AdjudicationService) Review(ctx context.Context, itemID, claimID string, req dto.ReviewClaimRequest, actor *models.JWTClaims) (*models.Claim, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	status, err := models.ParseClaimDecision(req.Status)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be approved, verified or rejected")
	}
	if status == models.ClaimStatusRejected {
		return s.Reject(ctx, itemID, claimID, dto.RejectClaimRequest{Reason: req.Note}, actor)
	}
	decision, err := s.Approve(ctx, itemID, claimID, dto.ApproveClaimRequest{Notes: req.Note}, actor)
	if err != nil {
		return nil, err
	}
	return &decision.Approved, nil
}

// MarkReturned records that the approved claimant collected the item.
func (s *AdjudicationService) MarkReturned(ctx context.Context, itemID string, req dto.ReturnItemRequest, actor *models.JWTClaims) (*models.Item, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid return payload")
	}
	notes := s.sanitizer.Text(req.Notes)

	var before models.ItemStatus
	item, err := s.runner.run(ctx, itemID, func(item *models.Item) error {
		before = item.Status
		return lifecycle.MarkReturned(item, req.ClaimID, notes, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	claim := item.FindClaim(req.ClaimID)
	s.logger.Info("item returned", zap.String("item_id", itemID), zap.String("claim_id", req.ClaimID))
	s.audit.record(ctx, actor, models.AuditActionItemReturn, "item", itemID,
		map[string]string{"status": string(before)},
		map[string]interface{}{"status": item.Status, "claimId": req.ClaimID, "returnNotes": item.ReturnNotes})
	s.metrics.RecordTransition(string(models.ItemStatusReturned))
	s.cache.InvalidateItem(ctx, itemID)

	message := fmt.Sprintf("%q has been returned to its owner.", item.Title)
	s.notifier.Notify(ctx,
		models.Notification{Type: models.NotificationItemReturned, Recipient: claim.ClaimedBy, ItemID: itemID, ClaimID: claim.ID, Message: message, CreatedAt: s.now().UTC()},
		models.Notification{Type: models.NotificationItemReturned, Recipient: item.ReportedBy, ItemID: itemID, ClaimID: claim.ID, Message: message, CreatedAt: s.now().UTC()},
	)
	return item, nil
}

// HandoverToPolice flags an expired found item as transferred to police custody. The transfer
// is irreversible, so a valid request without confirmation is answered with
// ErrConfirmationRequired and nothing changes.
func (s *AdjudicationService) HandoverToPolice(ctx context.Context, itemID string, req dto.HandoverRequest, actor *models.JWTClaims) (*models.Item, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid handover payload")
	}
	reportNumber := s.sanitizer.Text(req.ReportNumber)

	item, err := s.runner.run(ctx, itemID, func(item *models.Item) error {
		now := s.now().UTC()
		if err := lifecycle.HandOver(item.Clone(), reportNumber, now); err != nil {
			return err
		}
		if err := requireConfirmation(req.Confirm, fmt.Sprintf("handing %q over to police under report %s cannot be undone", item.Title, reportNumber)); err != nil {
			return err
		}
		if err := lifecycle.HandOver(item, reportNumber, now); err != nil {
			return err
		}
		if s.receipts != nil {
			receipt, err := s.receipts.IssueHandoverReceipt(item, actor.UserID)
			if err != nil {
				s.logger.Warn("handover receipt not issued", zap.String("item_id", itemID), zap.Error(err))
			} else {
				item.HandoverReceipt = receipt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item handed over to police", zap.String("item_id", itemID), zap.String("report_number", reportNumber))
	s.audit.record(ctx, actor, models.AuditActionItemHandover, "item", itemID, nil,
		map[string]interface{}{"policeReportNumber": reportNumber, "handedOverAt": item.HandedOverAt})
	s.metrics.RecordTransition("handed_over")
	s.cache.InvalidateItem(ctx, itemID)
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotificationItemHandover,
		Recipient: item.ReportedBy,
		ItemID:    itemID,
		Message:   fmt.Sprintf("%q was handed over to police (report %s).", item.Title, reportNumber),
		CreatedAt: s.now().UTC(),
	})
	return item, nil
}
