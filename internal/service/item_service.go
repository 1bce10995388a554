package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/lifecycle"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

const (
	defaultExpiryWindow = 30 * 24 * time.Hour
	sweepBatchSize      = 500
)

type itemStore interface {
	itemMutator
	Create(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, id string) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error)
	ListExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.ExpiryCandidate, error)
	Delete(ctx context.Context, id string) error
}

type batchClaimer interface {
	Claim(batchID, owner string, kind BatchKind) (models.ArtifactList, *BatchLease, error)
}

type artifactRemover interface {
	Delete(artifacts ...models.Artifact)
}

// MatchFinder is the external similarity service. It receives an item snapshot and returns
// ranked candidates with a 0-100 score.
type MatchFinder interface {
	FindMatches(ctx context.Context, item models.Item) ([]models.MatchCandidate, error)
}

// MatchFinderFunc adapts a function into a MatchFinder.
type MatchFinderFunc func(ctx context.Context, item models.Item) ([]models.MatchCandidate, error)

// FindMatches implements MatchFinder.
func (f MatchFinderFunc) FindMatches(ctx context.Context, item models.Item) ([]models.MatchCandidate, error) {
	return f(ctx, item)
}

type noMatches struct{}

func (noMatches) FindMatches(context.Context, models.Item) ([]models.MatchCandidate, error) {
	return []models.MatchCandidate{}, nil
}

// ItemService manages item reports and the item-level lifecycle outside adjudication.
type ItemService struct {
	store     itemStore
	uploads   batchClaimer
	runner    mutationRunner
	audit     auditTrail
	matches   MatchFinder
	cache     *CacheService
	notifier  Notifier
	metrics   *MetricsService
	artifacts artifactRemover
	history   auditReader
	sanitizer *Sanitizer
	validator *validator.Validate
	logger    *zap.Logger

	expiryWindow time.Duration
	matchTTL     time.Duration
	now          func() time.Time
}

// ItemOption configures the item service.
type ItemOption func(*ItemService)

// WithMatchFinder sets the similarity collaborator.
func WithMatchFinder(f MatchFinder) ItemOption {
	return func(s *ItemService) {
		if f != nil {
			s.matches = f
		}
	}
}

// WithItemCache enables item and match caching.
func WithItemCache(c *CacheService, matchTTL time.Duration) ItemOption {
	return func(s *ItemService) {
		s.cache = c
		s.matchTTL = matchTTL
	}
}

// WithItemNotifier sets the notifier collaborator.
func WithItemNotifier(n Notifier) ItemOption {
	return func(s *ItemService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithItemMetrics records transitions and sweeps.
func WithItemMetrics(m *MetricsService) ItemOption {
	return func(s *ItemService) { s.metrics = m }
}

// WithArtifactRemover deletes stored artifacts when an item is deleted.
func WithArtifactRemover(r artifactRemover) ItemOption {
	return func(s *ItemService) { s.artifacts = r }
}

// WithAuditHistory exposes the audit trail through History.
func WithAuditHistory(r auditReader) ItemOption {
	return func(s *ItemService) { s.history = r }
}

// WithExpiryWindow sets how long a found item stays active before the sweep expires it.
func WithExpiryWindow(d time.Duration) ItemOption {
	return func(s *ItemService) {
		if d > 0 {
			s.expiryWindow = d
		}
	}
}

// WithItemClock overrides the time source.
func WithItemClock(now func() time.Time) ItemOption {
	return func(s *ItemService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewItemService constructs the service.
func NewItemService(store itemStore, uploads batchClaimer, locker *ItemLocker, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...ItemOption) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if locker == nil {
		locker = NewItemLocker()
	}
	svc := &ItemService{
		store:        store,
		uploads:      uploads,
		runner:       mutationRunner{store: store, locker: locker},
		audit:        auditTrail{audit: audit, logger: logger, source: "item-service"},
		matches:      noMatches{},
		notifier:     noopNotifier{},
		sanitizer:    NewSanitizer(),
		validator:    validate,
		logger:       logger,
		expiryWindow: defaultExpiryWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Report creates an active item from a settled image batch.
func (s *ItemService) Report(ctx context.Context, req dto.ReportItemRequest, actor *models.JWTClaims) (*models.Item, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	occurredOn, err := time.Parse("2006-01-02", req.OccurredOn)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "occurredOn must be YYYY-MM-DD")
	}
	if occurredOn.After(s.now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "occurredOn cannot be in the future")
	}

	images, lease, err := s.uploads.Claim(req.ImageBatchID, actor.UserID, BatchKindItemImages)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	item := &models.Item{
		Type:              req.Type,
		Category:          s.sanitizer.Text(req.Category),
		Title:             s.sanitizer.Text(req.Title),
		Description:       s.sanitizer.Text(req.Description),
		Location:          s.sanitizer.Text(req.Location),
		OccurredOn:        occurredOn,
		ReportedBy:        actor.UserID,
		Images:            images,
		AdditionalDetails: s.sanitizer.Attributes(req.AdditionalDetails),
		Status:            models.ItemStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if item.Title == "" || item.Category == "" {
		lease.Release()
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and category must contain text")
	}
	if err := s.store.Create(ctx, item); err != nil {
		lease.Release()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create item")
	}
	lease.Commit()

	s.logger.Info("item reported", zap.String("item_id", item.ID), zap.String("type", string(item.Type)), zap.Int("images", len(item.Images)))
	s.audit.record(ctx, actor, models.AuditActionItemReport, "item", item.ID, nil, item)
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, MatchesKey("*"))
	}
	return item, nil
}

// Get returns an item. Claims are visible to staff and the reporter; other users only see
// their own claims.
func (s *ItemService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Item, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return visibleTo(item, actor), nil
}

func (s *ItemService) load(ctx context.Context, id string) (*models.Item, error) {
	var cached models.Item
	if hit, _ := s.cache.Get(ctx, ItemKey(id), &cached); hit {
		return &cached, nil
	}
	epoch := s.cache.ItemEpoch(id)
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "item not found", "failed to load item")
	}
	s.cache.SetItem(ctx, id, item, epoch)
	return item, nil
}

func visibleTo(item *models.Item, actor *models.JWTClaims) *models.Item {
	if actor.Role.IsStaff() || item.ReportedBy == actor.UserID {
		return item
	}
	own := make([]models.Claim, 0, 1)
	for _, claim := range item.Claims {
		if claim.ClaimedBy == actor.UserID {
			own = append(own, claim)
		}
	}
	out := *item
	out.Claims = own
	return &out
}

// List returns items matching the query.
func (s *ItemService) List(ctx context.Context, query dto.ItemListQuery, actor *models.JWTClaims) ([]models.Item, *models.Pagination, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	filter := models.ItemFilter{
		Category: strings.TrimSpace(query.Category),
		Search:   strings.TrimSpace(query.Search),
		Limit:    query.Limit,
		Offset:   query.Offset,
	}
	if query.Type != "" {
		filter.Type = models.ItemType(strings.ToLower(query.Type))
		if !filter.Type.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "type must be lost or found")
		}
	}
	for _, raw := range query.Status {
		for _, part := range strings.Split(raw, ",") {
			status := models.ItemStatus(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", part))
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if query.Mine {
		filter.ReportedBy = actor.UserID
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list items")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return items, &models.Pagination{Limit: limit, Offset: filter.Offset, Count: total}, nil
}

// FindMatches asks the similarity collaborator for candidates matching the item. Only the
// reporter and staff may look up matches.
func (s *ItemService) FindMatches(ctx context.Context, id string, actor *models.JWTClaims) ([]models.MatchCandidate, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() && item.ReportedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the reporter can look up matches")
	}

	var cached []models.MatchCandidate
	if hit, _ := s.cache.Get(ctx, MatchesKey(id), &cached); hit {
		return cached, nil
	}
	snapshot := *item
	snapshot.Claims = nil
	matches, err := s.matches.FindMatches(ctx, snapshot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "match lookup failed")
	}
	_ = s.cache.Set(ctx, MatchesKey(id), matches, s.matchTTL)
	return matches, nil
}

// BulkExpire expires several active found items. Items in any other state are reported as
// skipped and left untouched.
func (s *ItemService) BulkExpire(ctx context.Context, req dto.BulkExpireRequest, actor *models.JWTClaims) ([]dto.BulkExpireResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk expire payload")
	}
	if err := requireConfirmation(req.Confirm, fmt.Sprintf("expiring %d item(s) closes them to new claims", len(req.ItemIDs))); err != nil {
		return nil, err
	}

	results := make([]dto.BulkExpireResult, 0, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		result := dto.BulkExpireResult{ItemID: id}
		if _, err := s.expire(ctx, id, actor, nil); err != nil {
			var appErr *appErrors.Error
			if !errors.As(err, &appErr) || appErr.Code == appErrors.ErrInternal.Code {
				return results, err
			}
			result.Reason = appErr.Message
		} else {
			result.Expired = true
		}
		results = append(results, result)
	}
	return results, nil
}

// SweepExpired expires every active found item older than the expiry window.
func (s *ItemService) SweepExpired(ctx context.Context) (dto.SweepResult, error) {
	var result dto.SweepResult
	cutoff := s.now().UTC().Add(-s.expiryWindow)

	for {
		candidates, err := s.store.ListExpiryCandidates(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expiry candidates")
		}
		expired := 0
		for _, candidate := range candidates {
			result.Scanned++
			_, err := s.expire(ctx, candidate.ID, nil, func(item *models.Item) error {
				if !item.CreatedAt.Before(cutoff) {
					return appErrors.Clone(appErrors.ErrInvalidState, "item is within its expiry window")
				}
				return nil
			})
			if err != nil {
				if errors.Is(err, appErrors.ErrInternal) {
					return result, err
				}
				result.Skipped++
				continue
			}
			expired++
		}
		result.Expired += expired
		if len(candidates) < sweepBatchSize || expired == 0 {
			break
		}
	}

	s.metrics.RecordSweep(result.Expired)
	if result.Expired > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("scanned", result.Scanned), zap.Int("expired", result.Expired), zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

func (s *ItemService) expire(ctx context.Context, id string, actor *models.JWTClaims, guard func(*models.Item) error) (*models.Item, error) {
	item, err := s.runner.run(ctx, id, func(item *models.Item) error {
		if guard != nil {
			if err := guard(item); err != nil {
				return err
			}
		}
		return lifecycle.Expire(item, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, actor, models.AuditActionItemExpire, "item", id,
		map[string]string{"status": string(models.ItemStatusActive)},
		map[string]string{"status": string(item.Status)})
	s.metrics.RecordTransition(string(models.ItemStatusExpired))
	s.cache.InvalidateItem(ctx, id)
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotificationItemExpired,
		Recipient: item.ReportedBy,
		ItemID:    id,
		Message:   fmt.Sprintf("%q was not claimed in time and has expired.", item.Title),
		CreatedAt: s.now().UTC(),
	})
	return item, nil
}

// Delete permanently removes an item with its claims and stored artifacts. Admin only;
// requires confirmation.
func (s *ItemService) Delete(ctx context.Context, id string, confirm bool, actor *models.JWTClaims) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}

	unlock := s.runner.locker.Lock(id)
	defer unlock()

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storeError(err, "item not found", "failed to load item")
	}
	if err := requireConfirmation(confirm, fmt.Sprintf("deleting %q permanently removes it and %d claim(s)", item.Title, len(item.Claims))); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storeError(err, "item not found", "failed to delete item")
	}

	if s.artifacts != nil {
		artifacts := append(models.ArtifactList(nil), item.Images...)
		for _, claim := range item.Claims {
			artifacts = append(artifacts, claim.VerificationDocuments...)
		}
		if item.HandoverReceipt != nil {
			artifacts = append(artifacts, *item.HandoverReceipt)
		}
		s.artifacts.Delete(artifacts...)
	}
	s.logger.Info("item deleted", zap.String("item_id", id), zap.String("actor", actor.UserID))
	s.audit.record(ctx, actor, models.AuditActionItemDelete, "item", id, item, nil)
	s.cache.InvalidateItem(ctx, id)
	return nil
}

// StartExpirySweep boots a goroutine that expires stale found items periodically.
func (s *ItemService) StartExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepExpired(ctx); err != nil {
					s.logger.Sugar().Warnw("expiry sweep failed", "error", err)
				}
			}
		}
	}()
}

// History returns the audit trail of an item and of every claim filed against it, oldest first.
func (s *ItemService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditLog, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []models.AuditLog{}, nil
	}
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := s.history.ListByResource(ctx, "item", item.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item history")
	}
	for _, claim := range item.Claims {
		claimEntries, err := s.history.ListByResource(ctx, "claim", claim.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load claim history")
		}
		entries = append(entries, claimEntries...)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return entries, nil
}
