package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

const (
	itemColumns = `id, type, category, title, description, location, occurred_on, reported_by, images, additional_details,
       status, handed_over_to_police, police_report_number, handed_over_at, handover_receipt, return_notes,
       returned_at, expired_at, created_at, updated_at`
	claimColumns = `id, seq, item_id, claimed_by, notes, verification_documents, status, review_note, reviewed_by,
       reviewed_at, created_at, updated_at`

	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

// ItemRepository persists items together with the claims they own.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository constructs the repository.
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item row. Claims are never created alongside the item.
func (r *ItemRepository) Create(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusActive
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	const query = `INSERT INTO items
	(id, type, category, title, description, location, occurred_on, reported_by, images, additional_details, status, created_at, updated_at)
	VALUES (:id, :type, :category, :title, :description, :location, :occurred_on, :reported_by, :images, :additional_details, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

// GetByID fetches an item and its claims in submission order.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := r.db.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id); err != nil {
		return nil, lookupError(err)
	}
	claims, err := r.ListClaims(ctx, id)
	if err != nil {
		return nil, err
	}
	item.Claims = claims
	return &item, nil
}

// ListClaims returns the claims of an item in submission order.
func (r *ItemRepository) ListClaims(ctx context.Context, itemID string) ([]models.Claim, error) {
	var claims []models.Claim
	if err := r.db.SelectContext(ctx, &claims, `SELECT `+claimColumns+` FROM claims WHERE item_id = $1 ORDER BY seq`, itemID); err != nil {
		return nil, fmt.Errorf("list claims: %w", lookupError(err))
	}
	return claims, nil
}

// ListClaimsByUser returns every claim submitted by userID, newest first.
func (r *ItemRepository) ListClaimsByUser(ctx context.Context, userID string) ([]models.Claim, error) {
	var claims []models.Claim
	if err := r.db.SelectContext(ctx, &claims, `SELECT `+claimColumns+` FROM claims WHERE claimed_by = $1 ORDER BY seq DESC`, userID); err != nil {
		return nil, fmt.Errorf("list user claims: %w", err)
	}
	return claims, nil
}

// List returns items matching the filter, newest first. Claims are not loaded.
func (r *ItemRepository) List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.ReportedBy != "" {
		args = append(args, filter.ReportedBy)
		conditions = append(conditions, fmt.Sprintf("reported_by = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d OR location ILIKE $%d)", len(args), len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM items`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM items%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, itemColumns, where, limit, offset)

	var items []models.Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

// ListExpiryCandidates returns active found items created before cutoff, oldest first.
func (r *ItemRepository) ListExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.ExpiryCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT id, created_at FROM items
	WHERE type = 'found' AND status = 'active' AND created_at < $1
	ORDER BY created_at LIMIT $2`
	var candidates []models.ExpiryCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list expiry candidates: %w", err)
	}
	return candidates, nil
}

// Delete removes an item and, through the foreign key, its claims.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", lookupError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check item delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Mutate loads the item and its claims under row locks, applies fn to that snapshot and
// persists every change in the same transaction. Nothing is written when fn fails.
// Claim decisions are written as compare-and-set against the pending status.
func (r *ItemRepository) Mutate(ctx context.Context, id string, fn func(*models.Item) error) (item *models.Item, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin item transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Item
	if err = tx.GetContext(ctx, &current, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, lookupError(err)
	}
	if err = tx.SelectContext(ctx, &current.Claims, `SELECT `+claimColumns+` FROM claims WHERE item_id = $1 ORDER BY seq FOR UPDATE`, id); err != nil {
		return nil, fmt.Errorf("lock claims: %w", err)
	}

	before := current.Clone()
	if err = fn(&current); err != nil {
		return nil, err
	}

	if err = persistClaims(ctx, tx, before, &current); err != nil {
		return nil, err
	}
	if itemChanged(before, &current) {
		if err = updateItem(ctx, tx, &current); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item transaction: %w", err)
	}
	return &current, nil
}

func persistClaims(ctx context.Context, tx *sqlx.Tx, before, after *models.Item) error {
	for idx := range after.Claims {
		claim := &after.Claims[idx]
		previous := before.FindClaim(claim.ID)
		switch {
		case previous == nil:
			if err := insertClaim(ctx, tx, claim); err != nil {
				return err
			}
		case previous.Status != claim.Status:
			if err := decideClaim(ctx, tx, claim); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertClaim(ctx context.Context, tx *sqlx.Tx, claim *models.Claim) error {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	if claim.UpdatedAt.IsZero() {
		claim.UpdatedAt = claim.CreatedAt
	}
	query, args, err := tx.BindNamed(`INSERT INTO claims
	(id, item_id, claimed_by, notes, verification_documents, status, created_at, updated_at)
	VALUES (:id, :item_id, :claimed_by, :notes, :verification_documents, :status, :created_at, :updated_at)
	RETURNING seq`, claim)
	if err != nil {
		return fmt.Errorf("bind claim insert: %w", err)
	}
	if err := tx.GetContext(ctx, &claim.Seq, query, args...); err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func decideClaim(ctx context.Context, tx *sqlx.Tx, claim *models.Claim) error {
	query := fmt.Sprintf(`UPDATE claims SET status = :status, review_note = :review_note, reviewed_by = :reviewed_by,
	reviewed_at = :reviewed_at, updated_at = :updated_at WHERE id = :id AND status = '%s'`, models.ClaimStatusPending)
	result, err := tx.NamedExecContext(ctx, query, claim)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, "item already has an approved claim")
		}
		return fmt.Errorf("update claim status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check claim update rows: %w", err)
	}
	if rows == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "claim was decided concurrently")
	}
	return nil
}

func updateItem(ctx context.Context, tx *sqlx.Tx, item *models.Item) error {
	const query = `UPDATE items SET status = :status, handed_over_to_police = :handed_over_to_police,
	police_report_number = :police_report_number, handed_over_at = :handed_over_at, handover_receipt = :handover_receipt,
	return_notes = :return_notes, returned_at = :returned_at, expired_at = :expired_at, updated_at = :updated_at
	WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// itemState is the set of item columns a mutation may change.
type itemState struct {
	Status             models.ItemStatus
	HandedOverToPolice bool
	PoliceReportNumber *string
	HandedOverAt       *time.Time
	HandoverReceipt    *models.Artifact
	ReturnNotes        *string
	ReturnedAt         *time.Time
	ExpiredAt          *time.Time
	UpdatedAt          time.Time
}

func stateOf(item *models.Item) itemState {
	return itemState{
		Status:             item.Status,
		HandedOverToPolice: item.HandedOverToPolice,
		PoliceReportNumber: item.PoliceReportNumber,
		HandedOverAt:       item.HandedOverAt,
		HandoverReceipt:    item.HandoverReceipt,
		ReturnNotes:        item.ReturnNotes,
		ReturnedAt:         item.ReturnedAt,
		ExpiredAt:          item.ExpiredAt,
		UpdatedAt:          item.UpdatedAt,
	}
}

func itemChanged(before, after *models.Item) bool {
	return !reflect.DeepEqual(stateOf(before), stateOf(after))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// lookupError reports an id Postgres cannot parse as a UUID as a missing row.
func lookupError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return fmt.Errorf("%w: %s", sql.ErrNoRows, pqErr.Message)
	}
	return err
}
