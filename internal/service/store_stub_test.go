package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/upload"
)

// memItemStore keeps items in memory. Mutate holds the store lock for the whole callback,
// standing in for the row locks of the real repository.
type memItemStore struct {
	mu      sync.Mutex
	items   map[string]*models.Item
	seq     int64
	mutates int
}

func newMemItemStore(items ...*models.Item) *memItemStore {
	store := &memItemStore{items: make(map[string]*models.Item)}
	for _, item := range items {
		store.put(item)
	}
	return store
}

func (m *memItemStore) put(item *models.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range item.Claims {
		m.seq++
		item.Claims[idx].Seq = m.seq
	}
	m.items[item.ID] = item.Clone()
}

func (m *memItemStore) snapshot(id string) *models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Clone()
}

func (m *memItemStore) Create(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	m.put(item)
	return nil
}

func (m *memItemStore) GetByID(ctx context.Context, id string) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return item.Clone(), nil
}

func (m *memItemStore) List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.Item, 0, len(m.items))
	for _, item := range m.items {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.ReportedBy != "" && item.ReportedBy != filter.ReportedBy {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(item.Title), strings.ToLower(filter.Search)) {
			continue
		}
		if len(filter.Status) > 0 && !hasStatus(filter.Status, item.Status) {
			continue
		}
		listed := *item.Clone()
		listed.Claims = nil
		result = append(result, listed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, len(result), nil
}

func hasStatus(statuses []models.ItemStatus, status models.ItemStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *memItemStore) ListClaimsByUser(ctx context.Context, userID string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claims []models.Claim
	for _, item := range m.items {
		for _, claim := range item.Claims {
			if claim.ClaimedBy == userID {
				claims = append(claims, claim)
			}
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Seq > claims[j].Seq })
	return claims, nil
}

func (m *memItemStore) ListExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.ExpiryCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []models.ExpiryCandidate
	for _, item := range m.items {
		if item.Type == models.ItemTypeFound && item.Status == models.ItemStatusActive && item.CreatedAt.Before(cutoff) {
			candidates = append(candidates, models.ExpiryCandidate{ID: item.ID, CreatedAt: item.CreatedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *memItemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *memItemStore) Mutate(ctx context.Context, id string, fn func(*models.Item) error) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutates++
	stored, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	for idx := range working.Claims {
		if working.Claims[idx].Seq == 0 {
			m.seq++
			working.Claims[idx].Seq = m.seq
		}
	}
	m.items[id] = working.Clone()
	return working, nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, log := range a.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, *log)
		}
	}
	return out, nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, notifications ...models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notifications...)
}

func (r *recordingNotifier) to(recipient string) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.sent {
		if n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out
}

// instantStore uploads every file immediately under prefix.
type instantStore struct{}

func (instantStore) Uploader(prefix string) upload.Uploader {
	return upload.UploaderFunc(func(ctx context.Context, file upload.File) (*models.Artifact, error) {
		key := prefix + "/" + file.Name
		return &models.Artifact{URL: "https://files.local/" + key, Name: file.Name, Type: file.MIMEType, Size: file.Size(), PublicID: key}, nil
	})
}

func newTestUploads() *UploadService {
	return NewUploadService(instantStore{}, UploadConfig{
		TaskTimeout: time.Second,
		Limits: map[BatchKind]upload.Constraints{
			BatchKindItemImages:     {MaxSlots: 5, MaxSizeBytes: 1 << 20, AllowedMIMEs: []string{"image/*"}},
			BatchKindClaimDocuments: {MaxSlots: 3, MaxSizeBytes: 1 << 20, AllowedMIMEs: []string{"image/*", "application/pdf"}},
		},
	}, nil, nil)
}

var (
	fixedNow   = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reporter   = &models.JWTClaims{UserID: "user-finder", Role: models.RoleUser}
	claimantA  = &models.JWTClaims{UserID: "user-a", Role: models.RoleUser}
	claimantB  = &models.JWTClaims{UserID: "user-b", Role: models.RoleUser}
	claimantC  = &models.JWTClaims{UserID: "user-c", Role: models.RoleUser}
	staffActor = &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
	adminActor = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
)

func clock() time.Time { return fixedNow }

func foundItem(id string, createdAt time.Time, claims ...models.Claim) *models.Item {
	for idx := range claims {
		claims[idx].ItemID = id
		if claims[idx].Status == "" {
			claims[idx].Status = models.ClaimStatusPending
		}
	}
	return &models.Item{
		ID:         id,
		Type:       models.ItemTypeFound,
		Category:   "wallet",
		Title:      "Black leather wallet",
		Location:   "Library",
		ReportedBy: reporter.UserID,
		Status:     models.ItemStatusActive,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Claims:     claims,
	}
}

func pendingClaim(id, by string) models.Claim {
	return models.Claim{ID: id, ClaimedBy: by, Notes: "brown stitching inside", Status: models.ClaimStatusPending}
}
