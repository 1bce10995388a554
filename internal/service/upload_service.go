package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/upload"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

// BatchKind selects the constraints and storage prefix of an upload batch.
type BatchKind string

const (
	BatchKindItemImages     BatchKind = "item_images"
	BatchKindClaimDocuments BatchKind = "claim_documents"
)

// ParseBatchKind validates a client supplied batch kind.
func ParseBatchKind(raw string) (BatchKind, error) {
	switch kind := BatchKind(raw); kind {
	case BatchKindItemImages, BatchKindClaimDocuments:
		return kind, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown upload kind %q", raw))
	}
}

type uploaderFactory interface {
	Uploader(prefix string) upload.Uploader
}

// UploadConfig configures the upload service.
type UploadConfig struct {
	TaskTimeout time.Duration
	BatchTTL    time.Duration
	Lenient     bool
	Limits      map[BatchKind]upload.Constraints
}

// BatchView is the client view of a batch.
type BatchView struct {
	upload.Snapshot
	Kind BatchKind `json:"kind"`
}

type batchEntry struct {
	batch *upload.Batch
	owner string
	kind  BatchKind
}

// UploadService keeps the upload batches of open submission forms in memory.
type UploadService struct {
	store   uploaderFactory
	config  UploadConfig
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	batches map[string]*batchEntry
}

// NewUploadService constructs the service.
func NewUploadService(store uploaderFactory, cfg UploadConfig, metrics *MetricsService, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = time.Hour
	}
	return &UploadService{
		store:   store,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		batches: make(map[string]*batchEntry),
	}
}

// Create opens an empty batch for owner.
func (s *UploadService) Create(owner string, kind BatchKind) (*BatchView, error) {
	constraints, ok := s.config.Limits[kind]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown upload kind %q", kind))
	}

	id := uuid.NewString()
	batch := upload.NewBatch(id, constraints, s.store.Uploader(string(kind)),
		upload.WithTaskTimeout(s.config.TaskTimeout),
		upload.WithLogger(s.logger),
		upload.WithClock(s.now),
		upload.WithSettleHook(func(slot upload.Slot) {
			s.metrics.RecordUpload(string(kind), string(slot.State))
		}),
		upload.WithOrphanHook(s.releaseArtifacts),
	)

	s.mu.Lock()
	s.batches[id] = &batchEntry{batch: batch, owner: owner, kind: kind}
	active := len(s.batches)
	s.mu.Unlock()
	s.metrics.SetActiveBatches(active)

	s.logger.Debug("upload batch created", zap.String("batch_id", id), zap.String("kind", string(kind)), zap.String("owner", owner))
	return &BatchView{Snapshot: batch.Snapshot(), Kind: kind}, nil
}

// Get returns the current view of a batch.
func (s *UploadService) Get(batchID, owner string) (*BatchView, error) {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return nil, err
	}
	return &BatchView{Snapshot: entry.batch.Snapshot(), Kind: entry.kind}, nil
}

// AddFiles validates and starts uploading files into the batch.
func (s *UploadService) AddFiles(batchID, owner string, files []upload.File) ([]upload.Slot, error) {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return nil, err
	}
	return entry.batch.AddFiles(files)
}

// RemoveSlot removes a settled slot from the batch.
func (s *UploadService) RemoveSlot(batchID, owner, slotID string) error {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return err
	}
	return entry.batch.RemoveSlot(slotID)
}

// Preview returns the local preview of an image slot.
func (s *UploadService) Preview(batchID, owner, slotID string) ([]byte, string, error) {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return nil, "", err
	}
	return entry.batch.Preview(slotID)
}

// Wait blocks until no slot in the batch is uploading or ctx ends.
func (s *UploadService) Wait(ctx context.Context, batchID, owner string) (*BatchView, error) {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return nil, err
	}
	snap, err := entry.batch.Wait(ctx)
	view := &BatchView{Snapshot: snap, Kind: entry.kind}
	if err != nil {
		return view, err
	}
	return view, nil
}

// Discard drops a batch and cancels its in-flight uploads.
func (s *UploadService) Discard(batchID, owner string) error {
	entry, err := s.lookup(batchID, owner)
	if err != nil {
		return err
	}
	if entry.batch.Reserved() {
		return appErrors.Clone(appErrors.ErrInvalidState, "upload batch is being submitted")
	}
	s.remove(batchID)
	return nil
}

// BatchLease reserves a batch for one submission. Commit discards the batch once the
// submission is stored; Release hands it back to the form after a failed submission.
type BatchLease struct {
	svc *UploadService
	id  string
}

// Commit drops the leased batch and leaves its artifacts to the stored submission.
func (l *BatchLease) Commit() {
	if l == nil {
		return
	}
	if batch := l.svc.detach(l.id); batch != nil {
		batch.Commit()
	}
}

// Release returns the batch to its form.
func (l *BatchLease) Release() {
	if l == nil {
		return
	}
	l.svc.mu.Lock()
	entry, ok := l.svc.batches[l.id]
	l.svc.mu.Unlock()
	if ok {
		entry.batch.Release()
	}
}

// Claim returns the artifacts of a settled batch for submission and reserves it so it cannot
// back two submissions. An empty batchID yields no artifacts and a nil lease.
func (s *UploadService) Claim(batchID, owner string, kind BatchKind) (models.ArtifactList, *BatchLease, error) {
	if batchID == "" {
		return models.ArtifactList{}, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.batches[batchID]
	if !ok || entry.owner != owner {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "upload batch not found")
	}
	if entry.kind != kind {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("upload batch holds %s, expected %s", entry.kind, kind))
	}
	artifacts, err := entry.batch.Reserve(s.config.Lenient)
	if err != nil {
		return nil, nil, err
	}
	return artifacts, &BatchLease{svc: s, id: batchID}, nil
}

// PurgeIdle discards batches untouched for longer than the batch TTL and returns how many went.
func (s *UploadService) PurgeIdle() int {
	cutoff := s.now().Add(-s.config.BatchTTL)

	s.mu.Lock()
	var stale []*upload.Batch
	for id, entry := range s.batches {
		if entry.batch.Reserved() || entry.batch.LastActivity().After(cutoff) {
			continue
		}
		stale = append(stale, entry.batch)
		delete(s.batches, id)
	}
	active := len(s.batches)
	s.mu.Unlock()

	for _, batch := range stale {
		batch.Discard()
	}
	s.metrics.SetActiveBatches(active)
	if len(stale) > 0 {
		s.logger.Info("idle upload batches purged", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunJanitor purges idle batches every interval until ctx ends.
func (s *UploadService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.config.BatchTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PurgeIdle()
		}
	}
}

// Close discards every batch and waits for their uploads to stop.
func (s *UploadService) Close() {
	s.mu.Lock()
	batches := s.batches
	s.batches = make(map[string]*batchEntry)
	s.mu.Unlock()
	for _, entry := range batches {
		entry.batch.Close()
	}
	s.metrics.SetActiveBatches(0)
}

func (s *UploadService) lookup(batchID, owner string) (*batchEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.batches[batchID]
	if !ok || entry.owner != owner {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "upload batch not found")
	}
	return entry, nil
}

func (s *UploadService) remove(batchID string) {
	if batch := s.detach(batchID); batch != nil {
		batch.Discard()
	}
}

func (s *UploadService) detach(batchID string) *upload.Batch {
	s.mu.Lock()
	entry, ok := s.batches[batchID]
	if ok {
		delete(s.batches, batchID)
	}
	active := len(s.batches)
	s.mu.Unlock()
	s.metrics.SetActiveBatches(active)
	if !ok {
		return nil
	}
	return entry.batch
}

// releaseArtifacts deletes stored files that no submission will reference.
func (s *UploadService) releaseArtifacts(artifacts []models.Artifact) {
	remover, ok := s.store.(artifactRemover)
	if !ok {
		return
	}
	remover.Delete(artifacts...)
}
