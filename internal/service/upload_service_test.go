package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/upload"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

// failingStore fails every upload whose name starts with "bad".
type failingStore struct{}

func (failingStore) Uploader(prefix string) upload.Uploader {
	return upload.UploaderFunc(func(ctx context.Context, file upload.File) (*models.Artifact, error) {
		if len(file.Name) >= 3 && file.Name[:3] == "bad" {
			return nil, errors.New("storage unavailable")
		}
		return &models.Artifact{URL: "https://files.local/" + prefix + "/" + file.Name, Name: file.Name, PublicID: prefix + "/" + file.Name}, nil
	})
}

func newFailingUploads(lenient bool) *UploadService {
	return NewUploadService(failingStore{}, UploadConfig{
		TaskTimeout: time.Second,
		Lenient:     lenient,
		Limits: map[BatchKind]upload.Constraints{
			BatchKindItemImages: {MaxSlots: 3, MaxSizeBytes: 1024, AllowedMIMEs: []string{"image/*"}},
		},
	}, nil, nil)
}

func waitSettled(t *testing.T, svc *UploadService, batchID, owner string) *BatchView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	view, err := svc.Wait(ctx, batchID, owner)
	require.NoError(t, err)
	return view
}

func TestUploadServiceOwnership(t *testing.T) {
	svc := newTestUploads()
	defer svc.Close()

	view, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	assert.Equal(t, BatchKindItemImages, view.Kind)
	assert.Equal(t, 5, view.MaxSlots)

	_, err = svc.Get(view.ID, claimantA.UserID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = svc.AddFiles(view.ID, claimantA.UserID, []upload.File{{Name: "a.jpg", MIMEType: "image/jpeg", Data: []byte("a")}})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.True(t, errors.Is(svc.Discard(view.ID, claimantA.UserID), appErrors.ErrNotFound))

	_, err = svc.Create(reporter.UserID, BatchKind("avatars"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = ParseBatchKind("avatars")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestUploadServiceStrictClaimBlocksFailedSlots(t *testing.T) {
	svc := newFailingUploads(false)
	defer svc.Close()

	view, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	slots, err := svc.AddFiles(view.ID, reporter.UserID, []upload.File{
		{Name: "good.jpg", MIMEType: "image/jpeg", Data: []byte("ok")},
		{Name: "bad.jpg", MIMEType: "image/jpeg", Data: []byte("ko")},
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	settled := waitSettled(t, svc, view.ID, reporter.UserID)
	assert.True(t, settled.Ready)

	_, lease, err := svc.Claim(view.ID, reporter.UserID, BatchKindItemImages)
	require.Error(t, err)
	assert.Nil(t, lease)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Len(t, appErr.Details, 1)
	assert.Contains(t, appErr.Details[0], "bad.jpg")

	require.NoError(t, svc.RemoveSlot(view.ID, reporter.UserID, slots[1].ID))
	artifacts, lease, err := svc.Claim(view.ID, reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "good.jpg", artifacts[0].Name)
	lease.Commit()
}

func TestUploadServiceLenientClaimSkipsFailedSlots(t *testing.T) {
	svc := newFailingUploads(true)
	defer svc.Close()

	view, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	_, err = svc.AddFiles(view.ID, reporter.UserID, []upload.File{
		{Name: "bad.jpg", MIMEType: "image/jpeg", Data: []byte("ko")},
		{Name: "good.jpg", MIMEType: "image/jpeg", Data: []byte("ok")},
	})
	require.NoError(t, err)
	waitSettled(t, svc, view.ID, reporter.UserID)

	artifacts, lease, err := svc.Claim(view.ID, reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "good.jpg", artifacts[0].Name)
	lease.Release()
}

func TestUploadServiceLease(t *testing.T) {
	svc := newTestUploads()
	defer svc.Close()

	view, err := svc.Create(claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)

	artifacts, lease, err := svc.Claim("", claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.Nil(t, lease)

	_, err = svc.AddFiles(view.ID, claimantA.UserID, []upload.File{{Name: "id.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}})
	require.NoError(t, err)
	waitSettled(t, svc, view.ID, claimantA.UserID)

	_, lease, err = svc.Claim(view.ID, claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)

	_, _, err = svc.Claim(view.ID, claimantA.UserID, BatchKindClaimDocuments)
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "a batch backs one submission at a time")
	_, err = svc.AddFiles(view.ID, claimantA.UserID, []upload.File{{Name: "more.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	lease.Release()
	_, lease, err = svc.Claim(view.ID, claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)
	lease.Commit()

	_, err = svc.Get(view.ID, claimantA.UserID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestUploadServicePurgeIdle(t *testing.T) {
	svc := newTestUploads()
	defer svc.Close()
	now := fixedNow
	svc.now = func() time.Time { return now }

	idle, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	reserved, err := svc.Create(claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)
	_, lease, err := svc.Claim(reserved.ID, claimantA.UserID, BatchKindClaimDocuments)
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, 0, svc.PurgeIdle())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.PurgeIdle())
	_, err = svc.Get(idle.ID, reporter.UserID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = svc.Get(reserved.ID, claimantA.UserID)
	assert.NoError(t, err)
}

// recordingStore stores instantly and remembers which artifacts were deleted.
type recordingStore struct {
	instantStore
	mu      sync.Mutex
	deleted []string
}

func (s *recordingStore) Delete(artifacts ...models.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range artifacts {
		s.deleted = append(s.deleted, a.PublicID)
	}
}

func (s *recordingStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func TestUploadServiceDeletesUnsubmittedArtifacts(t *testing.T) {
	store := &recordingStore{}
	svc := NewUploadService(store, UploadConfig{
		TaskTimeout: time.Second,
		Limits: map[BatchKind]upload.Constraints{
			BatchKindItemImages: {MaxSlots: 5, MaxSizeBytes: 1 << 20, AllowedMIMEs: []string{"image/*"}},
		},
	}, nil, nil)
	defer svc.Close()

	abandoned, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	_, err = svc.AddFiles(abandoned.ID, reporter.UserID, []upload.File{{Name: "left.jpg", MIMEType: "image/jpeg", Data: []byte("x")}})
	require.NoError(t, err)
	waitSettled(t, svc, abandoned.ID, reporter.UserID)
	require.NoError(t, svc.Discard(abandoned.ID, reporter.UserID))
	assert.Equal(t, []string{"item_images/left.jpg"}, store.deletedIDs())

	submitted, err := svc.Create(reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	_, err = svc.AddFiles(submitted.ID, reporter.UserID, []upload.File{{Name: "kept.jpg", MIMEType: "image/jpeg", Data: []byte("y")}})
	require.NoError(t, err)
	waitSettled(t, svc, submitted.ID, reporter.UserID)

	artifacts, lease, err := svc.Claim(submitted.ID, reporter.UserID, BatchKindItemImages)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	_, err = svc.AddFiles(submitted.ID, reporter.UserID, []upload.File{{Name: "late.jpg", MIMEType: "image/jpeg", Data: []byte("z")}})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.True(t, errors.Is(svc.Discard(submitted.ID, reporter.UserID), appErrors.ErrInvalidState))

	lease.Commit()
	_, err = svc.Get(submitted.ID, reporter.UserID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Equal(t, []string{"item_images/left.jpg"}, store.deletedIDs())
}
