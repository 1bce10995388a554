package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/upload"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
	"github.com/noah-isme/lostfound-api/pkg/imaging"
	"github.com/noah-isme/lostfound-api/pkg/storage"
)

const receiptPrefix = "receipts"

// ArtifactStore keeps uploaded artifacts on the local filesystem. Artifact URLs are stable
// paths under baseURL/files; signed links under baseURL/signed allow unauthenticated downloads
// for a limited time.
type ArtifactStore struct {
	storage *storage.LocalStorage
	signer  *storage.SignedURLSigner
	baseURL string
	logger  *zap.Logger
}

// NewArtifactStore constructs the store.
func NewArtifactStore(store *storage.LocalStorage, signer *storage.SignedURLSigner, baseURL string, logger *zap.Logger) *ArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		storage: store,
		signer:  signer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Uploader returns an upload.Uploader that writes under prefix. Images are decoded and
// re-encoded before storage; other files must match their declared type.
func (s *ArtifactStore) Uploader(prefix string) upload.Uploader {
	return upload.UploaderFunc(func(ctx context.Context, file upload.File) (*models.Artifact, error) {
		return s.put(ctx, prefix, file)
	})
}

func (s *ArtifactStore) put(ctx context.Context, prefix string, file upload.File) (*models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, mimeType, ext := file.Data, file.MIMEType, ""
	switch {
	case imaging.IsImage(mimeType):
		result, err := imaging.Normalize(data)
		if err != nil {
			return nil, fmt.Errorf("normalise %s: %w", file.Name, err)
		}
		data, mimeType, ext = result.Data, result.MIME, ".jpg"
	case mimeType == "application/pdf":
		if sniffed := imaging.Sniff(data); sniffed != mimeType {
			return nil, fmt.Errorf("%s: content is %s, not %s", file.Name, sniffed, mimeType)
		}
		ext = ".pdf"
	default:
		return nil, fmt.Errorf("%s: unsupported type %s", file.Name, mimeType)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := path.Join(prefix, uuid.NewString()+ext)
	if _, err := s.storage.Save(key, data); err != nil {
		return nil, err
	}
	return &models.Artifact{
		URL:      s.baseURL + "/files/" + key,
		Name:     file.Name,
		Type:     mimeType,
		Size:     int64(len(data)),
		PublicID: key,
	}, nil
}

// SaveReceipt stores a rendered handover receipt for itemID.
func (s *ArtifactStore) SaveReceipt(itemID string, pdf []byte) (*models.Artifact, error) {
	key := path.Join(receiptPrefix, itemID+".pdf")
	if _, err := s.storage.Save(key, pdf); err != nil {
		return nil, err
	}
	return &models.Artifact{
		URL:      s.baseURL + "/files/" + key,
		Name:     fmt.Sprintf("handover-%s.pdf", itemID),
		Type:     "application/pdf",
		Size:     int64(len(pdf)),
		PublicID: key,
	}, nil
}

// Open returns the stored file for key together with its content type.
func (s *ArtifactStore) Open(key string) (*os.File, string, error) {
	key = strings.TrimPrefix(key, "/")
	file, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "artifact not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open artifact")
	}
	contentType := "application/octet-stream"
	switch path.Ext(key) {
	case ".jpg":
		contentType = "image/jpeg"
	case ".pdf":
		contentType = "application/pdf"
	}
	return file, contentType, nil
}

// KeyFromURL returns the storage key of an artifact URL issued by this store.
func (s *ArtifactStore) KeyFromURL(raw string) (string, bool) {
	prefix := s.baseURL + "/files/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, prefix), true
}

// SignedURL returns a time-limited download link for key.
func (s *ArtifactStore) SignedURL(key string) (string, time.Time, error) {
	name := path.Base(key)
	token, expiresAt, err := s.signer.Generate(strings.TrimSuffix(name, path.Ext(name)), key)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign artifact link")
	}
	return s.baseURL + "/signed/" + token, expiresAt, nil
}

// ResolveSigned validates a signed link token and returns the storage key.
func (s *ArtifactStore) ResolveSigned(token string) (string, error) {
	_, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired link")
	}
	return key, nil
}

// Delete removes stored artifacts. Legacy inline artifacts have nothing on disk and are skipped.
func (s *ArtifactStore) Delete(artifacts ...models.Artifact) {
	for _, artifact := range artifacts {
		if artifact.IsLegacy() || artifact.PublicID == "" {
			continue
		}
		if err := s.storage.Delete(artifact.PublicID); err != nil {
			s.logger.Warn("failed to delete artifact", zap.String("key", artifact.PublicID), zap.Error(err))
		}
	}
}
