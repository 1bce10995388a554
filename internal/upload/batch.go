// Package upload tracks a bounded batch of concurrent artifact uploads for one submission form.
package upload

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

// State is the upload state of a single slot.
type State string

const (
	StateUploading State = "uploading"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

const defaultTaskTimeout = 2 * time.Minute

// Constraints bound what a batch accepts.
type Constraints struct {
	MaxSlots     int
	MaxSizeBytes int64
	AllowedMIMEs []string
}

// File is a selected file waiting to be uploaded.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	// DeclaredSize is set when the payload was too large to buffer; Data is then
	// empty and the file only takes part in validation.
	DeclaredSize int64
}

// Size returns the payload length in bytes, or the declared size of a file
// that was not buffered.
func (f File) Size() int64 {
	if f.DeclaredSize > int64(len(f.Data)) {
		return f.DeclaredSize
	}
	return int64(len(f.Data))
}

// Uploader pushes one file to the artifact store.
type Uploader interface {
	Upload(ctx context.Context, file File) (*models.Artifact, error)
}

// UploaderFunc adapts a function into an Uploader.
type UploaderFunc func(ctx context.Context, file File) (*models.Artifact, error)

// Upload implements Uploader.
func (f UploaderFunc) Upload(ctx context.Context, file File) (*models.Artifact, error) {
	return f(ctx, file)
}

// Slot is the externally visible view of one file in a batch.
type Slot struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	MIMEType   string           `json:"mimeType"`
	SizeBytes  int64            `json:"sizeBytes"`
	State      State            `json:"state"`
	Artifact   *models.Artifact `json:"artifact,omitempty"`
	Error      string           `json:"error,omitempty"`
	HasPreview bool             `json:"hasPreview"`
	CreatedAt  time.Time        `json:"createdAt"`
	SettledAt  *time.Time       `json:"settledAt,omitempty"`
}

// Snapshot is a consistent view of the whole batch.
type Snapshot struct {
	ID        string `json:"id"`
	Slots     []Slot `json:"slots"`
	Ready     bool   `json:"ready"`
	Remaining int    `json:"remaining"`
	MaxSlots  int    `json:"maxSlots"`
}

type preview struct {
	data     []byte
	mimeType string
}

// Option configures a Batch.
type Option func(*Batch)

// WithTaskTimeout bounds every individual upload task.
func WithTaskTimeout(d time.Duration) Option {
	return func(b *Batch) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Batch) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSettleHook registers a callback invoked once per slot when its upload settles.
func WithSettleHook(fn func(Slot)) Option {
	return func(b *Batch) {
		b.onSettle = fn
	}
}

// WithOrphanHook registers a callback that receives stored artifacts no submission will
// ever reference: removed slots, uploads of a batch discarded without commit, and uploads
// that finish after the batch was discarded.
func WithOrphanHook(fn func([]models.Artifact)) Option {
	return func(b *Batch) {
		b.onOrphan = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Batch) {
		if now != nil {
			b.now = now
		}
	}
}

// Batch owns the slots of a single form. Slots are keyed by a generated id so removals never
// shift the identity of other slots, and every upload result is attributed by that id.
type Batch struct {
	id          string
	constraints Constraints
	uploader    Uploader
	timeout     time.Duration
	logger      *zap.Logger
	onSettle    func(Slot)
	onOrphan    func([]models.Artifact)
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	order     []string
	slots     map[string]*Slot
	previews  map[string]preview
	changed   chan struct{}
	discarded bool
	reserved  bool
	touched   time.Time
}

// NewBatch creates an empty batch. Upload tasks run under the batch's own context so they
// outlive the request that added them and stop when the batch is discarded.
func NewBatch(id string, constraints Constraints, uploader Uploader, opts ...Option) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batch{
		id:          id,
		constraints: constraints,
		uploader:    uploader,
		timeout:     defaultTaskTimeout,
		logger:      zap.NewNop(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		slots:       make(map[string]*Slot),
		previews:    make(map[string]preview),
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.touched = b.now()
	return b
}

// ID returns the batch identifier.
func (b *Batch) ID() string { return b.id }

// Constraints returns the limits the batch enforces.
func (b *Batch) Constraints() Constraints { return b.constraints }

// LastActivity reports when the batch last changed.
func (b *Batch) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touched
}

// AddFiles validates files as one unit and, when all of them are acceptable, assigns each an
// uploading slot and starts its upload. Nothing is accepted when any file is refused.
func (b *Batch) AddFiles(files []File) ([]Slot, error) {
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no files provided")
	}

	b.mu.Lock()
	if b.discarded {
		b.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "upload batch was discarded")
	}
	if b.reserved {
		b.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "upload batch is being submitted")
	}
	if existing := len(b.order); existing+len(files) > b.constraints.MaxSlots {
		b.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("batch holds %d of %d files; %d more cannot be added", existing, b.constraints.MaxSlots, len(files)))
	}
	if details := b.validate(files); len(details) > 0 {
		b.mu.Unlock()
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "one or more files were rejected", details)
	}

	now := b.now()
	added := make([]Slot, 0, len(files))
	for idx := range files {
		files[idx].MIMEType = normaliseMIME(files[idx].MIMEType)
		file := files[idx]
		slot := &Slot{
			ID:        uuid.NewString(),
			Name:      file.Name,
			MIMEType:  file.MIMEType,
			SizeBytes: file.Size(),
			State:     StateUploading,
			CreatedAt: now,
		}
		if strings.HasPrefix(file.MIMEType, "image/") {
			b.previews[slot.ID] = preview{data: file.Data, mimeType: file.MIMEType}
			slot.HasPreview = true
		}
		b.slots[slot.ID] = slot
		b.order = append(b.order, slot.ID)
		added = append(added, *slot)

		b.wg.Add(1)
		go b.run(slot.ID, file)
	}
	b.touch()
	b.mu.Unlock()

	b.logger.Debug("upload slots assigned", zap.String("batch_id", b.id), zap.Int("count", len(added)))
	return added, nil
}

func (b *Batch) validate(files []File) []string {
	var details []string
	for _, file := range files {
		name := file.Name
		if name == "" {
			name = "(unnamed)"
		}
		switch {
		case file.Size() == 0:
			details = append(details, fmt.Sprintf("%s: file is empty", name))
		case file.Size() > b.constraints.MaxSizeBytes:
			details = append(details, fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", name, file.Size(), b.constraints.MaxSizeBytes))
		case file.DeclaredSize > int64(len(file.Data)):
			details = append(details, fmt.Sprintf("%s: file was not received in full", name))
		}
		if !allowed(b.constraints.AllowedMIMEs, normaliseMIME(file.MIMEType)) {
			details = append(details, fmt.Sprintf("%s: type %q is not allowed", name, file.MIMEType))
		}
	}
	return details
}

func (b *Batch) run(slotID string, file File) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	var (
		artifact *models.Artifact
		err      error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("upload panicked: %v", r)
			}
		}()
		artifact, err = b.uploader.Upload(ctx, file)
	}()
	if err == nil && artifact == nil {
		err = fmt.Errorf("artifact store returned no artifact")
	}
	b.settle(slotID, artifact, err)
}

func (b *Batch) settle(slotID string, artifact *models.Artifact, err error) {
	b.mu.Lock()
	slot, ok := b.slots[slotID]
	if !ok || slot.State != StateUploading || b.discarded {
		b.mu.Unlock()
		if err == nil && artifact != nil {
			b.orphan([]models.Artifact{*artifact})
		}
		return
	}
	settledAt := b.now()
	slot.SettledAt = &settledAt
	if err != nil {
		slot.State = StateFailed
		slot.Error = appErrors.Wrap(err, appErrors.ErrUploadFailure.Code, appErrors.ErrUploadFailure.Status, appErrors.ErrUploadFailure.Message).Error()
	} else {
		slot.State = StateSucceeded
		slot.Artifact = artifact
	}
	view := *slot
	b.touch()
	hook := b.onSettle
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("upload failed", zap.String("batch_id", b.id), zap.String("slot_id", slotID), zap.String("file", view.Name), zap.Error(err))
	} else {
		b.logger.Debug("upload succeeded", zap.String("batch_id", b.id), zap.String("slot_id", slotID), zap.String("file", view.Name))
	}
	if hook != nil {
		hook(view)
	}
}

// RemoveSlot drops a settled slot and releases its preview. Slots still uploading cannot be removed.
func (b *Batch) RemoveSlot(slotID string) error {
	b.mu.Lock()
	slot, ok := b.slots[slotID]
	switch {
	case !ok:
		b.mu.Unlock()
		return appErrors.Clone(appErrors.ErrNotFound, "upload slot not found")
	case b.reserved:
		b.mu.Unlock()
		return appErrors.Clone(appErrors.ErrInvalidState, "upload batch is being submitted")
	case slot.State == StateUploading:
		b.mu.Unlock()
		return appErrors.Clone(appErrors.ErrInvalidState, "slot is still uploading")
	}
	delete(b.slots, slotID)
	delete(b.previews, slotID)
	for idx, id := range b.order {
		if id == slotID {
			b.order = append(b.order[:idx], b.order[idx+1:]...)
			break
		}
	}
	b.touch()
	b.mu.Unlock()

	if slot.Artifact != nil {
		b.orphan([]models.Artifact{*slot.Artifact})
	}
	return nil
}

// Preview returns the local preview held for an image slot.
func (b *Batch) Preview(slotID string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.previews[slotID]
	if !ok {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "preview not found")
	}
	return p.data, p.mimeType, nil
}

// Slots returns the slots in the order they were added.
func (b *Batch) Slots() []Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slotsLocked()
}

func (b *Batch) slotsLocked() []Slot {
	out := make([]Slot, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.slots[id])
	}
	return out
}

// Snapshot returns the slots together with the submit readiness.
func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Batch) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        b.id,
		Slots:     b.slotsLocked(),
		Ready:     b.readyLocked(),
		Remaining: b.constraints.MaxSlots - len(b.order),
		MaxSlots:  b.constraints.MaxSlots,
	}
}

// Ready reports whether no slot is uploading. Failed slots do not block readiness.
func (b *Batch) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readyLocked()
}

func (b *Batch) readyLocked() bool {
	for _, slot := range b.slots {
		if slot.State == StateUploading {
			return false
		}
	}
	return true
}

// Wait blocks until every slot has settled, the batch is discarded or ctx ends.
func (b *Batch) Wait(ctx context.Context) (Snapshot, error) {
	for {
		b.mu.Lock()
		if b.readyLocked() || b.discarded {
			snap := b.snapshotLocked()
			b.mu.Unlock()
			return snap, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return b.Snapshot(), ctx.Err()
		case <-changed:
		}
	}
}

// Artifacts returns the uploaded artifacts in slot order for submission. It refuses while any
// upload is in flight. Failed slots must be removed first unless lenient is set, in which case
// they are dropped.
func (b *Batch) Artifacts(lenient bool) (models.ArtifactList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.artifactsLocked(lenient)
}

// Reserve returns the artifacts like Artifacts and freezes the slot set in the same step, so
// no file can be added or removed between the snapshot and the submission that uses it.
func (b *Batch) Reserve(lenient bool) (models.ArtifactList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reserved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "upload batch is already being submitted")
	}
	artifacts, err := b.artifactsLocked(lenient)
	if err != nil {
		return nil, err
	}
	b.reserved = true
	return artifacts, nil
}

// Release lifts a reservation after a failed submission.
func (b *Batch) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved && !b.discarded {
		b.reserved = false
		b.touch()
	}
}

// Reserved reports whether a submission holds the batch.
func (b *Batch) Reserved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reserved
}

// Commit discards a reserved batch whose artifacts now belong to a stored submission.
func (b *Batch) Commit() {
	b.Discard()
}

func (b *Batch) artifactsLocked(lenient bool) (models.ArtifactList, error) {
	if b.discarded {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "upload batch was discarded")
	}
	if !b.readyLocked() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "uploads are still in progress")
	}

	artifacts := make(models.ArtifactList, 0, len(b.order))
	var failed []string
	for _, id := range b.order {
		slot := b.slots[id]
		switch slot.State {
		case StateSucceeded:
			artifacts = append(artifacts, *slot.Artifact)
		case StateFailed:
			failed = append(failed, fmt.Sprintf("%s: %s", slot.Name, slot.Error))
		}
	}
	if len(failed) > 0 && !lenient {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidState, "remove or retry failed uploads before submitting", failed)
	}
	return artifacts, nil
}

// Discard cancels in-flight uploads and releases every preview. Stored artifacts go to the
// orphan hook unless a submission holds the batch. The batch accepts nothing afterwards.
func (b *Batch) Discard() {
	b.mu.Lock()
	if b.discarded {
		b.mu.Unlock()
		return
	}
	b.discarded = true
	b.previews = make(map[string]preview)
	var orphans []models.Artifact
	if !b.reserved {
		for _, id := range b.order {
			if slot := b.slots[id]; slot.Artifact != nil {
				orphans = append(orphans, *slot.Artifact)
			}
		}
	}
	b.touch()
	b.mu.Unlock()

	b.cancel()
	b.orphan(orphans)
}

func (b *Batch) orphan(artifacts []models.Artifact) {
	if len(artifacts) == 0 || b.onOrphan == nil {
		return
	}
	b.onOrphan(artifacts)
	b.logger.Debug("orphaned uploads released", zap.String("batch_id", b.id), zap.Int("count", len(artifacts)))
}

// Close discards the batch and waits for its upload goroutines to exit.
func (b *Batch) Close() {
	b.Discard()
	b.wg.Wait()
}

func (b *Batch) touch() {
	b.touched = b.now()
	close(b.changed)
	b.changed = make(chan struct{})
}

func normaliseMIME(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func allowed(list []string, mimeType string) bool {
	if mimeType == "" {
		return false
	}
	for _, candidate := range list {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == mimeType {
			return true
		}
		if strings.HasSuffix(candidate, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(candidate, "*")) {
			return true
		}
	}
	return false
}
