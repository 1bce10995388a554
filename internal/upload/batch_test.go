package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

var imageLimits = Constraints{
	MaxSlots:     5,
	MaxSizeBytes: 1024,
	AllowedMIMEs: []string{"image/jpeg", "image/png"},
}

// gatedUploader holds every upload until its file name is released.
type gatedUploader struct {
	mu    sync.Mutex
	gates map[string]chan error
}

func newGatedUploader() *gatedUploader {
	return &gatedUploader{gates: make(map[string]chan error)}
}

func (g *gatedUploader) gate(name string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[name]
	if !ok {
		ch = make(chan error, 1)
		g.gates[name] = ch
	}
	return ch
}

func (g *gatedUploader) release(name string, err error) {
	g.gate(name) <- err
}

func (g *gatedUploader) Upload(ctx context.Context, file File) (*models.Artifact, error) {
	select {
	case err := <-g.gate(file.Name):
		if err != nil {
			return nil, err
		}
		return &models.Artifact{URL: "https://cdn.local/" + file.Name, Name: file.Name, Type: file.MIMEType, Size: file.Size(), PublicID: "pub-" + file.Name}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func jpeg(name string) File {
	return File{Name: name, MIMEType: "image/jpeg", Data: []byte("jpeg-bytes")}
}

func waitReady(t *testing.T, b *Batch) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := b.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestBatchIsolatesFailures(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	slots, err := b.AddFiles([]File{jpeg("one.jpg"), jpeg("two.jpg"), jpeg("three.jpg")})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for _, slot := range slots {
		assert.Equal(t, StateUploading, slot.State)
	}
	assert.False(t, b.Ready())

	// Completion order differs from slot order.
	up.release("three.jpg", nil)
	up.release("two.jpg", errors.New("connection reset"))
	up.release("one.jpg", nil)

	snap := waitReady(t, b)
	require.Len(t, snap.Slots, 3)
	assert.Equal(t, StateSucceeded, snap.Slots[0].State)
	assert.Equal(t, StateFailed, snap.Slots[1].State)
	assert.Equal(t, StateSucceeded, snap.Slots[2].State)
	assert.Equal(t, "one.jpg", snap.Slots[0].Artifact.Name)
	assert.Equal(t, "three.jpg", snap.Slots[2].Artifact.Name)
	assert.Nil(t, snap.Slots[1].Artifact)
	assert.Contains(t, snap.Slots[1].Error, "connection reset")
	assert.True(t, snap.Ready)
}

func TestBatchCapacityIsAllOrNothing(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	_, err := b.AddFiles([]File{jpeg("a.jpg"), jpeg("b.jpg")})
	require.NoError(t, err)

	_, err = b.AddFiles([]File{jpeg("c.jpg"), jpeg("d.jpg"), jpeg("e.jpg"), jpeg("f.jpg")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Len(t, b.Slots(), 2)

	_, err = b.AddFiles([]File{jpeg("c.jpg"), jpeg("d.jpg"), jpeg("e.jpg")})
	require.NoError(t, err)
	assert.Len(t, b.Slots(), 5)
	assert.Equal(t, 0, b.Snapshot().Remaining)

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"} {
		up.release(name, nil)
	}
	waitReady(t, b)
}

func TestBatchReportsEveryInvalidFile(t *testing.T) {
	b := NewBatch("b1", imageLimits, newGatedUploader())
	defer b.Close()

	big := File{Name: "big.png", MIMEType: "image/png", Data: make([]byte, 2048)}
	exe := File{Name: "tool.exe", MIMEType: "application/octet-stream", Data: []byte("MZ")}

	_, err := b.AddFiles([]File{jpeg("ok.jpg"), big, exe})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Len(t, appErr.Details, 2)
	assert.Contains(t, appErr.Details[0], "big.png")
	assert.Contains(t, appErr.Details[1], "tool.exe")
	assert.Empty(t, b.Slots())
}

func TestBatchJudgesUnbufferedFilesWithTheRest(t *testing.T) {
	b := NewBatch("b1", imageLimits, newGatedUploader())
	defer b.Close()

	huge := func(name string) File {
		return File{Name: name, MIMEType: "image/png", DeclaredSize: 20 << 20}
	}

	_, err := b.AddFiles([]File{jpeg("a.jpg"), huge("one.png"), jpeg("b.jpg"), huge("two.png"), jpeg("c.jpg"), jpeg("d.jpg")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))

	_, err = b.AddFiles([]File{jpeg("a.jpg"), huge("one.png"), huge("two.png")})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Len(t, appErr.Details, 2)
	assert.Contains(t, appErr.Details[0], "one.png")
	assert.Contains(t, appErr.Details[1], "two.png")

	partial := File{Name: "cut.png", MIMEType: "image/png", Data: make([]byte, 10), DeclaredSize: 512}
	_, err = b.AddFiles([]File{partial})
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details[0], "not received in full")
	assert.Empty(t, b.Slots())
}

func TestRemoveSlotRefusedWhileUploading(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	slots, err := b.AddFiles([]File{jpeg("a.jpg"), jpeg("b.jpg")})
	require.NoError(t, err)

	err = b.RemoveSlot(slots[0].ID)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	_, _, err = b.Preview(slots[0].ID)
	require.NoError(t, err)

	up.release("a.jpg", errors.New("timeout"))
	up.release("b.jpg", nil)
	waitReady(t, b)

	require.NoError(t, b.RemoveSlot(slots[0].ID))
	_, _, err = b.Preview(slots[0].ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	remaining := b.Slots()
	require.Len(t, remaining, 1)
	assert.Equal(t, slots[1].ID, remaining[0].ID)
	assert.True(t, errors.Is(b.RemoveSlot("missing"), appErrors.ErrNotFound))
}

func TestArtifactsGate(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	slots, err := b.AddFiles([]File{jpeg("a.jpg"), jpeg("b.jpg")})
	require.NoError(t, err)

	_, err = b.Artifacts(false)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	up.release("a.jpg", nil)
	up.release("b.jpg", errors.New("503"))
	waitReady(t, b)

	_, err = b.Artifacts(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	lenient, err := b.Artifacts(true)
	require.NoError(t, err)
	require.Len(t, lenient, 1)
	assert.Equal(t, "a.jpg", lenient[0].Name)

	require.NoError(t, b.RemoveSlot(slots[1].ID))
	strict, err := b.Artifacts(false)
	require.NoError(t, err)
	assert.Len(t, strict, 1)
}

func TestWaitHonoursContext(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	_, err := b.AddFiles([]File{jpeg("slow.jpg")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, snap.Ready)
}

func TestTaskTimeoutFailsSlot(t *testing.T) {
	b := NewBatch("b1", imageLimits, newGatedUploader(), WithTaskTimeout(10*time.Millisecond))
	defer b.Close()

	_, err := b.AddFiles([]File{jpeg("never.jpg")})
	require.NoError(t, err)

	snap := waitReady(t, b)
	assert.Equal(t, StateFailed, snap.Slots[0].State)
}

func TestSettleHookAndDiscard(t *testing.T) {
	var (
		mu      sync.Mutex
		settled []State
	)
	hook := func(slot Slot) {
		mu.Lock()
		settled = append(settled, slot.State)
		mu.Unlock()
	}
	up := UploaderFunc(func(ctx context.Context, file File) (*models.Artifact, error) {
		if file.Name == "bad.jpg" {
			return nil, fmt.Errorf("rejected by store")
		}
		return &models.Artifact{URL: "u", Name: file.Name}, nil
	})
	b := NewBatch("b1", imageLimits, up, WithSettleHook(hook))

	_, err := b.AddFiles([]File{jpeg("good.jpg"), jpeg("bad.jpg")})
	require.NoError(t, err)
	waitReady(t, b)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(settled) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []State{StateSucceeded, StateFailed}, settled)
	mu.Unlock()

	b.Close()
	_, err = b.AddFiles([]File{jpeg("late.jpg")})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	_, err = b.Artifacts(true)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestAllowedWildcardAndParameters(t *testing.T) {
	assert.True(t, allowed([]string{"image/*"}, "image/webp"))
	assert.False(t, allowed([]string{"image/*"}, "application/pdf"))
	assert.Equal(t, "application/pdf", normaliseMIME("application/pdf; charset=binary"))
}

type orphanRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *orphanRecorder) hook(artifacts []models.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range artifacts {
		r.ids = append(r.ids, a.PublicID)
	}
}

func (r *orphanRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestReserveFreezesSlots(t *testing.T) {
	up := newGatedUploader()
	b := NewBatch("b1", imageLimits, up)
	defer b.Close()

	slots, err := b.AddFiles([]File{jpeg("a.jpg"), jpeg("b.jpg")})
	require.NoError(t, err)
	up.release("a.jpg", nil)
	up.release("b.jpg", nil)
	waitReady(t, b)

	artifacts, err := b.Reserve(false)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.True(t, b.Reserved())

	_, err = b.AddFiles([]File{jpeg("c.jpg")})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.True(t, errors.Is(b.RemoveSlot(slots[0].ID), appErrors.ErrInvalidState))
	_, err = b.Reserve(false)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	b.Release()
	assert.False(t, b.Reserved())
	_, err = b.AddFiles([]File{jpeg("c.jpg")})
	assert.NoError(t, err)
}

func TestOrphanedUploadsAreReported(t *testing.T) {
	up := newGatedUploader()
	orphans := &orphanRecorder{}
	b := NewBatch("b1", imageLimits, up, WithOrphanHook(orphans.hook))

	slots, err := b.AddFiles([]File{jpeg("a.jpg"), jpeg("b.jpg"), jpeg("c.jpg")})
	require.NoError(t, err)
	up.release("a.jpg", nil)
	up.release("b.jpg", nil)
	up.release("c.jpg", errors.New("store down"))
	waitReady(t, b)

	require.NoError(t, b.RemoveSlot(slots[0].ID))
	require.NoError(t, b.RemoveSlot(slots[2].ID))
	assert.Equal(t, []string{"pub-a.jpg"}, orphans.list())

	b.Close()
	assert.Equal(t, []string{"pub-a.jpg", "pub-b.jpg"}, orphans.list())
}

func TestCommitKeepsArtifacts(t *testing.T) {
	up := newGatedUploader()
	orphans := &orphanRecorder{}
	b := NewBatch("b1", imageLimits, up, WithOrphanHook(orphans.hook))

	_, err := b.AddFiles([]File{jpeg("a.jpg")})
	require.NoError(t, err)
	up.release("a.jpg", nil)
	waitReady(t, b)

	_, err = b.Reserve(false)
	require.NoError(t, err)
	b.Commit()
	b.Close()
	assert.Empty(t, orphans.list())
}

func TestLateUploadAfterDiscardIsOrphaned(t *testing.T) {
	proceed := make(chan struct{})
	up := UploaderFunc(func(ctx context.Context, file File) (*models.Artifact, error) {
		<-proceed
		return &models.Artifact{URL: "u", Name: file.Name, PublicID: "pub-" + file.Name}, nil
	})
	orphans := &orphanRecorder{}
	b := NewBatch("b1", imageLimits, up, WithOrphanHook(orphans.hook))

	_, err := b.AddFiles([]File{jpeg("slow.jpg")})
	require.NoError(t, err)
	b.Discard()
	assert.Empty(t, orphans.list())

	close(proceed)
	b.Close()
	assert.Equal(t, []string{"pub-slow.jpg"}, orphans.list())
}
