package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// mockContentRepo is a mock implementation of ContentRepositoryInterface
type mockContentRepo struct {
	commitFunc        func(ctx context.Context, v *models.ContentVersion, beforeCommit func(context.Context, *models.ContentVersion) error) error
	restoreFunc       func(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error)
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*models.ContentVersion, error)
	pruneFunc         func(ctx context.Context, ownerID uuid.UUID, keep int, clear func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error)
	deleteByOwnerFunc func(ctx context.Context, ownerID uuid.UUID, clear func(context.Context, []uuid.UUID) error) (int64, error)
}

func (m *mockContentRepo) Commit(ctx context.Context, v *models.ContentVersion, beforeCommit func(context.Context, *models.ContentVersion) error) error {
	if m.commitFunc != nil {
		return m.commitFunc(ctx, v, beforeCommit)
	}
	v.Version = 1
	v.IsCurrent = true
	if beforeCommit != nil {
		return beforeCommit(ctx, v)
	}
	return nil
}

func (m *mockContentRepo) Restore(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error) {
	if m.restoreFunc != nil {
		return m.restoreFunc(ctx, ownerID, versionID)
	}
	return nil, database.ErrNotFound
}

func (m *mockContentRepo) Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error) {
	return nil, database.ErrNotFound
}

func (m *mockContentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentVersion, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, database.ErrNotFound
}

func (m *mockContentRepo) List(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error) {
	return nil, nil
}

func (m *mockContentRepo) Prune(ctx context.Context, ownerID uuid.UUID, keep int, clear func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error) {
	if m.pruneFunc != nil {
		return m.pruneFunc(ctx, ownerID, keep, clear)
	}
	return 0, nil
}

func (m *mockContentRepo) UpdateCurrentContent(ctx context.Context, ownerID uuid.UUID, content string) (*models.ContentVersion, error) {
	return nil, database.ErrNotFound
}

func (m *mockContentRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID, clear func(context.Context, []uuid.UUID) error) (int64, error) {
	if m.deleteByOwnerFunc != nil {
		return m.deleteByOwnerFunc(ctx, ownerID, clear)
	}
	return 0, nil
}

// Ensure mock implements interface
var _ database.ContentRepositoryInterface = (*mockContentRepo)(nil)

// memBlobStore keeps blobs in memory; ids in failDelete make Delete fail
type memBlobStore struct {
	mu         sync.Mutex
	blobs      map[uuid.UUID]*models.Blob
	putErr     error
	failDelete map[uuid.UUID]bool
	deleted    []uuid.UUID
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[uuid.UUID]*models.Blob), failDelete: make(map[uuid.UUID]bool)}
}

func (s *memBlobStore) Put(ctx context.Context, blob *models.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	blob.CreatedAt = time.Now()
	s.blobs[blob.ContentID] = blob
	return nil
}

func (s *memBlobStore) Get(ctx context.Context, contentID uuid.UUID, area models.BlobArea) (*models.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[contentID]
	if !ok || b.Area != area {
		return nil, blobstore.ErrNotFound
	}
	return b, nil
}

func (s *memBlobStore) Delete(ctx context.Context, contentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[contentID] {
		return errors.New("bucket unavailable")
	}
	delete(s.blobs, contentID)
	s.deleted = append(s.deleted, contentID)
	return nil
}

var _ blobstore.Store = (*memBlobStore)(nil)

func TestStore_Commit(t *testing.T) {
	t.Parallel()

	owner := uuid.New()

	t.Run("stores blob under the new version", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		store := NewStore(&mockContentRepo{}, blobs, nil, nil)

		blob := &models.Blob{Area: models.BlobAreaQuiz, Filename: "quiz-export.xml", ContentType: "application/xml", Data: []byte("<quiz/>")}
		v, err := store.Commit(context.Background(), owner, models.GenerationTypeQuiz, "rivers", "<quiz/>", blob)
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if blob.ContentID != v.ID {
			t.Errorf("blob content id = %s, want %s", blob.ContentID, v.ID)
		}
		if _, err := blobs.Get(context.Background(), v.ID, models.BlobAreaQuiz); err != nil {
			t.Errorf("blob not stored: %v", err)
		}
		if v.OwnerID != owner || v.Prompt != "rivers" || !v.IsCurrent {
			t.Errorf("unexpected version: %+v", v)
		}
	})

	t.Run("blob failure aborts the commit", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		blobs.putErr = errors.New("quota exceeded")
		pruned := false
		repo := &mockContentRepo{
			pruneFunc: func(context.Context, uuid.UUID, int, func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error) {
				pruned = true
				return 0, nil
			},
		}
		store := NewStore(repo, blobs, nil, nil)

		blob := &models.Blob{Area: models.BlobAreaAudio, Data: []byte{1}}
		if _, err := store.Commit(context.Background(), owner, models.GenerationTypeAudio, "p", "script", blob); !errors.Is(err, blobs.putErr) {
			t.Fatalf("Commit() error = %v, want wrapped put error", err)
		}
		if pruned {
			t.Error("prune must not run after a failed commit")
		}
	})

	t.Run("rolled back transaction removes the written blob", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		commitErr := errors.New("serialization failure")
		repo := &mockContentRepo{
			commitFunc: func(ctx context.Context, v *models.ContentVersion, hook func(context.Context, *models.ContentVersion) error) error {
				if err := hook(ctx, v); err != nil {
					return err
				}
				return commitErr
			},
		}
		store := NewStore(repo, blobs, nil, nil)

		blob := &models.Blob{Area: models.BlobAreaAudio, Data: []byte{1}}
		if _, err := store.Commit(context.Background(), owner, models.GenerationTypeAudio, "p", "script", blob); !errors.Is(err, commitErr) {
			t.Fatalf("Commit() error = %v", err)
		}
		if len(blobs.blobs) != 0 || len(blobs.deleted) != 1 {
			t.Errorf("blob left behind: stored=%d deleted=%d", len(blobs.blobs), len(blobs.deleted))
		}
	})

	t.Run("prune failure does not fail the commit", func(t *testing.T) {
		t.Parallel()
		repo := &mockContentRepo{
			pruneFunc: func(context.Context, uuid.UUID, int, func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error) {
				return 0, errors.New("connection reset")
			},
		}
		store := NewStore(repo, newMemBlobStore(), nil, nil)

		if _, err := store.Commit(context.Background(), owner, models.GenerationTypeSummary, "p", "<p>x</p>", nil); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	})
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	blobs := newMemBlobStore()
	blobs.failDelete[b] = true

	var keepArg int
	var deletedIDs []uuid.UUID
	repo := &mockContentRepo{
		pruneFunc: func(ctx context.Context, _ uuid.UUID, keep int, clear func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error) {
			keepArg = keep
			deletedIDs = clear(ctx, []uuid.UUID{a, b, c})
			return int64(len(deletedIDs)), nil
		},
	}
	store := NewStore(repo, blobs, nil, nil)

	n, err := store.Prune(context.Background(), owner)
	if err == nil {
		t.Fatal("expected error for the version whose blobs could not be removed")
	}
	if keepArg != models.MaxRetainedVersions {
		t.Errorf("keep = %d, want %d", keepArg, models.MaxRetainedVersions)
	}
	if n != 2 || len(deletedIDs) != 2 || deletedIDs[0] != a || deletedIDs[1] != c {
		t.Errorf("deleted = %v (n=%d), want [%s %s]", deletedIDs, n, a, c)
	}
}

// lockedContentRepo keeps one owner's versions in memory. Its mutex stands in for the
// owner row lock that Prune and Restore share.
type lockedContentRepo struct {
	mockContentRepo
	mu      sync.Mutex
	order   []uuid.UUID // oldest first
	current uuid.UUID
}

func newLockedContentRepo(blobs *memBlobStore, n int) *lockedContentRepo {
	r := &lockedContentRepo{}
	for i := 0; i < n; i++ {
		id := uuid.New()
		r.order = append(r.order, id)
		_ = blobs.Put(context.Background(), &models.Blob{ContentID: id, Area: models.BlobAreaAudio, Data: []byte{byte(i)}})
	}
	r.current = r.order[n-1]
	return r
}

func (r *lockedContentRepo) Restore(_ context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if id == versionID {
			r.current = id
			return &models.ContentVersion{ID: id, OwnerID: ownerID, IsCurrent: true}, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *lockedContentRepo) Prune(ctx context.Context, _ uuid.UUID, keep int, clear func(context.Context, []uuid.UUID) []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []uuid.UUID
	for i := 0; i < len(r.order)-keep; i++ {
		if r.order[i] != r.current {
			candidates = append(candidates, r.order[i])
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	removed := make(map[uuid.UUID]bool)
	for _, id := range clear(ctx, candidates) {
		removed[id] = true
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	r.order = kept
	return int64(len(removed)), nil
}

func (r *lockedContentRepo) snapshot() ([]uuid.UUID, uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.order...), r.current
}

func TestStore_PruneRacingRestore(t *testing.T) {
	t.Parallel()

	owner := uuid.New()

	t.Run("restored version keeps its row and blob", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		repo := newLockedContentRepo(blobs, models.MaxRetainedVersions+2)
		store := NewStore(repo, blobs, nil, nil)
		oldest := repo.order[0]

		if _, err := store.Restore(context.Background(), owner, oldest); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		n, err := store.Prune(context.Background(), owner)
		if err != nil || n != 1 {
			t.Fatalf("Prune() = %d, %v, want 1 deleted", n, err)
		}
		if _, err := blobs.Get(context.Background(), oldest, models.BlobAreaAudio); err != nil {
			t.Errorf("current version lost its blob: %v", err)
		}
	})

	t.Run("every surviving version has its blob", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 50; i++ {
			blobs := newMemBlobStore()
			repo := newLockedContentRepo(blobs, models.MaxRetainedVersions+2)
			store := NewStore(repo, blobs, nil, nil)
			oldest := repo.order[0]

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = store.Restore(context.Background(), owner, oldest)
			}()
			go func() {
				defer wg.Done()
				if _, err := store.Prune(context.Background(), owner); err != nil {
					t.Errorf("Prune() error = %v", err)
				}
			}()
			wg.Wait()

			order, current := repo.snapshot()
			for _, id := range order {
				if _, err := blobs.Get(context.Background(), id, models.BlobAreaAudio); err != nil {
					t.Fatalf("version %s survived prune without its blob (current=%v): %v", id, id == current, err)
				}
			}
			if len(order) != len(blobs.blobs) {
				t.Fatalf("rows=%d blobs=%d, want equal", len(order), len(blobs.blobs))
			}
		}
	})
}

func TestStore_Blob(t *testing.T) {
	t.Parallel()

	owner, other := uuid.New(), uuid.New()
	versionID := uuid.New()

	blobs := newMemBlobStore()
	_ = blobs.Put(context.Background(), &models.Blob{ContentID: versionID, Area: models.BlobAreaAudio, Data: []byte{1}})

	repo := &mockContentRepo{
		getByIDFunc: func(_ context.Context, id uuid.UUID) (*models.ContentVersion, error) {
			if id != versionID {
				return nil, database.ErrNotFound
			}
			return &models.ContentVersion{ID: id, OwnerID: owner}, nil
		},
	}
	store := NewStore(repo, blobs, nil, nil)

	tests := []struct {
		name    string
		owner   uuid.UUID
		version uuid.UUID
		area    models.BlobArea
		wantErr error
	}{
		{"own audio", owner, versionID, models.BlobAreaAudio, nil},
		{"other owner", other, versionID, models.BlobAreaAudio, ErrOwnerMismatch},
		{"missing area", owner, versionID, models.BlobAreaQuiz, ErrNotFound},
		{"missing version", owner, uuid.New(), models.BlobAreaAudio, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := store.Blob(context.Background(), tt.owner, tt.version, tt.area)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Blob() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Blob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	t.Run("removes blobs then rows", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		rowsDeleted := false
		repo := &mockContentRepo{
			deleteByOwnerFunc: func(ctx context.Context, _ uuid.UUID, clear func(context.Context, []uuid.UUID) error) (int64, error) {
				if err := clear(ctx, ids); err != nil {
					return 0, err
				}
				if len(blobs.deleted) != len(ids) {
					t.Error("rows deleted before blobs")
				}
				rowsDeleted = true
				return int64(len(ids)), nil
			},
		}

		n, err := NewStore(repo, blobs, nil, nil).Reset(context.Background(), owner)
		if err != nil || n != 2 || !rowsDeleted {
			t.Fatalf("Reset() = %d, %v", n, err)
		}
	})

	t.Run("blob failure keeps rows", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		blobs.failDelete[ids[1]] = true
		repo := &mockContentRepo{
			deleteByOwnerFunc: func(ctx context.Context, _ uuid.UUID, clear func(context.Context, []uuid.UUID) error) (int64, error) {
				if err := clear(ctx, ids); err != nil {
					return 0, err
				}
				t.Error("rows must not be deleted when blob removal fails")
				return 0, nil
			},
		}

		if _, err := NewStore(repo, blobs, nil, nil).Reset(context.Background(), owner); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStore_RestorePassesThroughErrors(t *testing.T) {
	t.Parallel()

	repo := &mockContentRepo{
		restoreFunc: func(context.Context, uuid.UUID, uuid.UUID) (*models.ContentVersion, error) {
			return nil, database.ErrOwnerMismatch
		},
	}
	_, err := NewStore(repo, newMemBlobStore(), nil, nil).Restore(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("Restore() error = %v, want ErrOwnerMismatch", err)
	}
}
