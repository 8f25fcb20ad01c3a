package postgres

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRepo connects to TEST_DATABASE_URL and gives each test its own namespace
func setupRepo(t *testing.T) (*LayoutRepository, string) {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(databaseURL))

	pool, err := pgxpool.New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	namespace := "test:" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM layouts WHERE namespace = $1`, namespace)
	})
	return NewLayoutRepository(pool, util.NewMonotonicClock()), namespace
}

func createLayout(t *testing.T, repo *LayoutRepository, namespace, name string) domain.LayoutMetadata {
	t.Helper()
	result, err := repo.Create(context.Background(), namespace, domain.NewLayout{
		CreatorUserID: "auth0|u1",
		Name:          name,
		Data:          json.RawMessage(`{"panels":[1]}`),
	})
	require.NoError(t, err)
	require.True(t, result.OK())
	return *result.Metadata
}

func TestLayoutRepository_CreateAndRead(t *testing.T) {
	repo, namespace := setupRepo(t)
	ctx := context.Background()

	first := createLayout(t, repo, namespace, "First")
	second := createLayout(t, repo, namespace, "Second")

	list, err := repo.ListMetadata(ctx, namespace)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.True(t, list[0].UpdatedAt.Equal(first.UpdatedAt))

	layout, err := repo.Get(ctx, namespace, first.ID)
	require.NoError(t, err)
	require.NotNil(t, layout)
	assert.JSONEq(t, `{"panels":[1]}`, string(layout.Data))

	missing, err := repo.Get(ctx, "other:"+namespace, first.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLayoutRepository_CreateDuplicateConflicts(t *testing.T) {
	repo, namespace := setupRepo(t)
	createLayout(t, repo, namespace, "Ops")

	result, err := repo.Create(context.Background(), namespace, domain.NewLayout{
		CreatorUserID: "auth0|u2",
		Name:          "Ops",
		Data:          json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusConflict, result.Status)
}

func TestLayoutRepository_UpdateVersionToken(t *testing.T) {
	repo, namespace := setupRepo(t)
	ctx := context.Background()
	created := createLayout(t, repo, namespace, "Ops")

	result, err := repo.Update(ctx, namespace, domain.LayoutUpdate{
		ID:                created.ID,
		Data:              json.RawMessage(`{"panels":[2]}`),
		IfUnmodifiedSince: created.UpdatedAt,
	})
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.True(t, result.Metadata.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, result.Metadata.CreatedAt.Equal(created.CreatedAt))

	stale, err := repo.Update(ctx, namespace, domain.LayoutUpdate{
		ID:                created.ID,
		Data:              json.RawMessage(`{"panels":[3]}`),
		IfUnmodifiedSince: created.UpdatedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusPreconditionFailed, stale.Status)

	missing, err := repo.Update(ctx, namespace, domain.LayoutUpdate{
		ID:                uuid.New(),
		Data:              json.RawMessage(`{}`),
		IfUnmodifiedSince: created.UpdatedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusConflict, missing.Status)
}

func TestLayoutRepository_RenameChecksNameBeforeToken(t *testing.T) {
	repo, namespace := setupRepo(t)
	ctx := context.Background()
	target := createLayout(t, repo, namespace, "Ops")
	createLayout(t, repo, namespace, "Taken")

	// Name conflict wins over a stale token
	result, err := repo.Rename(ctx, namespace, domain.LayoutRename{
		ID:                target.ID,
		Name:              "Taken",
		IfUnmodifiedSince: target.UpdatedAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusConflict, result.Status)

	// Renaming to its own name is not a conflict
	result, err = repo.Rename(ctx, namespace, domain.LayoutRename{
		ID:                target.ID,
		Name:              "Ops",
		IfUnmodifiedSince: target.UpdatedAt,
	})
	require.NoError(t, err)
	assert.True(t, result.OK())
}

func TestLayoutRepository_DeleteAndShare(t *testing.T) {
	repo, namespace := setupRepo(t)
	ctx := context.Background()
	source := createLayout(t, repo, namespace, "Ops")

	shared, err := repo.Share(ctx, namespace, domain.LayoutShare{
		SourceID:      source.ID,
		CreatorUserID: "auth0|u2",
		Name:          "Ops",
		Permission:    domain.PermissionOrgRead,
	})
	require.NoError(t, err)
	require.True(t, shared.OK())
	assert.NotEqual(t, source.ID, shared.Metadata.ID)

	again, err := repo.Share(ctx, namespace, domain.LayoutShare{
		SourceID:      source.ID,
		CreatorUserID: "auth0|u2",
		Name:          "Ops",
		Permission:    domain.PermissionOrgWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusConflict, again.Status)

	stale, err := repo.Delete(ctx, namespace, source.ID, source.UpdatedAt.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, domain.WriteStatusPreconditionFailed, stale.Status)

	deleted, err := repo.Delete(ctx, namespace, source.ID, source.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, deleted.OK())

	gone, err := repo.Delete(ctx, namespace, source.ID, source.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, gone.OK())
}

func TestLayoutRepository_ConcurrentCreateSameName(t *testing.T) {
	repo, namespace := setupRepo(t)
	ctx := context.Background()

	const writers = 8
	results := make([]domain.WriteResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := repo.Create(ctx, namespace, domain.NewLayout{
				CreatorUserID: "auth0|u1",
				Name:          "Ops",
				Data:          json.RawMessage(`{}`),
			})
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, result := range results {
		if result.OK() {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}
