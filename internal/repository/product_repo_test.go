package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaehyuksim/catsync/internal/domain"
)

func testProductRepo(t *testing.T) *ProductRepository {
	t.Helper()
	return NewProductRepository(testDB(t), 0)
}

func TestProductRepository_CommandTimeoutBoundsQueries(t *testing.T) {
	repo := NewProductRepository(testDB(t), time.Nanosecond)

	// The deadline is already expired by the time the statement runs.
	_, err := repo.CountUnconverted(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func seedProduct(t *testing.T, repo *ProductRepository, provider, externalID string, status domain.ProductStatus) *domain.Product {
	t.Helper()
	p := &domain.Product{
		Provider:   provider,
		ExternalID: externalID,
		Title:      "매물 " + externalID,
		Content:    "설명 " + externalID,
		Status:     status,
		UpdatedAt:  time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Upsert(context.Background(), p))
	return p
}

func TestProductRepository_UpsertConflictUpdates(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	seedProduct(t, repo, "bunjang", "42", domain.ProductStatusActive)

	// Same identity, new content: must update in place, not duplicate.
	err := repo.Upsert(ctx, &domain.Product{
		Provider:   "bunjang",
		ExternalID: "42",
		Title:      "가격 인하",
		Status:     domain.ProductStatusActive,
	})
	require.NoError(t, err)

	got, err := repo.GetByExternalID(ctx, "bunjang", "42")
	require.NoError(t, err)
	assert.Equal(t, "가격 인하", got.Title)

	count, err := repo.CountByStatus(ctx, domain.ProductStatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProductRepository_SameExternalIDAcrossProviders(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	seedProduct(t, repo, "bunjang", "42", domain.ProductStatusActive)
	seedProduct(t, repo, "joongna", "42", domain.ProductStatusActive)

	bun, err := repo.GetByExternalID(ctx, "bunjang", "42")
	require.NoError(t, err)
	joo, err := repo.GetByExternalID(ctx, "joongna", "42")
	require.NoError(t, err)
	assert.NotEqual(t, bun.UID, joo.UID, "identity is provider-scoped")
}

func TestProductRepository_ActiveIdentities(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	seedProduct(t, repo, "joongna", "1", domain.ProductStatusActive)
	seedProduct(t, repo, "bunjang", "2", domain.ProductStatusActive)
	seedProduct(t, repo, "bunjang", "1", domain.ProductStatusActive)
	seedProduct(t, repo, "bunjang", "9", domain.ProductStatusSold)
	seedProduct(t, repo, "joongna", "9", domain.ProductStatusDeleted)

	keys, err := repo.ActiveIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3, "only active rows belong in the index")

	assert.Equal(t, "bunjang:1", keys[0].Identity())
	assert.Equal(t, "bunjang:2", keys[1].Identity())
	assert.Equal(t, "joongna:1", keys[2].Identity())
}

func TestProductRepository_ActiveIdentitiesTruncateToSeconds(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	stamp := time.Date(2025, 5, 1, 10, 0, 0, 987654321, time.UTC)
	p := &domain.Product{
		Provider:   "bunjang",
		ExternalID: "1",
		Status:     domain.ProductStatusActive,
		UpdatedAt:  stamp,
	}
	require.NoError(t, repo.Upsert(ctx, p))

	keys, err := repo.ActiveIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, stamp.Truncate(time.Second).Unix(), keys[0].UpdatedAt,
		"sub-second precision must not leak into comparison keys")
}

func TestProductRepository_GetByExternalIDs(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	seedProduct(t, repo, "bunjang", "3", domain.ProductStatusActive)
	seedProduct(t, repo, "bunjang", "1", domain.ProductStatusActive)
	seedProduct(t, repo, "joongna", "1", domain.ProductStatusActive)

	rows, err := repo.GetByExternalIDs(ctx, "bunjang", []string{"1", "3", "404"})
	require.NoError(t, err)
	require.Len(t, rows, 2, "missing IDs are simply absent, not an error")
	assert.Equal(t, "1", rows[0].ExternalID)
	assert.Equal(t, "3", rows[1].ExternalID)

	rows, err = repo.GetByExternalIDs(ctx, "bunjang", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProductRepository_ConversionFlags(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		seedProduct(t, repo, "bunjang", fmt.Sprintf("%d", i), domain.ProductStatusActive)
	}
	seedProduct(t, repo, "bunjang", "5", domain.ProductStatusSold)

	count, err := repo.CountUnconverted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "sold rows do not count as pending work")

	require.NoError(t, repo.MarkConverted(ctx, "bunjang", []string{"1", "2"}))
	require.NoError(t, repo.MarkConverted(ctx, "bunjang", nil))

	count, err = repo.CountUnconverted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	reset, err := repo.ResetConversionFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	count, err = repo.CountUnconverted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestProductRepository_MarkConvertedKeepsUpdatedAt(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	seedProduct(t, repo, "bunjang", "1", domain.ProductStatusActive)
	before, err := repo.GetByExternalID(ctx, "bunjang", "1")
	require.NoError(t, err)

	require.NoError(t, repo.MarkConverted(ctx, "bunjang", []string{"1"}))

	after, err := repo.GetByExternalID(ctx, "bunjang", "1")
	require.NoError(t, err)
	assert.True(t, after.Converted)
	assert.Equal(t, before.UpdatedAt.Unix(), after.UpdatedAt.Unix(),
		"flag bookkeeping must not make the row look newer than its vector")
}

func TestProductRepository_FetchActiveUnconvertedPaging(t *testing.T) {
	repo := testProductRepo(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seedProduct(t, repo, "bunjang", fmt.Sprintf("%d", i), domain.ProductStatusActive)
	}
	require.NoError(t, repo.MarkConverted(ctx, "bunjang", []string{"2"}))

	page1, err := repo.FetchActiveUnconverted(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "1", page1[0].ExternalID)
	assert.Equal(t, "3", page1[1].ExternalID)

	page2, err := repo.FetchActiveUnconverted(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "4", page2[0].ExternalID)
	assert.Equal(t, "5", page2[1].ExternalID)
}
