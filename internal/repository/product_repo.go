package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jaehyuksim/catsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepository handles catalog row access for the sync pipeline.
type ProductRepository struct {
	db             *gorm.DB
	commandTimeout time.Duration
}

// NewProductRepository creates a new ProductRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - commandTimeout: per-query deadline, 0 disables.
// Returns:
//   - *ProductRepository: repository instance bound to db.
func NewProductRepository(db *gorm.DB, commandTimeout time.Duration) *ProductRepository {
	return &ProductRepository{db: db, commandTimeout: commandTimeout}
}

// session returns a query handle whose context carries the command
// timeout, so no single statement can hang the caller.
func (r *ProductRepository) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if r.commandTimeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
		return r.db.WithContext(tctx), cancel
	}
	return r.db.WithContext(ctx), func() {}
}

// Upsert creates or updates a product keyed by (provider, external_id).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - p: product record to create or update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ProductRepository) Upsert(ctx context.Context, p *domain.Product) error {
	db, cancel := r.session(ctx)
	defer cancel()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "external_id"}},
		UpdateAll: true,
	}).Create(p).Error
}

// GetByExternalID retrieves one product by its provider-scoped identity.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - provider: provider code.
//   - externalID: provider-specific ID.
// Returns:
//   - *domain.Product: product record if found.
//   - error: non-nil if lookup fails.
func (r *ProductRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*domain.Product, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var p domain.Product
	if err := db.
		First(&p, "provider = ? AND external_id = ?", provider, externalID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByExternalIDs retrieves products for a batch of identities of one provider.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - provider: provider code.
//   - externalIDs: provider-specific IDs.
// Returns:
//   - []domain.Product: matching rows, ordered by external_id.
//   - error: non-nil if the query fails.
func (r *ProductRepository) GetByExternalIDs(ctx context.Context, provider string, externalIDs []string) ([]domain.Product, error) {
	if len(externalIDs) == 0 {
		return []domain.Product{}, nil
	}
	db, cancel := r.session(ctx)
	defer cancel()
	var products []domain.Product
	if err := db.
		Where("provider = ? AND external_id IN ?", provider, externalIDs).
		Order("external_id").
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to get products by external IDs: %w", err)
	}
	return products, nil
}

// ActiveIdentities returns the comparison keys of every active row.
// UpdatedAt is truncated to whole seconds so the change-set resolver
// compares at the same precision the index payload stores.
func (r *ProductRepository) ActiveIdentities(ctx context.Context) ([]domain.SourceKey, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var rows []struct {
		Provider   string
		ExternalID string
		UpdatedAt  time.Time
	}
	if err := db.
		Model(&domain.Product{}).
		Select("provider", "external_id", "updated_at").
		Where("status = ?", domain.ProductStatusActive).
		Order("provider, external_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list active identities: %w", err)
	}

	keys := make([]domain.SourceKey, len(rows))
	for i, row := range rows {
		keys[i] = domain.SourceKey{
			Provider:   row.Provider,
			ExternalID: row.ExternalID,
			UpdatedAt:  row.UpdatedAt.Truncate(time.Second).Unix(),
		}
	}
	return keys, nil
}

// FetchActiveUnconverted retrieves a page of active rows not yet reflected
// in the vector store, in stable external_id order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of rows to return.
//   - offset: number of rows to skip.
// Returns:
//   - []domain.Product: matching rows.
//   - error: non-nil if the query fails.
func (r *ProductRepository) FetchActiveUnconverted(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var products []domain.Product
	if err := db.
		Where("status = ? AND converted = ?", domain.ProductStatusActive, false).
		Order("provider, external_id").
		Limit(limit).
		Offset(offset).
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// CountUnconverted counts active rows not yet reflected in the vector store.
func (r *ProductRepository) CountUnconverted(ctx context.Context) (int64, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var count int64
	if err := db.
		Model(&domain.Product{}).
		Where("status = ? AND converted = ?", domain.ProductStatusActive, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkConverted flips the converted flag for a batch of identities after a
// successful upsert into the vector store.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - provider: provider code.
//   - externalIDs: provider-specific IDs to flag.
// Returns:
//   - error: non-nil if the update fails.
func (r *ProductRepository) MarkConverted(ctx context.Context, provider string, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	db, cancel := r.session(ctx)
	defer cancel()
	// UpdateColumn skips gorm's automatic updated_at bump: flipping the
	// flag must not make the row look newer than its indexed payload.
	return db.
		Model(&domain.Product{}).
		Where("provider = ? AND external_id IN ?", provider, externalIDs).
		UpdateColumn("converted", true).Error
}

// ResetConversionFlags clears the converted flag on every row, forcing a full
// re-index on the next sync run.
func (r *ProductRepository) ResetConversionFlags(ctx context.Context) (int64, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	res := db.
		Model(&domain.Product{}).
		Where("converted = ?", true).
		UpdateColumn("converted", false)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByStatus counts rows by marketplace status.
func (r *ProductRepository) CountByStatus(ctx context.Context, status domain.ProductStatus) (int64, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var count int64
	if err := db.
		Model(&domain.Product{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
