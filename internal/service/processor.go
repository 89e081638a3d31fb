package service

import (
	"context"
	"fmt"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/repository"
)

// SourceStore is the catalog side of the pipeline.
type SourceStore interface {
	ActiveIdentities(ctx context.Context) ([]domain.SourceKey, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*domain.Product, error)
	GetByExternalIDs(ctx context.Context, provider string, externalIDs []string) ([]domain.Product, error)
	MarkConverted(ctx context.Context, provider string, externalIDs []string) error
}

// VectorStore is the index side of the pipeline.
type VectorStore interface {
	IndexedKeys(ctx context.Context) ([]domain.SourceKey, error)
	UpsertBatch(ctx context.Context, records []repository.VectorRecord) ([]string, error)
	DeleteBatch(ctx context.Context, pointIDs []string) error
}

// Embedder turns canonical texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Checkpoints persists session progress between runs.
type Checkpoints interface {
	Load() (*domain.CheckpointState, error)
	Save(state *domain.CheckpointState) error
	MarkCompleted(ctx context.Context, state *domain.CheckpointState) error
	MarkFailed(state *domain.CheckpointState) error
}

// FailureLedger records per-record failures for later retry.
type FailureLedger interface {
	Record(ctx context.Context, op domain.OperationType, provider, subjectID string, cause error, fctx repository.FailureContext) (uint, error)
}

// RecordProcessor performs the full index path for a single record.
// The queue worker and the failure retrier share it, so a retried
// failure takes exactly the same path as a fresh job.
type RecordProcessor struct {
	source  SourceStore
	vectors VectorStore
	embed   Embedder
	log     *logger.Logger
}

// NewRecordProcessor creates a single-record processor.
func NewRecordProcessor(source SourceStore, vectors VectorStore, embed Embedder, log *logger.Logger) *RecordProcessor {
	return &RecordProcessor{source: source, vectors: vectors, embed: embed, log: log}
}

// SyncRecord fetches one catalog row, canonicalizes it, embeds it and
// upserts its vector. A row that is no longer active is removed from
// the index instead, so a stale sync job converges to the right state.
func (p *RecordProcessor) SyncRecord(ctx context.Context, provider, externalID string) error {
	product, err := p.source.GetByExternalID(ctx, provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to load product %s:%s: %w", provider, externalID, err)
	}

	if !product.IsActive() {
		return p.DeleteRecord(ctx, provider, externalID)
	}

	text := CanonicalText(product)
	vector, err := p.embed.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed product %s:%s: %w", provider, externalID, err)
	}

	record := repository.VectorRecord{
		ID:      DeriveVectorKey(provider, externalID),
		Vector:  vector,
		Payload: payloadOf(product),
	}
	if _, err := p.vectors.UpsertBatch(ctx, []repository.VectorRecord{record}); err != nil {
		return fmt.Errorf("failed to upsert vector for %s:%s: %w", provider, externalID, err)
	}

	if err := p.source.MarkConverted(ctx, provider, []string{externalID}); err != nil {
		return fmt.Errorf("failed to mark %s:%s converted: %w", provider, externalID, err)
	}
	return nil
}

// DeleteRecord removes one record's vector from the index.
func (p *RecordProcessor) DeleteRecord(ctx context.Context, provider, externalID string) error {
	pointID := DeriveVectorKey(provider, externalID)
	if err := p.vectors.DeleteBatch(ctx, []string{pointID}); err != nil {
		return fmt.Errorf("failed to delete vector for %s:%s: %w", provider, externalID, err)
	}
	return nil
}

func payloadOf(p *domain.Product) repository.ProductPayload {
	return repository.ProductPayload{
		Provider:   p.Provider,
		ExternalID: p.ExternalID,
		Title:      p.Title,
		Brand:      p.Brand,
		Price:      p.Price,
		Year:       p.Year,
		Odometer:   p.Odometer,
		Status:     string(p.Status),
		UpdatedAt:  domain.SourceKeyOf(p).UpdatedAt,
	}
}
