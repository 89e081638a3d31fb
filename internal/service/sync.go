package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/repository"
)

// PipelineState is the lifecycle state of a sync run.
type PipelineState string

const (
	StateIdle       PipelineState = "idle"
	StateResolving  PipelineState = "resolving"
	StateProcessing PipelineState = "processing_batches"
	StateCompleted  PipelineState = "completed"
	StateFailed     PipelineState = "failed"
)

// Progress is a point-in-time view of a running sync.
type Progress struct {
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Errors    int           `json:"errors"`
	Elapsed   time.Duration `json:"elapsed"`
	ETA       time.Duration `json:"eta"`
}

// ProgressFunc receives progress updates during a run.
type ProgressFunc func(Progress)

// SyncOptions controls a single run.
type SyncOptions struct {
	BatchSize       int
	DryRun          bool
	Resume          bool
	InterBatchDelay time.Duration
	ProgressEvery   int // emit progress every N batches, 0 means every batch
	OnProgress      ProgressFunc
}

// SyncReport summarizes a finished run.
type SyncReport struct {
	SessionID      string        `json:"session_id"`
	PlannedUpserts int           `json:"planned_upserts"`
	PlannedDeletes int           `json:"planned_deletes"`
	Processed      int           `json:"processed"`
	Success        int           `json:"success"`
	Errors         int           `json:"errors"`
	Deleted        int           `json:"deleted"`
	DryRun         bool          `json:"dry_run"`
	Stopped        bool          `json:"stopped"`
	Duration       time.Duration `json:"duration"`
}

// SyncPipeline drives a full catalog-to-index synchronization run:
// resolve the change set, process upserts in sequential batches with
// per-record failure isolation, apply deletes, and keep a durable
// checkpoint after every batch so an interrupted run can resume.
type SyncPipeline struct {
	source      SourceStore
	vectors     VectorStore
	embed       Embedder
	checkpoints Checkpoints
	ledger      FailureLedger
	log         *logger.Logger

	mu       sync.Mutex
	state    PipelineState
	progress Progress
	stopped  atomic.Bool
}

// NewSyncPipeline wires the pipeline's collaborators.
func NewSyncPipeline(source SourceStore, vectors VectorStore, embed Embedder, checkpoints Checkpoints, ledger FailureLedger, log *logger.Logger) *SyncPipeline {
	return &SyncPipeline{
		source:      source,
		vectors:     vectors,
		embed:       embed,
		checkpoints: checkpoints,
		ledger:      ledger,
		log:         log,
		state:       StateIdle,
	}
}

// State returns the pipeline's current lifecycle state.
func (p *SyncPipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current state and progress for status reporting.
func (p *SyncPipeline) Snapshot() (PipelineState, Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.progress
}

// Stop requests a cooperative stop. The in-flight batch finishes, the
// checkpoint is saved, and Run returns with Stopped set.
func (p *SyncPipeline) Stop() {
	p.stopped.Store(true)
}

func (p *SyncPipeline) setState(s PipelineState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *SyncPipeline) setProgress(pr Progress) {
	p.mu.Lock()
	p.progress = pr
	p.mu.Unlock()
}

// Run executes one synchronization session.
func (p *SyncPipeline) Run(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	start := time.Now()
	p.stopped.Store(false)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	p.setState(StateResolving)

	// The change set is derived fresh on every run; only scalar
	// progress survives in the checkpoint.
	srcKeys, err := p.source.ActiveIdentities(ctx)
	if err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("failed to list source identities: %w", err)
	}
	indexedKeys, err := p.vectors.IndexedKeys(ctx)
	if err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("failed to list indexed keys: %w", err)
	}
	cs := ResolveChangeSet(srcKeys, indexedKeys)

	report := &SyncReport{
		PlannedUpserts: len(cs.ToUpsert),
		PlannedDeletes: len(cs.ToDelete),
		DryRun:         opts.DryRun,
	}

	if opts.DryRun {
		p.setState(StateCompleted)
		report.Duration = time.Since(start)
		p.log.WithFields(logger.Fields{
			"planned_upserts": report.PlannedUpserts,
			"planned_deletes": report.PlannedDeletes,
		}).Info("dry run complete, no changes applied")
		return report, nil
	}

	// Resume picks up scalar progress from a non-terminal checkpoint;
	// anything else starts a fresh session.
	state, startBatch, err := p.openSession(opts, batchSize, len(cs.ToUpsert))
	if err != nil {
		p.setState(StateFailed)
		return nil, err
	}
	report.SessionID = state.SessionID
	batchSize = state.BatchSize
	preProcessed := state.ProcessedCount

	if cs.Empty() {
		if err := p.checkpoints.MarkCompleted(ctx, state); err != nil {
			p.log.WithError(err).Warn("failed to finalize checkpoint")
		}
		p.setState(StateCompleted)
		report.Duration = time.Since(start)
		p.log.Info("nothing to sync, source and index converged")
		return report, nil
	}

	state.Status = domain.CheckpointRunning
	if err := p.checkpoints.Save(state); err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	p.setState(StateProcessing)

	totalBatches := (len(cs.ToUpsert) + batchSize - 1) / batchSize
	for batchIdx := startBatch; batchIdx < totalBatches; batchIdx++ {
		if p.stopped.Load() || ctx.Err() != nil {
			report.Stopped = true
			break
		}

		lo := batchIdx * batchSize
		hi := lo + batchSize
		if hi > len(cs.ToUpsert) {
			hi = len(cs.ToUpsert)
		}
		keys := cs.ToUpsert[lo:hi]

		success, failures, batchErr := p.processBatch(ctx, state.SessionID, batchIdx, keys)
		if batchErr != nil {
			// Infrastructure loss, not per-record trouble: keep the
			// checkpoint at the last durable batch so a resume run
			// redoes this one, and surface the failed session.
			if err := p.checkpoints.MarkFailed(state); err != nil {
				p.log.WithError(err).Warn("failed to mark checkpoint failed")
			}
			p.setState(StateFailed)
			p.fillReport(report, state, start)
			return report, batchErr
		}

		state.CurrentBatch = batchIdx + 1
		state.ProcessedCount += len(keys)
		state.SuccessCount += success
		state.ErrorCount += failures
		if len(keys) > 0 {
			state.LastProcessedID = keys[len(keys)-1].Identity()
		}
		// Batch N+1 must not start before batch N's checkpoint is
		// durable; that is what makes resume safe.
		if err := p.checkpoints.Save(state); err != nil {
			p.setState(StateFailed)
			p.fillReport(report, state, start)
			return report, fmt.Errorf("failed to save checkpoint: %w", err)
		}

		pr := Progress{
			Processed: state.ProcessedCount,
			Total:     state.TotalItems,
			Success:   state.SuccessCount,
			Errors:    state.ErrorCount,
			Elapsed:   time.Since(start),
		}
		if thisRun := state.ProcessedCount - preProcessed; thisRun > 0 && state.TotalItems > state.ProcessedCount {
			perItem := pr.Elapsed / time.Duration(thisRun)
			pr.ETA = perItem * time.Duration(state.TotalItems-state.ProcessedCount)
		}
		p.setProgress(pr)

		every := opts.ProgressEvery
		if every <= 0 {
			every = 1
		}
		if opts.OnProgress != nil && (batchIdx+1)%every == 0 {
			opts.OnProgress(pr)
		}

		if opts.InterBatchDelay > 0 && batchIdx+1 < totalBatches {
			if err := sleepCtx(ctx, opts.InterBatchDelay); err != nil {
				report.Stopped = true
				break
			}
		}
	}

	if !report.Stopped {
		deleted := p.processDeletes(ctx, state.SessionID, cs.ToDelete, batchSize)
		report.Deleted = deleted
	}

	p.fillReport(report, state, start)

	if report.Stopped {
		if err := p.checkpoints.Save(state); err != nil {
			p.log.WithError(err).Warn("failed to save checkpoint on stop")
		}
		p.setState(StateIdle)
		p.log.WithField("session_id", state.SessionID).Info("sync stopped, checkpoint saved for resume")
		return report, nil
	}

	if err := p.checkpoints.MarkCompleted(ctx, state); err != nil {
		p.log.WithError(err).Warn("failed to finalize checkpoint")
	}
	p.setState(StateCompleted)

	p.log.WithFields(logger.Fields{
		"session_id": state.SessionID,
		"processed":  report.Processed,
		"success":    report.Success,
		"errors":     report.Errors,
		"deleted":    report.Deleted,
		"duration":   report.Duration.String(),
	}).Info("sync completed")

	return report, nil
}

// openSession loads or creates the checkpoint for this run.
func (p *SyncPipeline) openSession(opts SyncOptions, batchSize, totalItems int) (*domain.CheckpointState, int, error) {
	if opts.Resume {
		prev, err := p.checkpoints.Load()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if prev.Resumable() {
			// Keep the previous batch size so batch boundaries line up
			// with the saved cursor.
			if prev.BatchSize <= 0 {
				prev.BatchSize = batchSize
			} else if prev.BatchSize != batchSize {
				p.log.WithFields(logger.Fields{
					"requested": batchSize,
					"resumed":   prev.BatchSize,
				}).Warn("resume overrides batch size from checkpoint")
			}
			prev.TotalItems = totalItems
			prev.TotalBatches = (totalItems + prev.BatchSize - 1) / prev.BatchSize
			prev.Status = domain.CheckpointRunning
			prev.FailedAt = nil
			return prev, prev.CurrentBatch, nil
		}
	}

	now := time.Now().UTC()
	state := &domain.CheckpointState{
		SessionID:    uuid.New().String(),
		StartedAt:    now,
		TotalItems:   totalItems,
		BatchSize:    batchSize,
		TotalBatches: (totalItems + batchSize - 1) / batchSize,
		Status:       domain.CheckpointInitialized,
	}
	return state, 0, nil
}

// processBatch runs one upsert batch with per-record failure
// isolation. Per-record trouble lands in the ledger and is tallied;
// a non-nil error means the source store itself is unreachable and
// the run must fail instead of burning through the change set.
func (p *SyncPipeline) processBatch(ctx context.Context, sessionID string, batchIdx int, keys []domain.SourceKey) (success, failures int, err error) {
	byProvider := make(map[string][]string)
	for _, k := range keys {
		byProvider[k.Provider] = append(byProvider[k.Provider], k.ExternalID)
	}

	products := make(map[string]*domain.Product, len(keys))
	loadErrs := make(map[string]error)
	for provider, ids := range byProvider {
		rows, loadErr := p.source.GetByExternalIDs(ctx, provider, ids)
		if loadErr != nil {
			loadErrs[provider] = loadErr
			continue
		}
		for i := range rows {
			row := rows[i]
			products[row.Provider+":"+row.ExternalID] = &row
		}
	}

	// Every provider group failing to load means the source store is
	// down. Nothing in this batch was attempted, so nothing is
	// ledgered; the un-advanced checkpoint makes a resume redo it.
	if len(loadErrs) > 0 && len(loadErrs) == len(byProvider) {
		for _, loadErr := range loadErrs {
			return 0, 0, fmt.Errorf("failed to load batch from source store: %w", loadErr)
		}
	}

	for provider, loadErr := range loadErrs {
		// One provider group failed while others loaded; fail each
		// record individually so retries stay per-record.
		for _, id := range byProvider[provider] {
			p.recordFailure(ctx, domain.OperationSync, provider, id, loadErr, sessionID, batchIdx, "load")
			failures++
		}
	}

	type item struct {
		key     domain.SourceKey
		product *domain.Product
		text    string
	}
	var items []item
	for _, k := range keys {
		product, ok := products[k.Identity()]
		if !ok {
			if _, failed := loadErrs[k.Provider]; !failed {
				p.recordFailure(ctx, domain.OperationSync, k.Provider, k.ExternalID,
					fmt.Errorf("invalid record: %s not found in source store", k.Identity()),
					sessionID, batchIdx, "load")
				failures++
			}
			continue
		}
		if !product.IsActive() {
			// Went inactive between resolve and fetch; the next run
			// will delete it.
			continue
		}
		items = append(items, item{key: k, product: product, text: CanonicalText(product)})
	}
	if len(items) == 0 {
		return success, failures, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.text
	}
	vectors, embedErr := p.embed.EmbedBatch(ctx, texts)

	var records []repository.VectorRecord
	recordKeys := make(map[string]domain.SourceKey)
	for i, it := range items {
		if i >= len(vectors) || vectors[i] == nil {
			cause := embedErr
			if cause == nil {
				cause = fmt.Errorf("no embedding returned")
			}
			p.recordFailure(ctx, domain.OperationEmbedding, it.key.Provider, it.key.ExternalID, cause, sessionID, batchIdx, "embed")
			failures++
			continue
		}
		pointID := DeriveVectorKey(it.key.Provider, it.key.ExternalID)
		records = append(records, repository.VectorRecord{
			ID:      pointID,
			Vector:  vectors[i],
			Payload: payloadOf(it.product),
		})
		recordKeys[pointID] = it.key
	}
	if len(records) == 0 {
		return success, failures, nil
	}

	failedIDs, upsertErr := p.vectors.UpsertBatch(ctx, records)
	failedSet := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failedSet[id] = struct{}{}
		if key, ok := recordKeys[id]; ok {
			cause := upsertErr
			if cause == nil {
				cause = fmt.Errorf("upsert chunk failed")
			}
			p.recordFailure(ctx, domain.OperationSync, key.Provider, key.ExternalID, cause, sessionID, batchIdx, "upsert")
			failures++
		}
	}

	convertedByProvider := make(map[string][]string)
	for _, rec := range records {
		if _, failed := failedSet[rec.ID]; failed {
			continue
		}
		key := recordKeys[rec.ID]
		convertedByProvider[key.Provider] = append(convertedByProvider[key.Provider], key.ExternalID)
	}
	for provider, ids := range convertedByProvider {
		if err := p.source.MarkConverted(ctx, provider, ids); err != nil {
			for _, id := range ids {
				p.recordFailure(ctx, domain.OperationSync, provider, id, err, sessionID, batchIdx, "mark_converted")
				failures++
			}
			continue
		}
		success += len(ids)
	}

	return success, failures, nil
}

// processDeletes removes vectors whose source records are gone,
// chunked like upserts. Delete failures are ledgered per key.
func (p *SyncPipeline) processDeletes(ctx context.Context, sessionID string, keys []domain.SourceKey, batchSize int) int {
	deleted := 0
	for lo := 0; lo < len(keys); lo += batchSize {
		hi := lo + batchSize
		if hi > len(keys) {
			hi = len(keys)
		}
		chunk := keys[lo:hi]

		pointIDs := make([]string, len(chunk))
		for i, k := range chunk {
			pointIDs[i] = DeriveVectorKey(k.Provider, k.ExternalID)
		}
		if err := p.vectors.DeleteBatch(ctx, pointIDs); err != nil {
			for _, k := range chunk {
				p.recordFailure(ctx, domain.OperationDelete, k.Provider, k.ExternalID, err, sessionID, -1, "delete")
			}
			continue
		}
		deleted += len(chunk)
	}
	return deleted
}

func (p *SyncPipeline) recordFailure(ctx context.Context, op domain.OperationType, provider, externalID string, cause error, sessionID string, batch int, step string) {
	fctx := repository.FailureContext{
		SessionID: sessionID,
		Step:      step,
		Batch:     batch,
	}
	if _, err := p.ledger.Record(ctx, op, provider, externalID, cause, fctx); err != nil {
		p.log.WithError(err).WithFields(logger.Fields{
			"provider":    provider,
			"external_id": externalID,
			"step":        step,
		}).Error("failed to record failure")
	}
}

func (p *SyncPipeline) fillReport(report *SyncReport, state *domain.CheckpointState, start time.Time) {
	report.Processed = state.ProcessedCount
	report.Success = state.SuccessCount
	report.Errors = state.ErrorCount
	report.Duration = time.Since(start)
}
