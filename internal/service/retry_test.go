package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/repository"
)

type fakeRetryLedger struct {
	eligible  []domain.FailedOperation
	outcomes  map[uint]bool // failureID -> success
	permanent []uint
}

func (l *fakeRetryLedger) RetryEligible(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	if limit < len(l.eligible) {
		return l.eligible[:limit], nil
	}
	return l.eligible, nil
}

func (l *fakeRetryLedger) RecordRetryOutcome(ctx context.Context, failureID uint, success bool, newErr error, strategy domain.RetryStrategy) error {
	if l.outcomes == nil {
		l.outcomes = make(map[uint]bool)
	}
	l.outcomes[failureID] = success
	return nil
}

func (l *fakeRetryLedger) MarkPermanentlyFailed(ctx context.Context, failureID uint, reason string) error {
	l.permanent = append(l.permanent, failureID)
	return nil
}

func newTestRetrier(src *fakeSource, vec *fakeVectors, emb *fakeEmbedder, ledger *fakeRetryLedger) *FailureRetrier {
	log := logger.New(&logger.Config{Level: "error", Format: "text"})
	proc := NewRecordProcessor(src, vec, emb, log)
	return NewFailureRetrier(ledger, proc, domain.RetryExponential, log)
}

func TestFailureRetrier_SuccessfulRetryResolves(t *testing.T) {
	src := newFakeSource(testProduct("bunjang", "7", "복구될 매물"))
	vec := newFakeVectors()
	ledger := &fakeRetryLedger{
		eligible: []domain.FailedOperation{
			{ID: 1, OperationType: domain.OperationSync, Provider: "bunjang", SubjectID: "7", RetryCount: 1, MaxRetries: 3},
		},
	}

	retrier := newTestRetrier(src, vec, &fakeEmbedder{}, ledger)

	report, err := retrier.Drain(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, ledger.outcomes[1], "success must be recorded")

	_, indexed := vec.points[DeriveVectorKey("bunjang", "7")]
	assert.True(t, indexed, "retried record must reach the index")
	assert.True(t, src.converted["bunjang:7"])
}

func TestFailureRetrier_DeleteRetry(t *testing.T) {
	src := newFakeSource()
	vec := newFakeVectors()
	pointID := DeriveVectorKey("bunjang", "9")
	vec.points[pointID] = repository.ProductPayload{Provider: "bunjang", ExternalID: "9"}

	ledger := &fakeRetryLedger{
		eligible: []domain.FailedOperation{
			{ID: 2, OperationType: domain.OperationDelete, Provider: "bunjang", SubjectID: "9", MaxRetries: 3},
		},
	}

	retrier := newTestRetrier(src, vec, &fakeEmbedder{}, ledger)

	report, err := retrier.Drain(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	_, stillThere := vec.points[pointID]
	assert.False(t, stillThere)
}

func TestFailureRetrier_FailedRetryCountsAndDeadLetters(t *testing.T) {
	// The subject row does not exist, so the retry fails again.
	src := newFakeSource()
	ledger := &fakeRetryLedger{
		eligible: []domain.FailedOperation{
			{ID: 3, OperationType: domain.OperationSync, Provider: "bunjang", SubjectID: "404", RetryCount: 2, MaxRetries: 3},
		},
	}

	retrier := newTestRetrier(src, newFakeVectors(), &fakeEmbedder{}, ledger)

	report, err := retrier.Drain(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.DeadLettered, "third failure exhausts a budget of 3")
	assert.False(t, ledger.outcomes[3])
}

func TestFailureRetrier_SkipsValidationFailures(t *testing.T) {
	ledger := &fakeRetryLedger{
		eligible: []domain.FailedOperation{
			{ID: 4, OperationType: domain.OperationSync, Provider: "bunjang", SubjectID: "x", Category: domain.ErrorCategoryValidation, MaxRetries: 3},
		},
	}

	retrier := newTestRetrier(newFakeSource(), newFakeVectors(), &fakeEmbedder{}, ledger)

	report, err := retrier.Drain(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Attempted, "validation failures need operator action, not retries")
	assert.Empty(t, ledger.outcomes)
}

func TestFailureRetrier_EmptyLedger(t *testing.T) {
	retrier := newTestRetrier(newFakeSource(), newFakeVectors(), &fakeEmbedder{}, &fakeRetryLedger{})

	report, err := retrier.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestFailureRetrier_PropagatesLedgerError(t *testing.T) {
	errLedger := &erroringLedger{err: errors.New("database unavailable")}
	retrier := NewFailureRetrier(errLedger, nil, domain.RetryExponential,
		logger.New(&logger.Config{Level: "error", Format: "text"}))

	_, err := retrier.Drain(context.Background(), 10)
	require.Error(t, err)
}

type erroringLedger struct {
	fakeRetryLedger
	err error
}

func (l *erroringLedger) RetryEligible(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	return nil, l.err
}
