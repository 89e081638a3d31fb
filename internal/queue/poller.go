package queue

import (
	"context"
	"time"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
)

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job domain.Job) error

// Poller drains the queue on a fixed interval and dispatches each job
// to a handler. It drains whole batches back-to-back while jobs are
// available and only sleeps when the queue is empty.
type Poller struct {
	queue     *Queue
	handler   Handler
	interval  time.Duration
	batchSize int
	log       *logger.Logger
}

// NewPoller creates a poller over queue dispatching to handler.
func NewPoller(queue *Queue, handler Handler, interval time.Duration, batchSize int, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Poller{
		queue:     queue,
		handler:   handler,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run polls until the context is cancelled. The in-flight batch is
// finished before returning, so a graceful shutdown never drops a
// dequeued job.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithFields(logger.Fields{
		"interval":   p.interval.String(),
		"batch_size": p.batchSize,
	}).Info("queue poller started")

	for {
		p.drainOnce(ctx)

		select {
		case <-ctx.Done():
			p.log.Info("queue poller stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drainOnce processes batches until the queue is empty or the context
// is cancelled.
func (p *Poller) drainOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobs, parseErrs := p.queue.DequeueBatch(ctx, p.batchSize)
		for _, err := range parseErrs {
			p.log.WithError(err).Warn("dropping malformed job")
		}
		if len(jobs) == 0 {
			return
		}

		for _, job := range jobs {
			jobCtx := logger.SetJobID(ctx, job.JobID())
			if err := p.handler(jobCtx, job); err != nil {
				provider, externalID := job.Subject()
				p.log.WithError(err).WithFields(logger.Fields{
					"job_id":      job.JobID(),
					"job_type":    job.Kind(),
					"provider":    provider,
					"external_id": externalID,
				}).Error("job failed")
			}
		}

		if len(jobs) < p.batchSize {
			return
		}
	}
}
