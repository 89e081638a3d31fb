package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jaehyuksim/catsync/internal/domain"
)

// Queue is a Redis list-backed job queue. The external ingester pushes
// job envelopes with LPUSH; the worker drains with RPOP so jobs come
// out in arrival order.
type Queue struct {
	client *redis.Client
	name   string
}

// Options holds Redis connection settings for the queue.
type Options struct {
	Addr     string
	Password string
	DB       int
	Name     string
}

// New creates a queue client. Connectivity is verified lazily; use
// Ping for an eager check at startup.
func New(opts *Options) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Queue{client: client, name: opts.Name}
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job onto the queue.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	data, err := domain.EncodeJob(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// DequeueBatch pops up to max jobs. Malformed payloads are dropped
// with the parse error returned alongside the valid jobs, so one bad
// message cannot wedge the queue.
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]domain.Job, []error) {
	var jobs []domain.Job
	var parseErrs []error

	for i := 0; i < max; i++ {
		data, err := q.client.RPop(ctx, q.name).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				parseErrs = append(parseErrs, fmt.Errorf("failed to pop job: %w", err))
			}
			break
		}

		job, err := domain.ParseJob(data)
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, parseErrs
}

// Length returns the number of pending jobs.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
