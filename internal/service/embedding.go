package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jaehyuksim/catsync/internal/logger"
)

// EmbeddingService generates embeddings through an OpenAI-compatible
// /embeddings endpoint, with client-side rate limiting and retry.
type EmbeddingService struct {
	client     *resty.Client
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *RateLimiter
	log        *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// EmbeddingOptions holds configuration for the embedding service
type EmbeddingOptions struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(opts *EmbeddingOptions, limiter *RateLimiter, log *logger.Logger) *EmbeddingService {
	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetHeader("Authorization", "Bearer "+opts.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}

	return &EmbeddingService{
		client:     client,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		limiter:    limiter,
		log:        log,
		sleep:      sleepCtx,
	}
}

// Dimensions returns the configured embedding width.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// OpenAI-compatible request/response structures
type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates an embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts, splitting the input into
// API-sized chunks. A chunk that exhausts its retries leaves nil
// entries at its positions and the last chunk error is returned, so
// the caller can fail those records individually while keeping the
// successful ones. The result always has len(texts) entries aligned
// with the input.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var lastErr error

	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		vectors, err := s.embedChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return embeddings, ctx.Err()
			}
			lastErr = err
			if s.log != nil {
				s.log.WithError(err).WithField("chunk_size", len(chunk)).
					Warn("embedding chunk failed after retries")
			}
			continue
		}
		copy(embeddings[start:end], vectors)
	}

	return embeddings, lastErr
}

// embedChunk calls the API for one chunk with rate limiting and
// exponential backoff.
func (s *EmbeddingService) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	estimated := estimateTokens(texts)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay << uint(attempt-1)
			if delay > s.maxDelay || delay <= 0 {
				delay = s.maxDelay
			}
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, estimated); err != nil {
				return nil, err
			}
		}

		vectors, usage, err := s.callAPI(ctx, texts)
		if err == nil {
			if s.limiter != nil {
				tokens := usage
				if tokens == 0 {
					tokens = estimated
				}
				s.limiter.Record(tokens)
			}
			return vectors, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if s.limiter != nil {
			// A failed call still counted against the provider's window.
			s.limiter.Record(0)
		}
	}

	return nil, fmt.Errorf("embedding failed after %d retries: %w", s.maxRetries, lastErr)
}

// apiError wraps an HTTP failure so retry logic can inspect the status.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("embedding API error (status %d): %s", e.status, e.message)
	}
	return fmt.Sprintf("embedding API error: status %d", e.status)
}

// isRetryable treats rate limits, server errors and transport failures
// as transient. Other 4xx statuses mean the request itself is wrong
// and retrying cannot help.
func isRetryable(err error) bool {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr.status == 429 || apiErr.status >= 500
	}
	// Transport-level errors (connection refused, timeout) are retryable.
	return true
}

func (s *EmbeddingService) callAPI(ctx context.Context, texts []string) ([][]float32, int, error) {
	req := embeddingRequest{
		Model:      s.model,
		Input:      texts,
		Dimensions: s.dimensions,
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/embeddings")

	if err != nil {
		return nil, 0, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		return nil, 0, &apiError{status: httpResp.StatusCode(), message: resp.Error.Message}
	}

	if len(resp.Data) != len(texts) {
		return nil, 0, &apiError{
			status:  200,
			message: fmt.Sprintf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts)),
		}
	}

	// Sort by index to ensure correct order
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}

	return vectors, resp.Usage.TotalTokens, nil
}

// estimateTokens approximates usage before the call; the window is
// corrected with actual usage afterwards.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t)/4 + 1
	}
	return total
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
