package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*EmbeddingService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := NewEmbeddingService(&EmbeddingOptions{
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-large",
		APIKey:     "test-key",
		Dimensions: 4,
		BatchSize:  2,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}, nil, nil)
	// Tests must not sleep for real.
	svc.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return svc, srv
}

func embeddingHandler(t *testing.T, fail *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		// resty only unmarshals SetResult/SetError bodies when the
		// response declares a JSON content type.
		w.Header().Set("Content-Type", "application/json")

		if fail != nil && *fail > 0 {
			*fail--
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "rate limit exceeded"},
			})
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"embedding": []float32{1, 2, 3, float32(i)},
				"index":     i,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":  data,
			"usage": map[string]any{"prompt_tokens": 10, "total_tokens": 10},
		})
	}
}

func TestEmbeddingService_Batch(t *testing.T) {
	svc, _ := newTestEmbedder(t, embeddingHandler(t, nil))

	texts := []string{"하나", "둘", "셋"}
	vecs, err := svc.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.NotNilf(t, v, "vector %d missing", i)
		assert.Len(t, v, 4)
	}
}

func TestEmbeddingService_RetriesRateLimit(t *testing.T) {
	fail := 1 // first call 429s, second succeeds
	svc, _ := newTestEmbedder(t, embeddingHandler(t, &fail))

	vec, err := svc.Embed(context.Background(), "재시도")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 0, fail)
}

func TestEmbeddingService_ClientErrorIsFatal(t *testing.T) {
	calls := 0
	svc, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "input too long"},
		})
	})

	_, err := svc.Embed(context.Background(), "잘못된 입력")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input too long")
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

func TestEmbeddingService_ExhaustedChunkLeavesNils(t *testing.T) {
	calls := 0
	svc, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		// The chunk containing the poisoned text always 500s.
		for _, text := range req.Input {
			if text == "독약" {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":{"message":"backend exploded"}}`)
				return
			}
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	// Batch size 2: chunks are [a, 독약] and [b].
	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "독약", "b"})
	require.Error(t, err)
	require.Len(t, vecs, 3)
	assert.Nil(t, vecs[0], "texts sharing a failed chunk are not embedded")
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2], "later chunks proceed despite an exhausted one")
	assert.Greater(t, calls, 3, "failed chunk is retried before giving up")
}

func TestEmbeddingService_RecordsUsageInWindow(t *testing.T) {
	limiter := NewRateLimiter(100, 1000)
	srv := httptest.NewServer(embeddingHandler(t, nil))
	t.Cleanup(srv.Close)

	svc := NewEmbeddingService(&EmbeddingOptions{
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-large",
		APIKey:    "test-key",
		BatchSize: 10,
	}, limiter, nil)

	_, err := svc.EmbedBatch(context.Background(), []string{"사용량"})
	require.NoError(t, err)

	requests, tokens := limiter.WindowUsage()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 10, tokens, "window must hold actual billed usage")
}
