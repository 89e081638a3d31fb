package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jaehyuksim/catsync/internal/domain"
)

const (
	defaultVectorDimension    = 3072
	defaultUpsertBatchSize    = 100
	defaultMaxParallelBatches = 3
	scrollPageSize            = 1000
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host               string
	Port               int
	Collection         string
	APIKey             string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS             bool   // Explicitly enable TLS without API Key
	VectorDimension    int
	UpsertBatchSize    int
	MaxParallelBatches int
	OperationTimeout   time.Duration // per-call deadline, 0 disables
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector operations with Qdrant
type QdrantRepository struct {
	conn               *grpc.ClientConn
	pointsClient       pb.PointsClient
	collectClient      pb.CollectionsClient
	collectionName     string
	vectorDimension    int
	upsertBatchSize    int
	maxParallelBatches int
	operationTimeout   time.Duration
}

// NewQdrantRepository creates a new QdrantRepository
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}
	upsertBatchSize := cfg.UpsertBatchSize
	if upsertBatchSize <= 0 {
		upsertBatchSize = defaultUpsertBatchSize
	}
	maxParallel := cfg.MaxParallelBatches
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelBatches
	}

	// Build gRPC dial options
	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		// Use TLS with system root certificates (TLS 1.3 minimum for Qdrant Cloud)
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.WithTransportCredentials(creds))

		// Add API Key authentication if provided (using unary interceptor)
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		// Local mode: no TLS, no authentication
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:               conn,
		pointsClient:       pb.NewPointsClient(conn),
		collectClient:      pb.NewCollectionsClient(conn),
		collectionName:     cfg.Collection,
		vectorDimension:    vectorDimension,
		upsertBatchSize:    upsertBatchSize,
		maxParallelBatches: maxParallel,
		operationTimeout:   cfg.OperationTimeout,
	}, nil
}

// bound applies the configured per-call deadline. Every outbound gRPC
// call goes through it so a hung Qdrant node cannot stall the pipeline
// indefinitely.
func (r *QdrantRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.operationTimeout > 0 {
		return context.WithTimeout(ctx, r.operationTimeout)
	}
	return ctx, func() {}
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
// An existing collection with a mismatched vector size is an error,
// not something to silently overwrite.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil // Collection exists
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		// Another instance can win the Get/Create race; the collection
		// existing is what EnsureCollection is for.
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// DropAndRecreate deletes the collection and creates it fresh. Used by
// the -recreate-collection flag after a dimension change.
func (r *QdrantRepository) DropAndRecreate(ctx context.Context) error {
	dctx, cancel := r.bound(ctx)
	_, err := r.collectClient.Delete(dctx, &pb.DeleteCollection{
		CollectionName: r.collectionName,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return r.EnsureCollection(ctx)
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalUint32(v uint32) *uint32 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	config := info.GetConfig()
	if config == nil {
		return 0, false
	}

	params := config.GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

// ProductPayload represents the payload stored with each vector
type ProductPayload struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Brand      string `json:"brand"`
	Price      int64  `json:"price"`
	Year       int    `json:"year"`
	Odometer   int64  `json:"odometer"`
	Status     string `json:"status"`
	UpdatedAt  int64  `json:"updated_at"` // unix seconds
}

// VectorRecord pairs a point ID with its vector and payload.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload ProductPayload
}

func payloadToValues(p ProductPayload) map[string]*pb.Value {
	return map[string]*pb.Value{
		"provider":    {Kind: &pb.Value_StringValue{StringValue: p.Provider}},
		"external_id": {Kind: &pb.Value_StringValue{StringValue: p.ExternalID}},
		"title":       {Kind: &pb.Value_StringValue{StringValue: p.Title}},
		"brand":       {Kind: &pb.Value_StringValue{StringValue: p.Brand}},
		"price":       {Kind: &pb.Value_IntegerValue{IntegerValue: p.Price}},
		"year":        {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Year)}},
		"odometer":    {Kind: &pb.Value_IntegerValue{IntegerValue: p.Odometer}},
		"status":      {Kind: &pb.Value_StringValue{StringValue: p.Status}},
		"updated_at":  {Kind: &pb.Value_IntegerValue{IntegerValue: p.UpdatedAt}},
	}
}

func parsePayload(payload map[string]*pb.Value) *ProductPayload {
	if payload == nil {
		return nil
	}

	p := &ProductPayload{}
	if v, ok := payload["provider"]; ok {
		p.Provider = v.GetStringValue()
	}
	if v, ok := payload["external_id"]; ok {
		p.ExternalID = v.GetStringValue()
	}
	if v, ok := payload["title"]; ok {
		p.Title = v.GetStringValue()
	}
	if v, ok := payload["brand"]; ok {
		p.Brand = v.GetStringValue()
	}
	if v, ok := payload["price"]; ok {
		p.Price = v.GetIntegerValue()
	}
	if v, ok := payload["year"]; ok {
		p.Year = int(v.GetIntegerValue())
	}
	if v, ok := payload["odometer"]; ok {
		p.Odometer = v.GetIntegerValue()
	}
	if v, ok := payload["status"]; ok {
		p.Status = v.GetStringValue()
	}
	if v, ok := payload["updated_at"]; ok {
		p.UpdatedAt = v.GetIntegerValue()
	}

	return p
}

// Upsert inserts or updates a single vector with payload
func (r *QdrantRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload ProductPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uid.String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: vector,
					},
				},
			},
			Payload: payloadToValues(payload),
		},
	}

	uctx, cancel := r.bound(ctx)
	defer cancel()
	_, err = r.pointsClient.Upsert(uctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// UpsertBatch writes records in chunks of the configured batch size,
// running up to maxParallelBatches chunks concurrently. A failed chunk
// does not abort the others; the IDs of every point that was not
// written are returned so callers can record them individually.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - records: point records to write.
// Returns:
//   - []string: point IDs belonging to chunks that failed.
//   - error: non-nil if any chunk failed.
func (r *QdrantRepository) UpsertBatch(ctx context.Context, records []VectorRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, rec := range records {
		uid, err := uuid.Parse(rec.ID)
		if err != nil {
			return []string{rec.ID}, fmt.Errorf("invalid point ID %q: %w", rec.ID, err)
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Vector},
				},
			},
			Payload: payloadToValues(rec.Payload),
		})
	}

	sem := semaphore.NewWeighted(int64(r.maxParallelBatches))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		failedIDs []string
		firstErr  error
	)

	for start := 0; start < len(points); start += r.upsertBatchSize {
		end := start + r.upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			for _, p := range chunk {
				failedIDs = append(failedIDs, p.Id.GetUuid())
			}
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(chunk []*pb.PointStruct) {
			defer wg.Done()
			defer sem.Release(1)

			cctx, cancel := r.bound(ctx)
			defer cancel()
			_, err := r.pointsClient.Upsert(cctx, &pb.UpsertPoints{
				CollectionName: r.collectionName,
				Points:         chunk,
			})
			if err != nil {
				mu.Lock()
				for _, p := range chunk {
					failedIDs = append(failedIDs, p.Id.GetUuid())
				}
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(chunk)
	}

	wg.Wait()

	if firstErr != nil {
		return failedIDs, fmt.Errorf("failed to upsert %d points: %w", len(failedIDs), firstErr)
	}
	return nil, nil
}

// Delete deletes a point by ID
func (r *QdrantRepository) Delete(ctx context.Context, pointID string) error {
	return r.DeleteBatch(ctx, []string{pointID})
}

// DeleteBatch hard-deletes points by ID. Deleting an absent point is a
// no-op on the Qdrant side, so DeleteBatch is idempotent.
func (r *QdrantRepository) DeleteBatch(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, 0, len(pointIDs))
	for _, pointID := range pointIDs {
		uid, err := uuid.Parse(pointID)
		if err != nil {
			return fmt.Errorf("invalid point ID %q: %w", pointID, err)
		}
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}})
	}

	dctx, cancel := r.bound(ctx)
	defer cancel()
	_, err := r.pointsClient.Delete(dctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}

	return nil
}

// IndexedPoint is a stored point's identity as read back from the index.
type IndexedPoint struct {
	ID      string
	Payload *ProductPayload
}

// GetByIDs retrieves points with payloads by ID.
func (r *QdrantRepository) GetByIDs(ctx context.Context, pointIDs []string) ([]IndexedPoint, error) {
	if len(pointIDs) == 0 {
		return []IndexedPoint{}, nil
	}

	ids := make([]*pb.PointId, 0, len(pointIDs))
	for _, pointID := range pointIDs {
		uid, err := uuid.Parse(pointID)
		if err != nil {
			return nil, fmt.Errorf("invalid point ID %q: %w", pointID, err)
		}
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}})
	}

	gctx, cancel := r.bound(ctx)
	defer cancel()
	resp, err := r.pointsClient.Get(gctx, &pb.GetPoints{
		CollectionName: r.collectionName,
		Ids:            ids,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}

	points := make([]IndexedPoint, len(resp.Result))
	for i, p := range resp.Result {
		points[i] = IndexedPoint{
			ID:      p.Id.GetUuid(),
			Payload: parsePayload(p.Payload),
		}
	}
	return points, nil
}

// IndexedKeys scrolls the full collection and returns the comparison
// key of every stored point. Only the identity fields are fetched;
// vectors stay on the server.
func (r *QdrantRepository) IndexedKeys(ctx context.Context) ([]domain.SourceKey, error) {
	var keys []domain.SourceKey
	var offset *pb.PointId

	for {
		// Each page gets its own deadline; a big collection is many
		// bounded calls, not one unbounded scroll.
		sctx, cancel := r.bound(ctx)
		resp, err := r.pointsClient.Scroll(sctx, &pb.ScrollPoints{
			CollectionName: r.collectionName,
			Limit:          optionalUint32(scrollPageSize),
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{
						Fields: []string{"provider", "external_id", "updated_at"},
					},
				},
			},
			WithVectors: &pb.WithVectorsSelector{
				SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false},
			},
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to scroll collection: %w", err)
		}

		for _, point := range resp.Result {
			payload := parsePayload(point.Payload)
			if payload == nil || payload.ExternalID == "" {
				continue
			}
			keys = append(keys, domain.SourceKey{
				Provider:   payload.Provider,
				ExternalID: payload.ExternalID,
				UpdatedAt:  payload.UpdatedAt,
			})
		}

		offset = resp.NextPageOffset
		if offset == nil {
			break
		}
	}

	return keys, nil
}

// Count returns the exact number of points in the collection.
func (r *QdrantRepository) Count(ctx context.Context) (uint64, error) {
	cctx, cancel := r.bound(ctx)
	defer cancel()
	resp, err := r.pointsClient.Count(cctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}
