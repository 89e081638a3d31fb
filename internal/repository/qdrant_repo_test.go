package repository

import (
	"context"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeCollections stubs the two collection calls EnsureCollection makes.
// Unstubbed methods of the embedded interface panic if reached.
type fakeCollections struct {
	pb.CollectionsClient
	getResp     *pb.GetCollectionInfoResponse
	getErr      error
	createErr   error
	creates     int
	sawDeadline bool
}

func (f *fakeCollections) Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if _, ok := ctx.Deadline(); ok {
		f.sawDeadline = true
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getResp, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func testQdrantRepo(collections *fakeCollections) *QdrantRepository {
	return &QdrantRepository{
		collectClient:    collections,
		collectionName:   "products",
		vectorDimension:  4,
		operationTimeout: time.Minute,
	}
}

func collectionInfoWithSize(size uint64) *pb.GetCollectionInfoResponse {
	return &pb.GetCollectionInfoResponse{
		Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{
				Params: &pb.CollectionParams{
					VectorsConfig: &pb.VectorsConfig{
						Config: &pb.VectorsConfig_Params{
							Params: &pb.VectorParams{Size: size},
						},
					},
				},
			},
		},
	}
}

func TestEnsureCollection_CreatesWhenAbsent(t *testing.T) {
	f := &fakeCollections{getErr: status.Error(codes.NotFound, "collection not found")}
	r := testQdrantRepo(f)

	require.NoError(t, r.EnsureCollection(context.Background()))
	assert.Equal(t, 1, f.creates)
	assert.True(t, f.sawDeadline, "collection calls must carry a deadline")
}

func TestEnsureCollection_LostCreateRaceIsSuccess(t *testing.T) {
	// Another instance created the collection between Get and Create.
	f := &fakeCollections{
		getErr:    status.Error(codes.NotFound, "collection not found"),
		createErr: status.Error(codes.AlreadyExists, "collection already exists"),
	}
	r := testQdrantRepo(f)

	require.NoError(t, r.EnsureCollection(context.Background()))
	assert.Equal(t, 1, f.creates)
}

func TestEnsureCollection_CreateFailurePropagates(t *testing.T) {
	f := &fakeCollections{
		getErr:    status.Error(codes.NotFound, "collection not found"),
		createErr: status.Error(codes.Internal, "disk full"),
	}
	r := testQdrantRepo(f)

	err := r.EnsureCollection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create collection")
}

func TestEnsureCollection_ExistingCollectionIsNoop(t *testing.T) {
	f := &fakeCollections{getResp: collectionInfoWithSize(4)}
	r := testQdrantRepo(f)

	require.NoError(t, r.EnsureCollection(context.Background()))
	assert.Equal(t, 0, f.creates)
}

func TestEnsureCollection_DimensionMismatchIsError(t *testing.T) {
	f := &fakeCollections{getResp: collectionInfoWithSize(8)}
	r := testQdrantRepo(f)

	err := r.EnsureCollection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector size 8")
	assert.Equal(t, 0, f.creates, "a mismatched collection must not be overwritten")
}
