package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/typehype/rag-backend/pkg/fn"
)

const (
	// VectorSize is the dimensionality produced by the embedding model.
	VectorSize = 1024
	// BytesPerChunk estimates on-disk cost of one stored point: a 1024-dim
	// float32 vector plus payload overhead.
	BytesPerChunk = 4*1024 + 1000
	// StorageLimitMB is the per-user storage quota reported by Stats.
	StorageLimitMB = 500
)

// sourceField is the payload field carrying the originating document id.
// Every search, upsert, and delete assumes a keyword index exists on it.
const sourceField = "source"

// CollectionFor returns the name of a user's isolated collection.
func CollectionFor(username string) string {
	return "rag_" + strings.ToLower(username)
}

// pointsAPI is the subset of the Qdrant points service the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of the Qdrant collections service the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations. Collections are
// per user, so every method takes the collection name explicitly.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	poll        fn.PollOpts
	logger      *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, logger *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), logger)
	vs.conn = conn
	return vs, nil
}

// NewWithClients creates a VectorStore from pre-built service clients.
// Used by tests to substitute fakes.
func NewWithClients(points pointsAPI, collections collectionsAPI, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{
		points:      points,
		collections: collections,
		poll:        fn.PollOpts{Interval: indexPollInterval, MaxAttempts: indexPollAttempts},
		logger:      logger,
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// CollectionExists reports whether the named collection is present.
func (v *VectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection with the fixed vector schema if it
// doesn't exist yet.
func (v *VectorStore) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := v.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	v.logger.Info("creating collection", "collection", collection)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     VectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection and everything in it.
func (v *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", collection, err)
	}
	return nil
}

// Upsert stores embedding records into the collection.
func (v *VectorStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			switch tv := val.(type) {
			case string:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
			case int:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
			case int64:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
			case float64:
				payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
			case bool:
				payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
			default:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
			}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(records), collection, err)
	}
	return nil
}

// DeleteBySource removes all points whose source payload matches exactly.
// A missing collection is a no-op; everything else propagates, since the
// caller's bookkeeping record is removed regardless of our outcome.
func (v *VectorStore) DeleteBySource(ctx context.Context, collection, source string) error {
	exists, err := v.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		v.logger.Info("no collection, nothing to delete", "collection", collection)
		return nil
	}

	if err := v.EnsureSourceIndex(ctx, collection); err != nil {
		return err
	}

	wait := true
	_, err = v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(sourceField, source),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete source %q from %s: %w", source, collection, err)
	}
	v.logger.Info("deleted document points", "collection", collection, "source", source)
	return nil
}

// Search performs k-NN similarity search, returning payload but not vectors.
func (v *VectorStore) Search(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		for k, val := range r.GetPayload() {
			switch k {
			case "text":
				sr.Text = val.GetStringValue()
			case sourceField:
				sr.Source = val.GetStringValue()
			case "chunk_index":
				sr.ChunkIndex = int(val.GetIntegerValue())
			}
		}
		results[i] = sr
	}
	return results, nil
}

// Stats returns an advisory storage readout for the collection. Read failures
// degrade to a zeroed readout with the full quota available.
func (v *VectorStore) Stats(ctx context.Context, collection string) CollectionStats {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		v.logger.Warn("stats read failed", "collection", collection, "err", err)
		return CollectionStats{AvailableMB: StorageLimitMB, LimitMB: StorageLimitMB}
	}

	total := info.GetResult().GetPointsCount()
	used := float64(total*BytesPerChunk) / (1024 * 1024)
	avail := StorageLimitMB - used
	if avail < 0 {
		avail = 0
	}
	return CollectionStats{
		TotalChunks: total,
		UsedMB:      used,
		AvailableMB: avail,
		LimitMB:     StorageLimitMB,
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
