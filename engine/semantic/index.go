package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/typehype/rag-backend/pkg/fn"
)

// Qdrant creates payload indexes asynchronously: the create call is accepted
// before the index is queryable. Filtered search, upsert, and delete-by-filter
// all assume the source index exists, so provisioning polls collection info
// until the store confirms it, and refuses to report success otherwise.

const (
	indexPollInterval = 3 * time.Second
	indexPollAttempts = 10
)

// requiredIndexes maps payload fields to the schema type they must be
// indexed with before the collection is usable.
var requiredIndexes = map[string]pb.PayloadSchemaType{
	sourceField: pb.PayloadSchemaType_Keyword,
}

// ErrIndexUnconfirmed means the store never confirmed a requested payload
// index within the polling budget. Dependent reads and writes must not
// proceed past it.
var ErrIndexUnconfirmed = errors.New("semantic: payload index not confirmed")

// EnsureSourceIndex makes sure every required payload index exists with the
// required type. Idempotent: confirmed indexes are left alone. Newly created
// indexes are polled until the store reports them, and exceeding the polling
// budget is fatal.
func (v *VectorStore) EnsureSourceIndex(ctx context.Context, collection string) error {
	schema, err := v.payloadSchema(ctx, collection)
	if err != nil {
		return err
	}

	for field, want := range requiredIndexes {
		if got, ok := schema[field]; ok && got == want {
			continue
		}

		v.logger.Info("creating payload index", "collection", collection, "field", field)
		_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      fieldTypeFor(want),
		})
		if err != nil {
			return fmt.Errorf("semantic: create index on %s.%s: %w", collection, field, err)
		}

		err = fn.Poll(ctx, v.poll, func(ctx context.Context) (bool, error) {
			schema, err := v.payloadSchema(ctx, collection)
			if err != nil {
				return false, err
			}
			got, ok := schema[field]
			return ok && got == want, nil
		})
		if errors.Is(err, fn.ErrPollExhausted) {
			return fmt.Errorf("%w: %s.%s after %d attempts", ErrIndexUnconfirmed, collection, field, v.poll.MaxAttempts)
		}
		if err != nil {
			return err
		}
		v.logger.Info("payload index confirmed", "collection", collection, "field", field)
	}
	return nil
}

// payloadSchema reads the collection's current payload index schema.
func (v *VectorStore) payloadSchema(ctx context.Context, collection string) (map[string]pb.PayloadSchemaType, error) {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, fmt.Errorf("semantic: get collection %s: %w", collection, err)
	}
	schema := make(map[string]pb.PayloadSchemaType)
	for field, si := range info.GetResult().GetPayloadSchema() {
		schema[field] = si.GetDataType()
	}
	return schema, nil
}

func fieldTypeFor(schema pb.PayloadSchemaType) *pb.FieldType {
	switch schema {
	case pb.PayloadSchemaType_Keyword:
		return pb.FieldType_FieldTypeKeyword.Enum()
	case pb.PayloadSchemaType_Integer:
		return pb.FieldType_FieldTypeInteger.Enum()
	default:
		return pb.FieldType_FieldTypeKeyword.Enum()
	}
}
