// Package store provides the document store boundary used by the item
// repository, with MongoDB and in-memory implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// Document field names.
const (
	FieldID          = "_id"
	FieldName        = "name"
	FieldDescription = "description"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"

	FieldImportSource    = "import_source"
	FieldImportRowNumber = "import_row_number"
)

// Document is a loosely typed stored record.
type Document = bson.M

// Query selects documents for Find and Count.
type Query struct {
	// Search matches name or description containing the text, ignoring case.
	Search string
	Skip   int64
	// Limit of 0 means no limit.
	Limit int64
	Sort  model.SortOrder
}

// DocumentStore defines the operations the repository needs from a
// document database. Ids cross this boundary as 24 character hex strings.
type DocumentStore interface {
	// InsertOne stores doc, assigning an id when it has none.
	InsertOne(ctx context.Context, doc Document) (string, error)

	// InsertMany stores docs best-effort. The returned ids are index-aligned
	// with docs; failed entries have an empty id and are listed in a
	// *BulkWriteError.
	InsertMany(ctx context.Context, docs []Document) ([]string, error)

	// FindByID retrieves a document by id.
	FindByID(ctx context.Context, id string) (Document, error)

	// Find returns documents matching q in q.Sort order.
	Find(ctx context.Context, q Query) ([]Document, error)

	// Count returns the number of documents matching q, ignoring Skip and Limit.
	Count(ctx context.Context, q Query) (int64, error)

	// UpdateByID merges set into the document and returns the result.
	UpdateByID(ctx context.Context, id string, set Document) (Document, error)

	// DeleteByID removes a document by id.
	DeleteByID(ctx context.Context, id string) error

	// DeleteAll removes every document and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// BulkWriteError reports the documents rejected by InsertMany while the
// remaining documents were stored.
type BulkWriteError struct {
	Failed map[int]error
}

// Error implements the error interface.
func (e *BulkWriteError) Error() string {
	indexes := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	parts := make([]string, 0, len(indexes))
	for _, i := range indexes {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, e.Failed[i]))
	}

	return fmt.Sprintf("%d documents rejected (%s)", len(e.Failed), strings.Join(parts, "; "))
}

// ParseID converts a hex id into an ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("parse id %q: %w", id, model.ErrInvalidID)
	}
	return oid, nil
}

// IDString returns the hex form of a document id value.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex(), true
	case string:
		return id, id != ""
	default:
		return "", false
	}
}

// sortFields returns the primary sort field and direction for order.
func sortFields(order model.SortOrder) (string, int) {
	switch order {
	case model.SortOldest:
		return FieldCreatedAt, 1
	case model.SortNameAsc:
		return FieldName, 1
	case model.SortNameDesc:
		return FieldName, -1
	default:
		return FieldCreatedAt, -1
	}
}
