package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// MemoryStore implements DocumentStore with in-process storage. It mirrors
// MongoStore semantics and is used for tests and the memory backend.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[primitive.ObjectID]Document
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[primitive.ObjectID]Document),
	}
}

// InsertOne stores doc, assigning an id when it has none.
func (s *MemoryStore) InsertOne(ctx context.Context, doc Document) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("insert document: %w", ctx.Err())
	default:
	}

	if doc == nil {
		return "", fmt.Errorf("insert document: document cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(doc)
}

// InsertMany stores docs best-effort.
func (s *MemoryStore) InsertMany(ctx context.Context, docs []Document) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("insert documents: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	failed := make(map[int]error)

	for i, doc := range docs {
		if doc == nil {
			failed[i] = fmt.Errorf("document cannot be nil")
			continue
		}
		id, err := s.insertLocked(doc)
		if err != nil {
			failed[i] = err
			continue
		}
		ids[i] = id
	}

	if len(failed) > 0 {
		return ids, &BulkWriteError{Failed: failed}
	}

	return ids, nil
}

func (s *MemoryStore) insertLocked(doc Document) (string, error) {
	stored := copyDocument(doc)

	oid, err := documentID(stored)
	if err != nil {
		return "", err
	}
	if _, exists := s.docs[oid]; exists {
		return "", fmt.Errorf("insert document %s: %w", oid.Hex(), model.ErrAlreadyExists)
	}

	stored[FieldID] = oid
	s.docs[oid] = stored

	return oid.Hex(), nil
}

// FindByID retrieves a document by id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("find document: %w", ctx.Err())
	default:
	}

	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[oid]
	if !exists {
		return nil, model.ErrNotFound
	}

	return copyDocument(doc), nil
}

// Find returns documents matching q in q.Sort order.
func (s *MemoryStore) Find(ctx context.Context, q Query) ([]Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("find documents: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	matched := s.matchLocked(q.Search)
	s.mu.RUnlock()

	sortDocuments(matched, q.Sort)

	start := min(max(q.Skip, 0), int64(len(matched)))
	end := int64(len(matched))
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	return matched[start:end], nil
}

// Count returns the number of documents matching q.
func (s *MemoryStore) Count(ctx context.Context, q Query) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("count documents: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.matchLocked(q.Search))), nil
}

// UpdateByID merges set into the document and returns the result.
func (s *MemoryStore) UpdateByID(ctx context.Context, id string, set Document) (Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("update document: %w", ctx.Err())
	default:
	}

	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.docs[oid]
	if !exists {
		return nil, model.ErrNotFound
	}

	updated := copyDocument(existing)
	for k, v := range set {
		if k == FieldID {
			continue
		}
		updated[k] = v
	}
	s.docs[oid] = updated

	return copyDocument(updated), nil
}

// DeleteByID removes a document by id.
func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("delete document: %w", ctx.Err())
	default:
	}

	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[oid]; !exists {
		return model.ErrNotFound
	}

	delete(s.docs, oid)

	return nil
}

// DeleteAll removes every document.
func (s *MemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("delete documents: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.docs))
	s.docs = make(map[primitive.ObjectID]Document)

	return n, nil
}

// Ping always succeeds unless ctx is done.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) matchLocked(search string) []Document {
	needle := strings.ToLower(search)

	matched := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if needle == "" ||
			strings.Contains(strings.ToLower(stringValue(doc, FieldName)), needle) ||
			strings.Contains(strings.ToLower(stringValue(doc, FieldDescription)), needle) {
			matched = append(matched, copyDocument(doc))
		}
	}

	return matched
}

// sortDocuments orders docs like the MongoDB sort document built by
// MongoStore: the primary field, then _id in the same direction.
func sortDocuments(docs []Document, order model.SortOrder) {
	field, dir := sortFields(order)

	sort.SliceStable(docs, func(i, j int) bool {
		c := compareField(docs[i], docs[j], field)
		if c == 0 {
			c = compareIDs(docs[i], docs[j])
		}
		if dir < 0 {
			return c > 0
		}
		return c < 0
	})
}

func compareField(a, b Document, field string) int {
	if field == FieldName {
		return strings.Compare(stringValue(a, field), stringValue(b, field))
	}
	return timeValue(a, field).Compare(timeValue(b, field))
}

func compareIDs(a, b Document) int {
	ai, _ := a[FieldID].(primitive.ObjectID)
	bi, _ := b[FieldID].(primitive.ObjectID)
	return bytes.Compare(ai[:], bi[:])
}

func documentID(doc Document) (primitive.ObjectID, error) {
	switch id := doc[FieldID].(type) {
	case nil:
		return primitive.NewObjectID(), nil
	case primitive.ObjectID:
		return id, nil
	case string:
		return ParseID(id)
	default:
		return primitive.NilObjectID, fmt.Errorf("unsupported _id type %T: %w", id, model.ErrInvalidID)
	}
}

func copyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func stringValue(doc Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

func timeValue(doc Document, field string) time.Time {
	switch v := doc[field].(type) {
	case time.Time:
		return v
	case primitive.DateTime:
		return v.Time()
	default:
		return time.Time{}
	}
}
