package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// duplicateKeyCode is the server error code for unique index violations.
const duplicateKeyCode = 11000

// MongoConfig holds the connection settings for MongoStore.
type MongoConfig struct {
	URI                    string
	Database               string
	Collection             string
	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
}

// MongoStore implements DocumentStore on a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoStore connects to MongoDB, verifies the connection and makes sure
// the collection indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.SocketTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w: %w", model.ErrStoreUnavailable, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w: %w", model.ErrStoreUnavailable, err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("connected to mongodb",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldCreatedAt, Value: -1}, {Key: FieldID, Value: -1}}},
		{Keys: bson.D{{Key: FieldName, Value: 1}}},
	})
	return mapError("create indexes", err)
}

// InsertOne stores doc, assigning an ObjectID when it has none.
func (s *MongoStore) InsertOne(ctx context.Context, doc Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("insert document: document cannot be nil")
	}

	stored, oid, err := withID(doc)
	if err != nil {
		return "", err
	}

	if _, err := s.collection.InsertOne(ctx, stored); err != nil {
		return "", mapError("insert document", err)
	}

	return oid.Hex(), nil
}

// InsertMany stores docs with an unordered insert so one rejected document
// does not prevent the others from being written.
func (s *MongoStore) InsertMany(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(docs))
	batch := make([]any, 0, len(docs))
	positions := make([]int, 0, len(docs))
	failed := make(map[int]error)

	for i, doc := range docs {
		if doc == nil {
			failed[i] = fmt.Errorf("document cannot be nil")
			continue
		}
		stored, oid, err := withID(doc)
		if err != nil {
			failed[i] = err
			continue
		}
		ids[i] = oid.Hex()
		batch = append(batch, stored)
		positions = append(positions, i)
	}

	if len(batch) > 0 {
		_, err := s.collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))

		var bwe mongo.BulkWriteException
		switch {
		case err == nil:
		case errors.As(err, &bwe) && len(bwe.WriteErrors) > 0:
			for _, we := range bwe.WriteErrors {
				if we.Index < 0 || we.Index >= len(positions) {
					continue
				}
				pos := positions[we.Index]
				ids[pos] = ""
				failed[pos] = writeError(we.WriteError)
			}
		default:
			return nil, mapError("insert documents", err)
		}
	}

	if len(failed) > 0 {
		return ids, &BulkWriteError{Failed: failed}
	}

	return ids, nil
}

// FindByID retrieves a document by id.
func (s *MongoStore) FindByID(ctx context.Context, id string) (Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := s.collection.FindOne(ctx, bson.M{FieldID: oid}).Decode(&doc); err != nil {
		return nil, mapError("find document", err)
	}

	return doc, nil
}

// Find returns documents matching q in q.Sort order.
func (s *MongoStore) Find(ctx context.Context, q Query) ([]Document, error) {
	field, dir := sortFields(q.Sort)
	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: dir}, {Key: FieldID, Value: dir}}).
		SetSkip(max(q.Skip, 0))
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := s.collection.Find(ctx, searchFilter(q.Search), opts)
	if err != nil {
		return nil, mapError("find documents", err)
	}

	docs := make([]Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapError("decode documents", err)
	}

	return docs, nil
}

// Count returns the number of documents matching q.
func (s *MongoStore) Count(ctx context.Context, q Query) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, searchFilter(q.Search))
	if err != nil {
		return 0, mapError("count documents", err)
	}
	return n, nil
}

// UpdateByID applies set with $set and returns the updated document.
func (s *MongoStore) UpdateByID(ctx context.Context, id string, set Document) (Document, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	fields := copyDocument(set)
	delete(fields, FieldID)

	var doc Document
	err = s.collection.FindOneAndUpdate(ctx,
		bson.M{FieldID: oid},
		bson.M{"$set": fields},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mapError("update document", err)
	}

	return doc, nil
}

// DeleteByID removes a document by id.
func (s *MongoStore) DeleteByID(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	res, err := s.collection.DeleteOne(ctx, bson.M{FieldID: oid})
	if err != nil {
		return mapError("delete document", err)
	}
	if res.DeletedCount == 0 {
		return model.ErrNotFound
	}

	return nil
}

// DeleteAll removes every document in the collection.
func (s *MongoStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, mapError("delete documents", err)
	}
	return res.DeletedCount, nil
}

// Ping checks that the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return mapError("ping", s.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	s.logger.Info("mongodb connection closed")
	return nil
}

// searchFilter builds a case-insensitive literal substring match over name
// and description.
func searchFilter(search string) bson.M {
	if search == "" {
		return bson.M{}
	}

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
	return bson.M{
		"$or": bson.A{
			bson.M{FieldName: pattern},
			bson.M{FieldDescription: pattern},
		},
	}
}

func withID(doc Document) (Document, primitive.ObjectID, error) {
	stored := copyDocument(doc)
	oid, err := documentID(stored)
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	stored[FieldID] = oid
	return stored, oid, nil
}

func writeError(we mongo.WriteError) error {
	if we.Code == duplicateKeyCode {
		return fmt.Errorf("%s: %w", we.Message, model.ErrAlreadyExists)
	}
	return errors.New(we.Message)
}

// mapError translates driver errors into the model error kinds.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return model.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, model.ErrAlreadyExists)
	case mongo.IsNetworkError(err),
		mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
