// Package repository is the single owner of reads and writes to the items
// collection. It maps stored documents to model.Item and back.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

// ItemRepository defines the item operations used by the HTTP handlers and
// the import pipeline.
type ItemRepository interface {
	// Create stores a new item and returns it with its id and timestamps.
	Create(ctx context.Context, input model.ItemInput) (*model.Item, error)

	// Get retrieves an item by id.
	Get(ctx context.Context, id string) (*model.Item, error)

	// Update merges patch into an existing item.
	Update(ctx context.Context, id string, patch model.ItemPatch) (*model.Item, error)

	// Delete removes an item by id.
	Delete(ctx context.Context, id string) error

	// List returns one page of items and the total number of matches.
	List(ctx context.Context, params model.ListParams) (*model.ItemPage, error)

	// BulkCreate stores inputs best-effort and reports one result per input
	// in input order.
	BulkCreate(ctx context.Context, inputs []model.ItemInput) ([]model.BulkResult, error)

	// Count returns the number of stored items.
	Count(ctx context.Context) (int64, error)

	// DropAll removes every item and returns how many were removed.
	DropAll(ctx context.Context) (int64, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Repository implements ItemRepository on a store.DocumentStore.
type Repository struct {
	store  store.DocumentStore
	logger *zap.Logger
	now    func() time.Time
}

var _ ItemRepository = (*Repository)(nil)

// New creates a Repository backed by s.
func New(s store.DocumentStore, logger *zap.Logger) *Repository {
	return &Repository{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// Create stores a new item. CreatedAt and UpdatedAt are equal.
func (r *Repository) Create(ctx context.Context, input model.ItemInput) (*model.Item, error) {
	start := time.Now()
	ts := r.timestamp()

	id, err := r.store.InsertOne(ctx, newDocument(input, ts))
	observe(opCreate, start, err)
	if err != nil {
		r.logFailure(opCreate, err)
		return nil, fmt.Errorf("create item: %w", err)
	}

	r.logger.Debug("item created", zap.String("id", id))

	return &model.Item{
		ID:          id,
		Name:        input.Name,
		Description: input.Description,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

// Get retrieves an item by id.
func (r *Repository) Get(ctx context.Context, id string) (*model.Item, error) {
	start := time.Now()

	item, err := r.get(ctx, id)
	observe(opGet, start, err)
	if err != nil {
		r.logFailure(opGet, err, zap.String("id", id))
		return nil, err
	}

	return item, nil
}

func (r *Repository) get(ctx context.Context, id string) (*model.Item, error) {
	doc, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return toItem(doc)
}

// Update merges the fields present in patch into the item and moves
// UpdatedAt strictly past its previous value. Last write wins.
func (r *Repository) Update(ctx context.Context, id string, patch model.ItemPatch) (*model.Item, error) {
	start := time.Now()

	item, err := r.update(ctx, id, patch)
	observe(opUpdate, start, err)
	if err != nil {
		r.logFailure(opUpdate, err, zap.String("id", id))
		return nil, err
	}

	r.logger.Debug("item updated", zap.String("id", id))

	return item, nil
}

func (r *Repository) update(ctx context.Context, id string, patch model.ItemPatch) (*model.Item, error) {
	if patch.IsEmpty() {
		return nil, model.NewValidationError(model.ErrEmptyUpdate, "")
	}

	existing, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	ts := r.timestamp()
	if !ts.After(existing.UpdatedAt) {
		ts = existing.UpdatedAt.Add(time.Millisecond)
	}

	set := store.Document{store.FieldUpdatedAt: ts}
	if patch.Name != nil {
		set[store.FieldName] = *patch.Name
	}
	if patch.Description != nil {
		set[store.FieldDescription] = *patch.Description
	}

	doc, err := r.store.UpdateByID(ctx, id, set)
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", id, err)
	}

	return toItem(doc)
}

// Delete removes an item by id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	start := time.Now()

	err := r.store.DeleteByID(ctx, id)
	observe(opDelete, start, err)
	if err != nil {
		r.logFailure(opDelete, err, zap.String("id", id))
		return fmt.Errorf("delete item %s: %w", id, err)
	}

	r.logger.Debug("item deleted", zap.String("id", id))

	return nil
}

// List returns one page of items. Parameters are clamped to their valid
// ranges and Total counts every match regardless of paging.
func (r *Repository) List(ctx context.Context, params model.ListParams) (*model.ItemPage, error) {
	start := time.Now()

	page, err := r.list(ctx, params.Normalize())
	observe(opList, start, err)
	if err != nil {
		r.logFailure(opList, err)
		return nil, err
	}

	return page, nil
}

func (r *Repository) list(ctx context.Context, params model.ListParams) (*model.ItemPage, error) {
	q := store.Query{
		Search: params.Search,
		Skip:   params.Skip(),
		Limit:  int64(params.PerPage),
		Sort:   params.Sort,
	}

	total, err := r.store.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	docs, err := r.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]model.Item, 0, len(docs))
	for _, doc := range docs {
		item, err := toItem(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	return &model.ItemPage{Items: items, Total: total}, nil
}

// BulkCreate stores inputs best-effort. Every input receives a result in
// input order carrying either the stored item or its rejection. A
// store-wide failure returns an error and no results.
func (r *Repository) BulkCreate(ctx context.Context, inputs []model.ItemInput) ([]model.BulkResult, error) {
	start := time.Now()

	results, err := r.bulkCreate(ctx, inputs)
	observe(opBulkCreate, start, err)
	if err != nil {
		r.logFailure(opBulkCreate, err, zap.Int("count", len(inputs)))
		return nil, err
	}

	return results, nil
}

func (r *Repository) bulkCreate(ctx context.Context, inputs []model.ItemInput) ([]model.BulkResult, error) {
	if len(inputs) == 0 {
		return []model.BulkResult{}, nil
	}

	ts := r.timestamp()
	docs := make([]store.Document, len(inputs))
	for i, input := range inputs {
		docs[i] = newDocument(input, ts)
	}

	ids, err := r.store.InsertMany(ctx, docs)

	var bwe *store.BulkWriteError
	failed := map[int]error{}
	switch {
	case err == nil:
	case errors.As(err, &bwe):
		failed = bwe.Failed
	default:
		return nil, fmt.Errorf("bulk create items: %w", err)
	}

	results := make([]model.BulkResult, len(inputs))
	for i, input := range inputs {
		results[i].Index = i
		if ferr, ok := failed[i]; ok {
			results[i].Err = ferr
			continue
		}
		results[i].Item = &model.Item{
			ID:          ids[i],
			Name:        input.Name,
			Description: input.Description,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
	}

	if len(failed) > 0 {
		r.logger.Warn("bulk create partially rejected",
			zap.Int("submitted", len(inputs)),
			zap.Int("rejected", len(failed)),
		)
	}

	return results, nil
}

// Count returns the number of stored items.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	start := time.Now()

	n, err := r.store.Count(ctx, store.Query{})
	observe(opCount, start, err)
	if err != nil {
		r.logFailure(opCount, err)
		return 0, fmt.Errorf("count items: %w", err)
	}

	return n, nil
}

// DropAll removes every item.
func (r *Repository) DropAll(ctx context.Context) (int64, error) {
	start := time.Now()

	n, err := r.store.DeleteAll(ctx)
	observe(opDropAll, start, err)
	if err != nil {
		r.logFailure(opDropAll, err)
		return 0, fmt.Errorf("drop items: %w", err)
	}

	r.logger.Info("items dropped", zap.Int64("count", n))

	return n, nil
}

// Ping checks that the backing store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	start := time.Now()

	err := r.store.Ping(ctx)
	observe(opPing, start, err)
	if err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	return nil
}

// timestamp returns the current time at the precision the store keeps.
func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func (r *Repository) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", op), zap.Error(err))

	switch resultLabel(err) {
	case resultNotFound, resultInvalid:
		r.logger.Debug("repository operation rejected", fields...)
	default:
		r.logger.Error("repository operation failed", fields...)
	}
}

func newDocument(input model.ItemInput, ts time.Time) store.Document {
	doc := store.Document{
		store.FieldName:        input.Name,
		store.FieldDescription: input.Description,
		store.FieldCreatedAt:   ts,
		store.FieldUpdatedAt:   ts,
	}
	if input.Origin != nil {
		doc[store.FieldImportSource] = input.Origin.Source
		doc[store.FieldImportRowNumber] = input.Origin.Line
	}
	return doc
}

// toItem maps a stored document to an Item.
func toItem(doc store.Document) (*model.Item, error) {
	id, ok := store.IDString(doc[store.FieldID])
	if !ok {
		return nil, fmt.Errorf("map document: missing or malformed %s", store.FieldID)
	}

	name, _ := doc[store.FieldName].(string)
	description, _ := doc[store.FieldDescription].(string)

	return &model.Item{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   toTime(doc[store.FieldCreatedAt]),
		UpdatedAt:   toTime(doc[store.FieldUpdatedAt]),
	}, nil
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return time.Time{}
	}
}
