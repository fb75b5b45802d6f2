// Package model defines data structures used throughout the application.
package model

import (
	"math"
	"time"
)

// Validation constants.
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 1000
)

// Pagination defaults and bounds.
const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100

	// MaxPage keeps (page-1)*per_page well inside int64 on every platform.
	MaxPage = math.MaxInt32
)

// Item represents a stored item.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemInput is a validated payload for creating an item.
type ItemInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`

	// Origin records where a bulk-imported item came from. It is never
	// read from request bodies.
	Origin *ImportOrigin `json:"-" validate:"-"`
}

// ImportOrigin is the provenance stored alongside an imported item.
type ImportOrigin struct {
	Source string
	Line   int
}

// ItemPatch is a validated partial update. Nil fields are left unchanged.
type ItemPatch struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil
}

// SortOrder selects the ordering of listed items.
type SortOrder string

// Supported sort orders. The leading "-" means descending.
const (
	SortNewest   SortOrder = "-created_at"
	SortOldest   SortOrder = "created_at"
	SortNameAsc  SortOrder = "name"
	SortNameDesc SortOrder = "-name"
)

// ParseSortOrder returns the sort order for raw, falling back to SortNewest.
func ParseSortOrder(raw string) SortOrder {
	switch SortOrder(raw) {
	case SortOldest, SortNameAsc, SortNameDesc:
		return SortOrder(raw)
	default:
		return SortNewest
	}
}

// ListParams describes a page of items to list.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
	Sort    SortOrder
}

// Normalize clamps the parameters to their valid ranges.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	if p.Sort == "" {
		p.Sort = SortNewest
	}
	return p
}

// Skip returns the number of items preceding the page.
func (p ListParams) Skip() int64 {
	return int64(p.Page-1) * int64(p.PerPage)
}

// ItemPage is one page of items plus the total number of matches.
type ItemPage struct {
	Items []Item
	Total int64
}

// Pagination holds the metadata returned alongside a page of items.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// NewPagination computes pagination metadata for a page.
func NewPagination(page, perPage int, total int64) Pagination {
	var totalPages int64
	if perPage > 0 {
		totalPages = (total + int64(perPage) - 1) / int64(perPage)
	}

	return Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    int64(page) < totalPages,
		HasPrev:    page > 1,
	}
}

// ItemList is the response body for listing items.
type ItemList struct {
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// BulkResult is the outcome of one input in a bulk create.
// Exactly one of Item and Err is set.
type BulkResult struct {
	Index int
	Item  *Item
	Err   error
}

// BulkCreateResponse is the response body for bulk creation.
type BulkCreateResponse struct {
	CreatedItems []Item   `json:"created_items"`
	CreatedCount int      `json:"created_count"`
	Errors       []string `json:"errors"`
}

// APIResponse is a generic wrapper for API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
	}
}

// NewMessageResponse creates a successful API response with a message.
func NewMessageResponse[T any](data T, message string) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse[T any](errMsg string) APIResponse[T] {
	return APIResponse[T]{
		Success: false,
		Error:   errMsg,
	}
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ItemEvent is pushed to WebSocket subscribers when an item changes.
type ItemEvent struct {
	Type      string    `json:"type"`
	ItemID    string    `json:"item_id"`
	Item      *Item     `json:"item,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Item event types.
const (
	EventItemCreated = "item.created"
	EventItemUpdated = "item.updated"
	EventItemDeleted = "item.deleted"
)

// NewItemEvent creates an event of the given type for item.
func NewItemEvent(eventType string, item *Item) ItemEvent {
	return ItemEvent{
		Type:      eventType,
		ItemID:    item.ID,
		Item:      item,
		Timestamp: time.Now().UTC(),
	}
}

// NewItemDeletedEvent creates a deletion event for id.
func NewItemDeletedEvent(id string) ItemEvent {
	return ItemEvent{
		Type:      EventItemDeleted,
		ItemID:    id,
		Timestamp: time.Now().UTC(),
	}
}
