package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/validator"
)

// Version is the application version.
const Version = "1.0.0"

// APIName is reported by the index endpoint.
const APIName = "Items API"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errEmptyBody is reported when a write request has no body.
var errEmptyBody = errors.New("request body is required")

// EventPublisher receives item change events after successful writes.
type EventPublisher interface {
	Publish(event model.ItemEvent)
}

// RESTHandler handles REST API requests for items.
type RESTHandler struct {
	repo         repository.ItemRepository
	events       EventPublisher
	bulkMaxItems int
	logger       *zap.Logger
}

// NewRESTHandler creates a new RESTHandler. events may be nil.
func NewRESTHandler(
	repo repository.ItemRepository,
	events EventPublisher,
	bulkMaxItems int,
	logger *zap.Logger,
) *RESTHandler {
	return &RESTHandler{
		repo:         repo,
		events:       events,
		bulkMaxItems: bulkMaxItems,
		logger:       logger,
	}
}

// RegisterRoutes registers the REST API routes with the router.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Index).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.ReadyCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items", h.ListItems).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items", h.CreateItem).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/items/bulk", h.BulkCreateItems).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/items/{id}", h.GetItem).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items/{id}", h.UpdateItem).Methods(http.MethodPut)
	router.HandleFunc("/api/v1/items/{id}", h.DeleteItem).Methods(http.MethodDelete)
}

// Index handles GET / requests.
func (h *RESTHandler) Index(w http.ResponseWriter, _ *http.Request) {
	response := IndexResponse{
		Name:      APIName,
		Version:   Version,
		Endpoints: apiEndpoints,
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(response))
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(response))
}

// ReadyCheck handles GET /ready requests by pinging the store.
func (h *RESTHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, model.APIResponse[ReadyResponse]{
			Success: false,
			Data:    ReadyResponse{Status: "not ready"},
			Error:   "store unavailable",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(ReadyResponse{Status: "ready"}))
}

// ListItems handles GET /api/v1/items requests.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, perPage := validator.Pagination(query.Get("page"), query.Get("per_page"))

	params := model.ListParams{
		Page:    page,
		PerPage: perPage,
		Search:  strings.TrimSpace(query.Get("search")),
		Sort:    model.ParseSortOrder(query.Get("sort")),
	}

	result, err := h.repo.List(r.Context(), params)
	if err != nil {
		h.handleError(w, err, "list items")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(model.ItemList{
		Items:      result.Items,
		Pagination: model.NewPagination(page, perPage, result.Total),
	}))
}

// GetItem handles GET /api/v1/items/{id} requests.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := validator.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, err, "get item")
		return
	}

	item, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get item")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

// CreateItem handles POST /api/v1/items requests.
func (h *RESTHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !h.decodeBody(w, r, &payload) {
		return
	}

	input, err := validator.ValidateItem(payload)
	if err != nil {
		h.handleError(w, err, "create item")
		return
	}

	item, err := h.repo.Create(r.Context(), input)
	if err != nil {
		h.handleError(w, err, "create item")
		return
	}

	h.publish(model.NewItemEvent(model.EventItemCreated, item))
	h.writeJSON(w, http.StatusCreated, model.NewMessageResponse(item, "item created"))
}

// UpdateItem handles PUT /api/v1/items/{id} requests. Only the fields
// present in the body are changed.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := validator.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, err, "update item")
		return
	}

	var payload map[string]any
	if !h.decodeBody(w, r, &payload) {
		return
	}

	patch, err := validator.ValidateUpdate(payload)
	if err != nil {
		h.handleError(w, err, "update item")
		return
	}

	item, err := h.repo.Update(r.Context(), id, patch)
	if err != nil {
		h.handleError(w, err, "update item")
		return
	}

	h.publish(model.NewItemEvent(model.EventItemUpdated, item))
	h.writeJSON(w, http.StatusOK, model.NewMessageResponse(item, "item updated"))
}

// DeleteItem handles DELETE /api/v1/items/{id} requests.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := validator.ValidateID(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, err, "delete item")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		h.handleError(w, err, "delete item")
		return
	}

	h.publish(model.NewItemDeletedEvent(id))
	h.writeJSON(w, http.StatusNoContent, nil)
}

// BulkCreateItems handles POST /api/v1/items/bulk requests. Items are
// created best-effort: invalid or rejected entries are reported in errors
// while the rest are stored.
func (h *RESTHandler) BulkCreateItems(w http.ResponseWriter, r *http.Request) {
	var payloads []json.RawMessage
	if !h.decodeBody(w, r, &payloads) {
		return
	}

	if len(payloads) == 0 {
		h.writeError(w, http.StatusBadRequest, "at least one item is required", "")
		return
	}
	if len(payloads) > h.bulkMaxItems {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d items per request", h.bulkMaxItems), "")
		return
	}

	errs := make([]string, 0)
	inputs := make([]model.ItemInput, 0, len(payloads))
	positions := make([]int, 0, len(payloads))

	for i, raw := range payloads {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
			errs = append(errs, fmt.Sprintf("item %d: %v", i, model.NewValidationError(model.ErrInvalidType, "item")))
			continue
		}
		input, err := validator.ValidateItem(payload)
		if err != nil {
			errs = append(errs, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		inputs = append(inputs, input)
		positions = append(positions, i)
	}

	created := make([]model.Item, 0, len(inputs))
	if len(inputs) > 0 {
		results, err := h.repo.BulkCreate(r.Context(), inputs)
		if err != nil {
			h.handleError(w, err, "bulk create items")
			return
		}
		for _, res := range results {
			if res.Err != nil {
				errs = append(errs, fmt.Sprintf("item %d: %v", positions[res.Index], res.Err))
				continue
			}
			created = append(created, *res.Item)
			h.publish(model.NewItemEvent(model.EventItemCreated, res.Item))
		}
	}

	response := model.BulkCreateResponse{
		CreatedItems: created,
		CreatedCount: len(created),
		Errors:       errs,
	}
	h.writeJSON(w, http.StatusCreated,
		model.NewMessageResponse(response, fmt.Sprintf("%d items created", len(created))))
}

// decodeBody checks the content type and decodes a JSON body into dst.
// It writes the error response and returns false on failure.
func (h *RESTHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		h.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.writeError(w, http.StatusBadRequest, errEmptyBody.Error(), "")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request body", "")
		return false
	}

	return true
}

func (h *RESTHandler) publish(event model.ItemEvent) {
	if h.events != nil {
		h.events.Publish(event)
	}
}

// handleError maps an error kind to a status code and writes the response.
func (h *RESTHandler) handleError(w http.ResponseWriter, err error, operation string) {
	var ve *model.ValidationError

	switch {
	case errors.As(err, &ve):
		h.logger.Debug("validation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusBadRequest, ve.Error(), ve.Field)
	case errors.Is(err, model.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, model.ErrInvalidID.Error(), validator.FieldID)
	case errors.Is(err, model.ErrNotFound):
		h.writeError(w, http.StatusNotFound, model.ErrNotFound.Error(), "")
	case errors.Is(err, model.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, model.ErrAlreadyExists.Error(), "")
	case errors.Is(err, model.ErrStoreUnavailable):
		h.logger.Error("store unavailable", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable", "")
	default:
		h.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error envelope. details names the offending field,
// when there is one.
func (h *RESTHandler) writeError(w http.ResponseWriter, status int, message, details string) {
	response := model.APIResponse[*model.ErrorResponse]{
		Success: false,
		Error:   message,
		Data: &model.ErrorResponse{
			Code:    status,
			Message: message,
			Details: details,
		},
	}
	h.writeJSON(w, status, response)
}
