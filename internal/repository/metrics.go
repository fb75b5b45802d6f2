package repository

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// Operation names used as metric labels.
const (
	opCreate     = "create"
	opGet        = "get"
	opUpdate     = "update"
	opDelete     = "delete"
	opList       = "list"
	opBulkCreate = "bulk_create"
	opCount      = "count"
	opDropAll    = "drop_all"
	opPing       = "ping"
)

// Result labels.
const (
	resultOK          = "ok"
	resultNotFound    = "not_found"
	resultInvalid     = "invalid"
	resultConflict    = "conflict"
	resultUnavailable = "unavailable"
	resultError       = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "item_repository_operations_total",
			Help: "Total number of item repository operations",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "item_repository_operation_duration_seconds",
			Help:    "Item repository operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// observe records one operation outcome.
func observe(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, model.ErrNotFound):
		return resultNotFound
	case errors.Is(err, model.ErrInvalidID), model.IsValidation(err):
		return resultInvalid
	case errors.Is(err, model.ErrAlreadyExists):
		return resultConflict
	case errors.Is(err, model.ErrStoreUnavailable):
		return resultUnavailable
	default:
		return resultError
	}
}
