// Package handler provides HTTP request handlers for the items API.
package handler

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
}

// IndexResponse describes the API at its root.
type IndexResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// apiEndpoints lists the routes advertised by the index.
var apiEndpoints = map[string]string{
	"health":      "GET /health",
	"ready":       "GET /ready",
	"list_items":  "GET /api/v1/items",
	"get_item":    "GET /api/v1/items/{id}",
	"create_item": "POST /api/v1/items",
	"update_item": "PUT /api/v1/items/{id}",
	"delete_item": "DELETE /api/v1/items/{id}",
	"bulk_create": "POST /api/v1/items/bulk",
	"item_events": "GET /ws/items",
	"metrics":     "GET /metrics",
}
