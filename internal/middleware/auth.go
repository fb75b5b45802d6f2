package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/auth"
)

// publicPaths never require credentials. Sub-paths are public too.
var publicPaths = []string{"/health", "/ready", "/metrics"}

// EventsPath is the WebSocket item feed. Browsers cannot set headers on a
// WebSocket handshake, so its credentials may also come from the query
// parameters api_key and access_token.
const EventsPath = "/ws/items"

// Query parameters accepted on EventsPath.
const (
	apiKeyParam      = "api_key"
	accessTokenParam = "access_token"
)

// Auth rejects requests that fail authenticator with 401. The index,
// health checks, metrics and CORS preflights pass through.
func Auth(authenticator auth.Authenticator, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			r = withQueryCredentials(r)

			id, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFrom(r.Context())),
					zap.Error(err),
				)
				w.Header().Set("WWW-Authenticate", challenge(err))
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			logger.Debug("authenticated",
				zap.String("subject", id.Subject),
				zap.String("method", string(id.Method)),
			)

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func isPublic(r *http.Request) bool {
	if r.Method == http.MethodOptions || r.URL.Path == "/" {
		return true
	}
	for _, p := range publicPaths {
		if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
			return true
		}
	}
	return false
}

// withQueryCredentials copies api_key and access_token from the query of a
// WebSocket handshake on EventsPath into the headers the authenticators
// read. Headers already present win.
func withQueryCredentials(r *http.Request) *http.Request {
	if r.Method != http.MethodGet || r.URL.Path != EventsPath ||
		!strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r
	}

	query := r.URL.Query()
	key, token := query.Get(apiKeyParam), query.Get(accessTokenParam)
	if key == "" && token == "" {
		return r
	}

	r = r.Clone(r.Context())
	if key != "" && r.Header.Get(auth.APIKeyHeader) == "" {
		r.Header.Set(auth.APIKeyHeader, key)
	}
	if token != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

// challenge picks the WWW-Authenticate value for err.
func challenge(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return `Bearer error="invalid_token"`
	case errors.Is(err, auth.ErrInvalidCredentials):
		return `Basic realm="items"`
	case errors.Is(err, auth.ErrInvalidAPIKey):
		return "API-Key"
	default:
		return `Bearer, Basic realm="items", API-Key`
	}
}
