// Package auth authenticates API callers. Authentication is optional and
// selected by config.AuthMode.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/config"
)

// Method names an authentication mechanism.
type Method string

// Supported methods. Values match config.AuthMode.
const (
	MethodNone   Method = "none"
	MethodBasic  Method = "basic"
	MethodAPIKey Method = "apikey"
	MethodOIDC   Method = "oidc"
	MethodMulti  Method = "multi"
)

// Identity is the authenticated caller.
type Identity struct {
	Method  Method
	Subject string
	Claims  map[string]any
}

// Authenticator validates the credentials carried by a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
	Method() Method
}

// Sentinel errors for authentication failures. ErrUnauthenticated means no
// credentials for the method were present at all.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type contextKey string

const identityKey contextKey = "identity"

// FromContext returns the Identity stored by the auth middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromConfig builds the Authenticator selected by cfg.AuthMode. It returns
// nil when authentication is disabled. OIDC discovery uses ctx.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Authenticator, error) {
	switch Method(cfg.AuthMode) {
	case MethodNone, "":
		logger.Info("authentication disabled")
		return nil, nil
	case MethodBasic:
		logger.Info("authentication mode: basic")
		return NewBasicAuthenticator(cfg.BasicAuthUsers)
	case MethodAPIKey:
		logger.Info("authentication mode: api key")
		return NewAPIKeyAuthenticator(cfg.APIKeys)
	case MethodOIDC:
		logger.Info("authentication mode: oidc",
			zap.String("issuer_url", cfg.OIDCIssuerURL),
			zap.String("client_id", cfg.OIDCClientID),
		)
		verifier, err := NewProviderVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		return NewOIDCAuthenticator(verifier), nil
	case MethodMulti:
		return multiFromConfig(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidAuthMode, cfg.AuthMode)
	}
}

func multiFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Authenticator, error) {
	var authenticators []Authenticator

	if cfg.BasicAuthUsers != "" {
		ba, err := NewBasicAuthenticator(cfg.BasicAuthUsers)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, ba)
	}

	if cfg.APIKeys != "" {
		ak, err := NewAPIKeyAuthenticator(cfg.APIKeys)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, ak)
	}

	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		verifier, err := NewProviderVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, NewOIDCAuthenticator(verifier))
	}

	if len(authenticators) == 0 {
		return nil, config.ErrInvalidMultiAuthConfig
	}

	methods := make([]string, 0, len(authenticators))
	for _, a := range authenticators {
		methods = append(methods, string(a.Method()))
	}
	logger.Info("authentication mode: multi", zap.Strings("methods", methods))

	return NewMultiAuthenticator(authenticators...), nil
}
