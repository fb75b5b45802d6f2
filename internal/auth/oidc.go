package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier verifies a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*TokenClaims, error)
}

// TokenClaims are the claims of a verified token.
type TokenClaims struct {
	Subject string
	Claims  map[string]any
}

// ProviderVerifier verifies ID tokens against an OIDC provider's published
// keys. Issuer, audience and expiry are checked by go-oidc.
type ProviderVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewProviderVerifier runs OIDC discovery for issuerURL. Tokens must be
// issued for clientID.
func NewProviderVerifier(ctx context.Context, issuerURL, clientID string) (*ProviderVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuerURL, err)
	}

	return &ProviderVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Verify implements TokenVerifier.
func (v *ProviderVerifier) Verify(ctx context.Context, rawToken string) (*TokenClaims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	claims := make(map[string]any)
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	return &TokenClaims{Subject: token.Subject, Claims: claims}, nil
}

// OIDCAuthenticator authenticates bearer tokens.
type OIDCAuthenticator struct {
	verifier TokenVerifier
}

// NewOIDCAuthenticator creates an OIDCAuthenticator.
func NewOIDCAuthenticator(verifier TokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier}
}

// Authenticate verifies the bearer token in the Authorization header.
func (a *OIDCAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := a.verifier.Verify(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return &Identity{
		Method:  MethodOIDC,
		Subject: claims.Subject,
		Claims:  claims.Claims,
	}, nil
}

// Method returns MethodOIDC.
func (a *OIDCAuthenticator) Method() Method {
	return MethodOIDC
}
