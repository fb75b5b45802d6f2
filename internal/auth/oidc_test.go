package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vyrodovalexey/mongo-items-api/internal/auth"
)

type fakeVerifier struct {
	claims *auth.TokenClaims
	err    error
	got    string
}

func (f *fakeVerifier) Verify(_ context.Context, rawToken string) (*auth.TokenClaims, error) {
	f.got = rawToken
	return f.claims, f.err
}

func TestOIDCAuthenticator_Authenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		header      string
		verifier    *fakeVerifier
		wantToken   string
		wantSubject string
		wantErr     error
	}{
		{
			name:        "valid bearer token",
			header:      "Bearer abc.def.ghi",
			verifier:    &fakeVerifier{claims: &auth.TokenClaims{Subject: "user-1"}},
			wantToken:   "abc.def.ghi",
			wantSubject: "user-1",
		},
		{
			name:        "scheme is case insensitive",
			header:      "bearer abc",
			verifier:    &fakeVerifier{claims: &auth.TokenClaims{Subject: "user-1"}},
			wantToken:   "abc",
			wantSubject: "user-1",
		},
		{
			name:     "no header",
			header:   "",
			verifier: &fakeVerifier{},
			wantErr:  auth.ErrUnauthenticated,
		},
		{
			name:     "basic scheme",
			header:   "Basic dXNlcjpwYXNz",
			verifier: &fakeVerifier{},
			wantErr:  auth.ErrUnauthenticated,
		},
		{
			name:     "empty token",
			header:   "Bearer ",
			verifier: &fakeVerifier{},
			wantErr:  auth.ErrUnauthenticated,
		},
		{
			name:      "rejected token",
			header:    "Bearer expired",
			verifier:  &fakeVerifier{err: errors.New("token is expired")},
			wantToken: "expired",
			wantErr:   auth.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			a := auth.NewOIDCAuthenticator(tt.verifier)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			// Act
			id, err := a.Authenticate(req)

			// Assert
			if tt.verifier.got != tt.wantToken {
				t.Errorf("verified token = %q, want %q", tt.verifier.got, tt.wantToken)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if id.Subject != tt.wantSubject || id.Method != auth.MethodOIDC {
				t.Errorf("Identity = %+v", id)
			}
		})
	}
}

func TestNewProviderVerifier(t *testing.T) {
	t.Parallel()

	// Arrange
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/auth",
			"token_endpoint":                        issuer + "/token",
			"jwks_uri":                              issuer + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	})
	provider := httptest.NewServer(mux)
	defer provider.Close()
	issuer = provider.URL

	// Act
	v, err := auth.NewProviderVerifier(context.Background(), issuer, "items-api")

	// Assert
	if err != nil {
		t.Fatalf("NewProviderVerifier() error = %v", err)
	}
	if _, err := v.Verify(context.Background(), "not-a-jwt"); err == nil {
		t.Error("Verify() accepted a malformed token")
	}
}
