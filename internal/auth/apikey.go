package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

// APIKeyHeader carries the API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuthenticator checks the X-API-Key header against a fixed set of
// named keys.
type APIKeyAuthenticator struct {
	keys map[string]string // key -> name
}

// NewAPIKeyAuthenticator parses "key1:name1,key2:name2".
func NewAPIKeyAuthenticator(keysConfig string) (*APIKeyAuthenticator, error) {
	keys, err := parsePairs(keysConfig)
	if err != nil {
		return nil, fmt.Errorf("apikey auth: %w", err)
	}
	return &APIKeyAuthenticator{keys: keys}, nil
}

// Authenticate compares the presented key with every configured key in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, ErrUnauthenticated
	}

	var subject string
	for key, name := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			subject = name
		}
	}
	if subject == "" {
		return nil, ErrInvalidAPIKey
	}

	return &Identity{Method: MethodAPIKey, Subject: subject}, nil
}

// Method returns MethodAPIKey.
func (a *APIKeyAuthenticator) Method() Method {
	return MethodAPIKey
}
