package auth

import (
	"errors"
	"net/http"
)

// MultiAuthenticator tries several authenticators in order. A method that
// finds no credentials passes to the next one; a method that finds bad
// credentials fails the request.
type MultiAuthenticator struct {
	authenticators []Authenticator
}

// NewMultiAuthenticator creates a MultiAuthenticator.
func NewMultiAuthenticator(authenticators ...Authenticator) *MultiAuthenticator {
	return &MultiAuthenticator{authenticators: authenticators}
}

// Authenticate returns the first successful identity.
func (a *MultiAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	for _, authenticator := range a.authenticators {
		id, err := authenticator.Authenticate(r)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}

	return nil, ErrUnauthenticated
}

// Method returns MethodMulti.
func (a *MultiAuthenticator) Method() Method {
	return MethodMulti
}
