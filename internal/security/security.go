// Package security authenticates gateway callers. API keys map to employee
// IDs; the mapped ID is the only identity the agent and its tools ever see.
package security

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors for authentication.
var (
	ErrMissingCredentials = errors.New("missing or invalid Authorization header")
	ErrInvalidKey         = errors.New("invalid API key")
)

// KeyAuthenticator resolves bearer API keys to employee IDs.
// Safe for concurrent use; the key set is fixed at construction.
type KeyAuthenticator struct {
	keys []keyEntry
}

type keyEntry struct {
	key    []byte
	userID string
}

// NewKeyAuthenticator builds an authenticator from an API key → employee ID mapping.
// Entries with an empty key or user are ignored.
func NewKeyAuthenticator(mapping map[string]string) *KeyAuthenticator {
	a := &KeyAuthenticator{}
	for key, userID := range mapping {
		if key == "" || userID == "" {
			continue
		}
		a.keys = append(a.keys, keyEntry{key: []byte(key), userID: userID})
	}
	return a
}

// Len returns the number of configured keys.
func (a *KeyAuthenticator) Len() int { return len(a.keys) }

// Authenticate returns the employee ID mapped to apiKey.
// Every entry is compared in constant time, so a match does not exit early.
func (a *KeyAuthenticator) Authenticate(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingCredentials
	}
	candidate := []byte(apiKey)
	userID := ""
	for _, e := range a.keys {
		if subtle.ConstantTimeCompare(candidate, e.key) == 1 {
			userID = e.userID
		}
	}
	if userID == "" {
		return "", ErrInvalidKey
	}
	return userID, nil
}

// AuthenticateRequest reads the key from "Authorization: Bearer <key>".
// When allowQuery is set, a "token" query parameter is accepted as well
// (browsers cannot set headers on WebSocket upgrades).
func (a *KeyAuthenticator) AuthenticateRequest(r *http.Request, allowQuery bool) (string, error) {
	if key, ok := BearerToken(r.Header.Get("Authorization")); ok {
		return a.Authenticate(key)
	}
	if allowQuery {
		if key := r.URL.Query().Get("token"); key != "" {
			return a.Authenticate(key)
		}
	}
	return "", ErrMissingCredentials
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
