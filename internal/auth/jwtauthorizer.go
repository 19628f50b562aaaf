// Package auth provides the Authorizer implementations the Connection
// calls during connection_init: a bearer-token verifier and a
// trivially-allow variant for development.
package auth

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/COVESA/graphql-vss-server-libs/internal/permissions"
	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

// KnownPermissions maps a permission's claim name to its wire key, used to
// resolve string entries in a token's "permissions" claim.
type KnownPermissions map[string]permissions.Key

// JWTAuthorizer verifies RS-256-signed bearer tokens and extracts a
// permissions claim. An empty token authorizes with an empty, non-nil set
// rather than failing, so introspection works without credentials.
type JWTAuthorizer struct {
	publicKey *rsa.PublicKey
	known     KnownPermissions

	cacheMu sync.Mutex
	cache   map[string]*permissions.Set
}

// NewJWTAuthorizer builds a JWTAuthorizer verifying tokens against
// publicKey, resolving string permission-claim entries through known.
func NewJWTAuthorizer(publicKey *rsa.PublicKey, known KnownPermissions) *JWTAuthorizer {
	return &JWTAuthorizer{
		publicKey: publicKey,
		known:     known,
		cache:     make(map[string]*permissions.Set),
	}
}

type claims struct {
	Permissions []interface{} `json:"permissions"`
}

// Authorize implements protocol.Authorizer.
func (a *JWTAuthorizer) Authorize(token string) (*permissions.Set, error) {
	if token == "" {
		return permissions.Empty, nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, &protocol.InvalidTokenError{Reason: err.Error()}
	}
	if !parsed.Valid {
		return nil, &protocol.InvalidTokenError{Reason: "signature verification failed"}
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &protocol.InvalidTokenError{Reason: "malformed claims"}
	}

	raw, ok := mapClaims["permissions"]
	if !ok {
		return nil, &protocol.InvalidTokenError{Reason: "missing permissions claim"}
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, &protocol.InvalidTokenError{Reason: "malformed permissions claim"}
	}
	var items []interface{}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, &protocol.InvalidTokenError{Reason: "permissions claim is not an array"}
	}

	keys := make([]permissions.Key, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			keys = append(keys, permissions.Key(v))
		case string:
			if key, ok := a.known[v]; ok {
				keys = append(keys, key)
			}
			// Absent entries in the known-permissions table are silently
			// ignored per the authorize contract.
		}
	}

	return a.cached(keys), nil
}

// cached returns a shared handle for an equal permission set, as a caching
// hint (not an invariant): identical content doesn't have to share a
// pointer, but doing so is cheap and matches how the trivially-allow
// authorizer behaves.
func (a *JWTAuthorizer) cached(keys []permissions.Key) *permissions.Set {
	set := permissions.NewSet(keys...)
	cacheKey := fingerprint(set)

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if existing, ok := a.cache[cacheKey]; ok {
		return existing
	}
	a.cache[cacheKey] = set
	return set
}

func fingerprint(s *permissions.Set) string {
	b, _ := json.Marshal(s.Keys())
	return string(b)
}
