/*
Package access provides authentication and authorization for HTTP requests
*/
package access

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAuthorization contextKey = "_authorization_"

/*
Authorization is a context object which stores authorization information
for an authenticated user.

Authorizations are added to a request context with

	ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := access.AuthorizationFromContext(ctx)

The JWT middleware adds them for valid bearer tokens or session cookies.
*/
type Authorization struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Roles  []string  `json:"roles"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the authorization contains at least one of roles
func (a *Authorization) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with auth added to it
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, _ := ctx.Value(contextKeyAuthorization).(*Authorization)
	return a
}

type cacheEntry struct {
	auth    *Authorization
	revoked bool
	expires time.Time
}

// AuthorizationCache is an in-memory cache for authorizations keyed by token.
// It spares the JWT middleware the signature check for known tokens and
// remembers revoked tokens until they expire.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]cacheEntry), now: time.Now}
}

// Read returns the cached authorization for token, or nil. The second return
// value is true if the token has been revoked.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) (*Authorization, bool) {
	a.mutex.RLock()
	entry, ok := a.cache[token]
	a.mutex.RUnlock()
	if !ok || a.now().After(entry.expires) {
		return nil, false
	}
	if entry.revoked {
		return nil, true
	}
	return entry.auth, false
}

// Write stores an authorization for token until expires.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization, expires time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.purge()
	if entry, ok := a.cache[token]; ok && entry.revoked {
		return
	}
	a.cache[token] = cacheEntry{auth: auth, expires: expires}
}

// Revoke marks token as revoked until expires.
// This function is go-routine safe
func (a *AuthorizationCache) Revoke(token string, expires time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.purge()
	a.cache[token] = cacheEntry{revoked: true, expires: expires}
}

// Len returns the number of cached tokens
func (a *AuthorizationCache) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.cache)
}

// purge drops expired entries. Must be called with the write lock held.
func (a *AuthorizationCache) purge() {
	if len(a.cache) < 1024 {
		return
	}
	now := a.now()
	for token, entry := range a.cache {
		if now.After(entry.expires) {
			delete(a.cache, token)
		}
	}
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for the provided token, or
// 204 No Content if the request is not authenticated.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodOptions, http.MethodGet)
}
