package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core/logger"
)

// DefaultCookieName is the cookie which may carry the token instead of the
// Authorization header
const DefaultCookieName = "popstats-jwt"

// JwtMiddlewareBuilder is a helper builder for NewJwtMiddleware
type JwtMiddlewareBuilder struct {
	// Issuer verifies tokens. This is mandatory.
	Issuer *Issuer
	// Cache caches authorizations per token and tracks revoked tokens. Optional.
	Cache *AuthorizationCache
	// CookieName overrides DefaultCookieName. Optional.
	CookieName string
	// OnError writes the response for a rejected token. Defaults to http.Error.
	OnError func(w http.ResponseWriter, r *http.Request, status int, message string)
}

// TokenFromRequest returns the bearer token of the request, taken from the
// Authorization header or, if that is missing, from the cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 7 && strings.EqualFold(bearer[:7], "bearer ") {
			return strings.TrimSpace(bearer[7:])
		}
		return bearer
	}
	if cookie, _ := r.Cookie(cookieName); cookie != nil {
		return cookie.Value
	}
	return ""
}

// NewJwtMiddleware returns a middleware handler to validate
// JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as cookie.
// Requests without a token pass unchanged. A valid token adds the
// authorization and the user's email as logger identity to the request
// context.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but invalid, expired or
// revoked.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if jmb.Issuer == nil {
		panic("Issuer is missing")
	}
	cookieName := jmb.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	cache := jmb.Cache
	if cache == nil {
		cache = NewAuthorizationCache()
	}
	onError := jmb.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}

			tokenString := TokenFromRequest(r, cookieName)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}
			rlog := logger.FromContext(r.Context())

			auth, revoked := cache.Read(tokenString)
			if revoked {
				rlog.Debugln("revoked token used")
				onError(w, r, http.StatusUnauthorized, "Token has been revoked. Please log in again.")
				return
			}
			if auth == nil {
				claims, err := jmb.Issuer.Parse(tokenString)
				if err == ErrTokenExpired {
					onError(w, r, http.StatusUnauthorized, "Token expired. Please log in again.")
					return
				}
				if err != nil {
					rlog.WithError(err).Debugln("token rejected")
					onError(w, r, http.StatusUnauthorized, "Invalid token. Please log in again.")
					return
				}
				auth = claims.Authorization()
				cache.Write(tokenString, auth, claims.ExpiresAt.Time)
			}

			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Email)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
