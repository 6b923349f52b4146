package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// errors returned by Parse
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// DefaultExpiresIn is the token lifetime if none is configured
const DefaultExpiresIn = 7 * 24 * time.Hour

// Claims are the claims of an access token
type Claims struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
	jwt.RegisteredClaims
}

// Authorization returns the authorization the claims stand for
func (c *Claims) Authorization() *Authorization {
	return &Authorization{UserID: c.ID, Email: c.Email, Roles: []string{c.Role}}
}

// Issuer issues and verifies HS256 signed access tokens
type Issuer struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

// NewIssuer returns an issuer signing with secret. A zero expiresIn selects
// DefaultExpiresIn.
func NewIssuer(secret string, expiresIn time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	return &Issuer{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}, nil
}

// Issue returns a signed token for the user and its expiry time
func (i *Issuer) Issue(id uuid.UUID, email, role string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.expiresIn)
	claims := Claims{
		ID:    id,
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Parse verifies tokenString and returns its claims. Expired tokens yield
// ErrTokenExpired, all other failures ErrInvalidToken.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	var claims Claims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	if !token.Valid || claims.ID == uuid.Nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
