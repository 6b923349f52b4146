package backend_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	FullName  string  `json:"fullName"`
	Role      string  `json:"role"`
	LastLogin *string `json:"lastLogin"`
}

type userWithToken struct {
	User  profile `json:"user"`
	Token string  `json:"token"`
}

func register(t *testing.T, tb *testBackend, email, password string) userWithToken {
	var raw []byte
	status, err := tb.client.RawPost("/api/auth/register", map[string]string{
		"email":     email,
		"password":  password,
		"firstName": "Ada",
		"lastName":  "Lovelace",
	}, &raw)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)

	var result userWithToken
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &result))
	return result
}

func TestRegister(t *testing.T) {
	tb := newTestBackend(t)
	result := register(t, tb, "Ada@Example.com", "secret123")
	assert.Equal(t, "ada@example.com", result.User.Email)
	assert.Equal(t, "Ada Lovelace", result.User.FullName)
	assert.Equal(t, "user", result.User.Role)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, []string{"user/create"}, tb.notifier.names())

	// the token is usable right away
	var raw []byte
	_, err := tb.client.WithToken(result.Token).RawGet("/api/auth/me", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ada@example.com")
}

func TestRegisterSetsCookie(t *testing.T) {
	tb := newTestBackend(t)
	status, header, _, err := tb.client.Do(http.MethodPost, "/api/auth/register", nil, map[string]string{
		"email":     "ada@example.com",
		"password":  "secret123",
		"firstName": "Ada",
		"lastName":  "Lovelace",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	cookie := header.Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(cookie, "popstats-jwt="), cookie)
	assert.Contains(t, cookie, "HttpOnly")
}

func TestRegisterFailures(t *testing.T) {
	tb := newTestBackend(t)
	register(t, tb, "ada@example.com", "secret123")

	tests := []struct {
		name    string
		body    map[string]string
		message string
	}{
		{
			name:    "duplicate email",
			body:    map[string]string{"email": "ADA@example.com", "password": "secret123", "firstName": "A", "lastName": "L"},
			message: "User with this email already exists",
		},
		{
			name:    "missing last name",
			body:    map[string]string{"email": "bob@example.com", "password": "secret123", "firstName": "Bob"},
			message: "Validation failed: ",
		},
		{
			name:    "invalid email",
			body:    map[string]string{"email": "bob", "password": "secret123", "firstName": "Bob", "lastName": "B"},
			message: "Validation failed: ",
		},
		{
			name:    "password without digit",
			body:    map[string]string{"email": "bob@example.com", "password": "secretsecret", "firstName": "Bob", "lastName": "B"},
			message: "Validation failed: password",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, body, err := tb.client.Do(http.MethodPost, "/api/auth/register", nil, tt.body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, status)
			e := decodeEnvelope(t, body)
			assert.False(t, e.Success)
			assert.Equal(t, "fail", e.Status)
			assert.True(t, strings.HasPrefix(e.Message, tt.message), e.Message)
		})
	}
	assert.Equal(t, []string{"user/create"}, tb.notifier.names())
}

func TestLogin(t *testing.T) {
	tb := newTestBackend(t)
	register(t, tb, "ada@example.com", "secret123")

	var raw []byte
	_, err := tb.client.RawPost("/api/auth/login", map[string]string{"email": "ada@example.com", "password": "secret123"}, &raw)
	require.NoError(t, err)
	var result userWithToken
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &result))
	assert.NotEmpty(t, result.Token)
	assert.NotNil(t, result.User.LastLogin)

	for _, password := range []string{"wrong1234", ""} {
		status, _, body, err := tb.client.Do(http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "ada@example.com", "password": password})
		require.NoError(t, err)
		if password == "" {
			assert.Equal(t, http.StatusBadRequest, status)
			continue
		}
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "Invalid email or password", decodeEnvelope(t, body).Message)
	}

	status, _, body, err := tb.client.Do(http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "nobody@example.com", "password": "secret123"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid email or password", decodeEnvelope(t, body).Message)
}

func TestLoginDeactivated(t *testing.T) {
	tb := newTestBackend(t)
	register(t, tb, "ada@example.com", "secret123")
	tb.users.deactivate("ada@example.com")

	status, _, body, err := tb.client.Do(http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "ada@example.com", "password": "secret123"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, decodeEnvelope(t, body).Message, "deactivated")
}

func TestMe(t *testing.T) {
	tb := newTestBackend(t)

	status, _, body, err := tb.client.Do(http.MethodGet, "/api/auth/me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Not authorized. Please log in to access this resource.", decodeEnvelope(t, body).Message)

	status, _, body, err = tb.client.WithToken("not-a-token").Do(http.MethodGet, "/api/auth/me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid token. Please log in again.", decodeEnvelope(t, body).Message)

	// a valid authorization for an unknown user
	status, _, body, err = tb.client.WithRole("user").Do(http.MethodGet, "/api/auth/me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "User belonging to this token no longer exists.", decodeEnvelope(t, body).Message)
}

func TestDeactivatedUserToken(t *testing.T) {
	tb := newTestBackend(t)
	result := register(t, tb, "ada@example.com", "secret123")
	c := tb.client.WithToken(result.Token)

	_, err := c.RawGet("/api/auth/me", nil)
	require.NoError(t, err)

	tb.users.deactivate("ada@example.com")
	requests := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/auth/me", nil},
		{http.MethodPut, "/api/auth/update-profile", map[string]string{"firstName": "Augusta"}},
		{http.MethodPut, "/api/auth/change-password", map[string]string{"currentPassword": "secret123", "newPassword": "secret456"}},
		{http.MethodPost, "/api/auth/logout", nil},
	}
	for _, req := range requests {
		status, _, body, err := c.Do(req.method, req.path, nil, req.body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, status, req.path)
		assert.Equal(t, "User account has been deactivated.", decodeEnvelope(t, body).Message, req.path)
	}
}

func TestMeWithCookie(t *testing.T) {
	tb := newTestBackend(t)
	result := register(t, tb, "ada@example.com", "secret123")

	var raw []byte
	_, err := tb.client.WithHeader("Cookie", "popstats-jwt="+result.Token).RawGet("/api/auth/me", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ada@example.com")
}

func TestUpdateProfile(t *testing.T) {
	tb := newTestBackend(t)
	register(t, tb, "bob@example.com", "secret123")
	result := register(t, tb, "ada@example.com", "secret123")
	c := tb.client.WithToken(result.Token)

	var raw []byte
	_, err := c.RawPut("/api/auth/update-profile", map[string]string{"firstName": " Augusta "}, &raw)
	require.NoError(t, err)
	var updated struct {
		User profile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &updated))
	assert.Equal(t, "Augusta", updated.User.FirstName)
	assert.Equal(t, "Lovelace", updated.User.LastName)
	assert.Equal(t, "ada@example.com", updated.User.Email)

	status, _, body, err := c.Do(http.MethodPut, "/api/auth/update-profile", nil, map[string]string{"email": "BOB@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email is already in use", decodeEnvelope(t, body).Message)

	status, _, _, err = c.Do(http.MethodPut, "/api/auth/update-profile", nil, map[string]string{"firstName": "   "})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, []string{"user/create", "user/create", "user/update"}, tb.notifier.names())
}

func TestChangePassword(t *testing.T) {
	tb := newTestBackend(t)
	result := register(t, tb, "ada@example.com", "secret123")
	c := tb.client.WithToken(result.Token)

	status, _, body, err := c.Do(http.MethodPut, "/api/auth/change-password", nil, map[string]string{
		"currentPassword": "wrong1234",
		"newPassword":     "another123",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Current password is incorrect", decodeEnvelope(t, body).Message)

	status, _, _, err = c.Do(http.MethodPut, "/api/auth/change-password", nil, map[string]string{
		"currentPassword": "secret123",
		"newPassword":     "short1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	var raw []byte
	_, err = c.RawPut("/api/auth/change-password", map[string]string{
		"currentPassword": "secret123",
		"newPassword":     "another123",
	}, &raw)
	require.NoError(t, err)
	var changed struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &changed))
	require.NotEmpty(t, changed.Token)
	assert.NotEqual(t, result.Token, changed.Token)

	// the old token is revoked, the new one works
	status, _, body, err = c.Do(http.MethodGet, "/api/auth/me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has been revoked. Please log in again.", decodeEnvelope(t, body).Message)
	_, err = tb.client.WithToken(changed.Token).RawGet("/api/auth/me", nil)
	assert.NoError(t, err)

	// only the new password logs in
	_, err = tb.client.RawPost("/api/auth/login", map[string]string{"email": "ada@example.com", "password": "another123"}, nil)
	assert.NoError(t, err)
	status, _, _, err = tb.client.Do(http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "ada@example.com", "password": "secret123"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout(t *testing.T) {
	tb := newTestBackend(t)
	result := register(t, tb, "ada@example.com", "secret123")
	c := tb.client.WithToken(result.Token)

	status, header, body, err := c.Do(http.MethodPost, "/api/auth/logout", nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Logged out successfully", decodeEnvelope(t, body).Message)
	assert.Contains(t, header.Get("Set-Cookie"), "Max-Age=0")

	status, _, _, err = c.Do(http.MethodGet, "/api/auth/me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	// logout requires a login
	status, _, _, err = tb.client.Do(http.MethodPost, "/api/auth/logout", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
}
