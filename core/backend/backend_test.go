package backend_test

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/backend"
	"github.com/relabs-tech/popstats/core/client"
	"github.com/relabs-tech/popstats/core/csql"
	"github.com/relabs-tech/popstats/core/logger"
)

type testBackend struct {
	backend  *backend.Backend
	client   client.Client
	pops     *memPopulations
	users    *memUsers
	upstream *fakeUpstream
	notifier *recordingNotifier
	issuer   *access.Issuer
}

func newTestBackend(t *testing.T, options ...func(*backend.Builder)) *testBackend {
	issuer, err := access.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	tb := &testBackend{
		pops:     &memPopulations{},
		users:    newMemUsers(),
		upstream: &fakeUpstream{body: upstreamBody},
		notifier: &recordingNotifier{},
		issuer:   issuer,
	}
	builder := &backend.Builder{
		Router:      mux.NewRouter(),
		Populations: tb.pops,
		Users:       tb.users,
		Upstream:    tb.upstream,
		Notifier:    tb.notifier,
		Issuer:      issuer,
		Environment: "test",
	}
	for _, option := range options {
		option(builder)
	}
	tb.backend = backend.New(builder)
	tb.client = client.NewWithRouter(tb.backend.Router())
	return tb
}

type envelope struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	var e envelope
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e
}

func TestBuilderMandatoryFields(t *testing.T) {
	issuer, err := access.NewIssuer("s", time.Hour)
	require.NoError(t, err)
	assert.Panics(t, func() { backend.New(&backend.Builder{Issuer: issuer}) })
	assert.Panics(t, func() { backend.New(&backend.Builder{Router: mux.NewRouter()}) })
	assert.Panics(t, func() { backend.New(&backend.Builder{Router: mux.NewRouter(), Issuer: issuer}) })
}

// TestVersion verifies that the /api/version endpoint works
func TestVersion(t *testing.T) {
	tb := newTestBackend(t)
	var version struct {
		Version string `json:"version"`
	}
	_, err := tb.client.RawGet("/api/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "unset", version.Version)

	backend.Version = "another version"
	defer func() { backend.Version = "unset" }()

	_, err = tb.client.RawGet("/api/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "another version", version.Version)
}

func TestInfo(t *testing.T) {
	tb := newTestBackend(t)
	var raw []byte
	_, err := tb.client.RawGet("/api", &raw)
	require.NoError(t, err)
	e := decodeEnvelope(t, raw)
	assert.True(t, e.Success)
	assert.Contains(t, string(e.Data), "GET /api/population/tree")
}

func TestHealth(t *testing.T) {
	tb := newTestBackend(t)
	var raw []byte
	_, err := tb.client.RawGet("/api/health", &raw)
	require.NoError(t, err)

	var h struct {
		Status      string  `json:"status"`
		Environment string  `json:"environment"`
		Uptime      float64 `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &h))
	assert.Equal(t, "OK", h.Status)
	assert.Equal(t, "test", h.Environment)
	assert.GreaterOrEqual(t, h.Uptime, 0.0)
}

func newPingDB(t *testing.T, pingErr error) *csql.DB {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing().WillReturnError(pingErr)
	return csql.New(db, "test")
}

func TestHealthDatabaseDown(t *testing.T) {
	db := newPingDB(t, errors.New("connection refused"))
	tb := newTestBackend(t, func(b *backend.Builder) { b.DB = db })

	status, _, body, err := tb.client.Do(http.MethodGet, "/api/health", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	e := decodeEnvelope(t, body)
	assert.False(t, e.Success)
	assert.Equal(t, "error", e.Status)
}

func TestHealthDatabaseUp(t *testing.T) {
	db := newPingDB(t, nil)
	tb := newTestBackend(t, func(b *backend.Builder) { b.DB = db })

	var raw []byte
	_, err := tb.client.RawGet("/api/health", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"database":"up"`)
}

func TestNotFound(t *testing.T) {
	tb := newTestBackend(t)
	for _, path := range []string{"/nothing", "/api/nothing"} {
		status, _, body, err := tb.client.Do(http.MethodGet, path, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, status)
		e := decodeEnvelope(t, body)
		assert.False(t, e.Success)
		assert.Equal(t, "fail", e.Status)
		assert.Equal(t, "Route "+path+" not found", e.Message)
	}
}

func TestRequestID(t *testing.T) {
	tb := newTestBackend(t)
	_, header, err := tb.client.RawGetWithHeader("/api/version", nil, nil)
	require.NoError(t, err)
	assert.Len(t, header.Get(logger.RequestIDHeader), 36)
}

func TestCORS(t *testing.T) {
	tb := newTestBackend(t)
	status, header, _, err := tb.client.Do(http.MethodOptions, "/api/population", map[string]string{"Origin": "http://localhost:3000"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, header.Get("Access-Control-Allow-Methods"), "PUT")
}

func TestCORSOriginList(t *testing.T) {
	tb := newTestBackend(t, func(b *backend.Builder) { b.CORSOrigin = "http://localhost:3000, https://popstats.example" })

	_, header, err := tb.client.RawGetWithHeader("/api/version", map[string]string{"Origin": "https://popstats.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://popstats.example", header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", header.Get("Access-Control-Allow-Credentials"))

	_, header, err = tb.client.RawGetWithHeader("/api/version", map[string]string{"Origin": "https://evil.example"}, nil)
	require.NoError(t, err)
	assert.Empty(t, header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	tb := newTestBackend(t, func(b *backend.Builder) {
		b.RateLimitWindow = time.Minute
		b.RateLimitMax = 2
	})
	c := tb.client.WithHeader("X-Forwarded-For", "203.0.113.7")

	for i := 0; i < 2; i++ {
		_, header, err := c.RawGetWithHeader("/api/version", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "2", header.Get("RateLimit-Limit"))
	}
	status, header, body, err := c.Do(http.MethodGet, "/api/version", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "0", header.Get("RateLimit-Remaining"))
	assert.NotEmpty(t, header.Get("Retry-After"))
	assert.Contains(t, decodeEnvelope(t, body).Message, "Too many requests")

	// other clients are not affected
	_, err = tb.client.WithHeader("X-Forwarded-For", "203.0.113.8").RawGet("/api/version", nil)
	assert.NoError(t, err)
}

func TestMetrics(t *testing.T) {
	tb := newTestBackend(t)
	_, err := tb.client.RawGet("/api/version", nil)
	require.NoError(t, err)

	var raw []byte
	_, err = tb.client.RawGet("/metrics", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `popstats_http_requests_total{method="GET",path="/api/version",status="200"} 1`)
}

func TestCompression(t *testing.T) {
	tb := newTestBackend(t)
	status, header, body, err := tb.client.Do(http.MethodGet, "/api", map[string]string{"Accept-Encoding": "gzip"}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "gzip", header.Get("Content-Encoding"))

	reader, err := gzip.NewReader(strings.NewReader(string(body)))
	require.NoError(t, err)
	plain, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, decodeEnvelope(t, plain).Success)
}

func TestAuthorizationRoute(t *testing.T) {
	tb := newTestBackend(t)
	status, err := tb.client.RawGet("/api/authorization", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	var auth access.Authorization
	_, err = tb.client.WithRole("moderator").RawGet("/api/authorization", &auth)
	require.NoError(t, err)
	assert.True(t, auth.HasRole("moderator"))
}

func TestStoresOnDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec(`CREATE table IF NOT EXISTS "test"."population"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE table IF NOT EXISTS "test"."user"`).WillReturnResult(sqlmock.NewResult(0, 0))

	issuer, err := access.NewIssuer("s", time.Hour)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		backend.New(&backend.Builder{Router: mux.NewRouter(), Issuer: issuer, DB: csql.New(db, "test")})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
