package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/accounts"
	"github.com/relabs-tech/popstats/core/csql"
	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/logger"
	"github.com/relabs-tech/popstats/core/notify"
	"github.com/relabs-tech/popstats/core/population"
	"github.com/relabs-tech/popstats/core/registry"
	"github.com/relabs-tech/popstats/core/schema"
	"github.com/relabs-tech/popstats/core/snapshot"
)

// PopulationStore persists population records. It is implemented by
// population.Store.
type PopulationStore interface {
	Upsert(ctx context.Context, records []population.Record) (int, error)
	List(ctx context.Context, opts population.ListOptions) ([]population.Record, int, error)
	Range(ctx context.Context, startYear, endYear int) ([]population.Record, error)
	All(ctx context.Context) ([]population.Record, error)
}

// UserStore persists user accounts. It is implemented by accounts.Store.
type UserStore interface {
	Create(ctx context.Context, u *accounts.User) error
	ByEmail(ctx context.Context, email string) (*accounts.User, error)
	ByID(ctx context.Context, id uuid.UUID) (*accounts.User, error)
	UpdateProfile(ctx context.Context, u *accounts.User) error
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Upstream fetches the public dataset. It is implemented by datausa.Client.
type Upstream interface {
	Fetch(ctx context.Context) (*datausa.Response, error)
}

// Pinger reports whether the database is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Backend is the popstats REST backend
type Backend struct {
	router      *mux.Router
	api         *mux.Router
	db          Pinger
	populations PopulationStore
	users       UserStore
	upstream    Upstream
	cache       registry.Accessor
	hasCache    bool
	snapshots   snapshot.Driver
	notifier    core.Notifier
	validator   *schema.Validator
	issuer      *access.Issuer
	tokens      *access.AuthorizationCache
	cookieName  string
	environment string
	started     time.Time
	now         func() time.Time
	limiter     *rateLimiter
	metrics     *metrics
	corsOrigin  string
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is the postgres database. When set, Populations, Users and Registry
	// default to stores on this database and the health route pings it.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Populations stores population records. Mandatory unless DB is set.
	Populations PopulationStore
	// Users stores user accounts. Mandatory unless DB is set.
	Users UserStore
	// Issuer signs and verifies tokens. This is mandatory.
	Issuer *access.Issuer
	// Tokens caches authorizations and revoked tokens. Optional.
	Tokens *access.AuthorizationCache
	// Upstream fetches the DataUSA dataset. Defaults to datausa.New("").
	Upstream Upstream
	// Registry caches the last upstream dataset. Optional.
	Registry *registry.Registry
	// Snapshots archives raw upstream payloads. Optional.
	Snapshots snapshot.Driver
	// Notifier receives change events. Optional.
	Notifier core.Notifier
	// CORSOrigin is the comma separated list of allowed origins. Defaults to "*".
	CORSOrigin string
	// RateLimitWindow and RateLimitMax limit the requests per client. A zero
	// RateLimitMax disables rate limiting.
	RateLimitWindow time.Duration
	RateLimitMax    int
	// Environment is reported by the health route, e.g. "development"
	Environment string
}

// New realizes the actual backend. It creates the sql tables (if they do not
// exist) and adds all routes to the router.
func New(bb *Builder) *Backend {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Issuer == nil {
		panic("Issuer is missing")
	}

	b := &Backend{
		router:      bb.Router,
		populations: bb.Populations,
		users:       bb.Users,
		upstream:    bb.Upstream,
		snapshots:   bb.Snapshots,
		notifier:    bb.Notifier,
		issuer:      bb.Issuer,
		tokens:      bb.Tokens,
		cookieName:  access.DefaultCookieName,
		environment: bb.Environment,
		corsOrigin:  bb.CORSOrigin,
		started:     time.Now(),
		now:         time.Now,
	}

	ctx := context.Background()
	if bb.DB != nil {
		b.db = bb.DB
		if b.populations == nil {
			store := population.NewStore(bb.DB)
			if err := store.EnsureSchema(ctx); err != nil {
				panic(err)
			}
			b.populations = store
		}
		if b.users == nil {
			store := accounts.NewStore(bb.DB)
			if err := store.EnsureSchema(ctx); err != nil {
				panic(err)
			}
			b.users = store
		}
	}
	if b.populations == nil {
		panic("Populations is missing")
	}
	if b.users == nil {
		panic("Users is missing")
	}
	if b.upstream == nil {
		b.upstream = datausa.New("")
	}
	if bb.Registry != nil {
		b.cache = bb.Registry.Accessor("datausa")
		b.hasCache = true
	}
	if b.notifier == nil {
		b.notifier = notify.Nop{}
	}
	if b.tokens == nil {
		b.tokens = access.NewAuthorizationCache()
	}
	if b.environment == "" {
		b.environment = "development"
	}
	if b.corsOrigin == "" {
		b.corsOrigin = "*"
	}

	validator, err := schema.NewValidatorFromFS(schemaFS())
	if err != nil {
		panic(err)
	}
	b.validator = validator

	if bb.RateLimitMax > 0 {
		b.limiter = newRateLimiter(bb.RateLimitWindow, bb.RateLimitMax)
	}
	b.metrics = newMetrics()

	b.handleRoutes()
	return b
}

func (b *Backend) handleRoutes() {
	logger.AddRequestID(b.router)
	b.router.Use(b.metrics.middleware)
	b.handleCORS(b.router)
	b.handleMetrics(b.router)

	b.api = b.router.PathPrefix("/api").Subrouter()
	if b.limiter != nil {
		b.api.Use(b.limiter.middleware)
	}
	b.handleCompression(b.api)
	b.api.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Issuer:     b.issuer,
		Cache:      b.tokens,
		CookieName: b.cookieName,
		OnError:    respondFail,
	}))

	b.handleInfo(b.api)
	b.handleHealth(b.api)
	b.handleVersion(b.api)
	access.HandleAuthorizationRoute(b.api)
	b.handleAuth(b.api)
	b.handlePopulation(b.api)

	b.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondFail(w, r, http.StatusNotFound, "Route "+r.URL.Path+" not found")
	})
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Handler returns the router wrapped with the access log
func (b *Backend) Handler() http.Handler {
	return accessLog(b.router)
}
