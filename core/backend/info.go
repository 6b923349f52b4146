package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core/logger"
)

type apiInfo struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Endpoints   map[string]interface{} `json:"endpoints"`
}

func (b *Backend) handleInfo(router *mux.Router) {
	logger.Default().Debugln("info")
	logger.Default().Debugln("  handle info route: /api GET")
	info := apiInfo{
		Name:        "popstats",
		Version:     Version,
		Description: "Population statistics from the DataUSA API",
		Endpoints: map[string]interface{}{
			"auth": map[string]string{
				"register":       "POST /api/auth/register",
				"login":          "POST /api/auth/login",
				"me":             "GET /api/auth/me",
				"updateProfile":  "PUT /api/auth/update-profile",
				"changePassword": "PUT /api/auth/change-password",
				"logout":         "POST /api/auth/logout",
			},
			"population": map[string]string{
				"getAll":    "GET /api/population",
				"fetch":     "GET /api/population/fetch",
				"direct":    "GET /api/population/direct",
				"tree":      "GET /api/population/tree",
				"stats":     "GET /api/population/stats",
				"range":     "GET /api/population/range",
				"snapshots": "GET /api/population/snapshots",
			},
			"health":  "GET /api/health",
			"version": "GET /api/version",
			"metrics": "GET /metrics",
		},
	}
	handler := func(w http.ResponseWriter, r *http.Request) {
		current := info
		current.Version = Version
		respond(w, r, http.StatusOK, "popstats API", current)
	}
	router.HandleFunc("", handler).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/", handler).Methods(http.MethodOptions, http.MethodGet)
}

type health struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
	Database    string    `json:"database"`
}

func (b *Backend) handleHealth(router *mux.Router) {
	logger.Default().Debugln("health")
	logger.Default().Debugln("  handle health route: /api/health GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := health{
			Status:      "OK",
			Timestamp:   b.now().UTC(),
			Uptime:      time.Since(b.started).Seconds(),
			Environment: b.environment,
			Version:     Version,
			Database:    "unknown",
		}
		if b.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := b.db.PingContext(ctx); err != nil {
				logger.FromContext(r.Context()).WithError(err).Errorln("Error 5010: database ping")
				h.Status = "UNAVAILABLE"
				h.Database = "down"
				body, _ := json.Marshal(envelope{Status: "error", Message: "database is not reachable", Data: h})
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
			h.Database = "up"
		}
		respond(w, r, http.StatusOK, "popstats API is running", h)
	}).Methods(http.MethodOptions, http.MethodGet)
}
