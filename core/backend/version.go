package backend

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core/logger"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /api/version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(map[string]string{"version": Version})
		writeJSON(w, http.StatusOK, data)
	}).Methods(http.MethodOptions, http.MethodGet)
}
