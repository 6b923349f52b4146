package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/hierarchy"
	"github.com/relabs-tech/popstats/core/logger"
	"github.com/relabs-tech/popstats/core/population"
	"github.com/relabs-tech/popstats/core/schema"
)

// envelope is the body of every API response
type envelope struct {
	Success bool        `json:"success"`
	Status  string      `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// respond writes a success envelope
func respond(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}) {
	body, err := json.Marshal(envelope{Success: true, Message: message, Data: data})
	if err != nil {
		respondInternal(w, r, "Error 5001", err)
		return
	}
	writeJSON(w, status, body)
}

// respondWithEtag writes a success envelope with an Etag header. If the
// request's If-None-Match matches, only http.StatusNotModified is sent.
func respondWithEtag(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(envelope{Success: true, Data: data})
	if err != nil {
		respondInternal(w, r, "Error 5002", err)
		return
	}
	etag := bytesToEtag(body)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// respondFail writes an error envelope. The status is "fail" for client
// errors and "error" for server errors.
func respondFail(w http.ResponseWriter, r *http.Request, status int, message string) {
	e := envelope{Status: "fail", Message: message}
	if status >= 500 {
		e.Status = "error"
	}
	body, _ := json.Marshal(e)
	writeJSON(w, status, body)
}

// respondInternal logs err under code and answers with 500. The error
// itself is not exposed.
func respondInternal(w http.ResponseWriter, r *http.Request, code string, err error) {
	logger.FromContext(r.Context()).WithError(err).Errorln(code)
	respondFail(w, r, http.StatusInternalServerError, code)
}

// respondError maps known error types to their status code. All other
// errors are internal.
func respondError(w http.ResponseWriter, r *http.Request, code string, err error) {
	rlog := logger.FromContext(r.Context())

	var parameterErr *population.ParameterError
	var validationErr *schema.ValidationError
	var qualityErr *hierarchy.DataQualityError
	var upstreamErr *datausa.UpstreamError
	switch {
	case errors.As(err, &parameterErr):
		respondFail(w, r, http.StatusBadRequest, parameterErr.Error())
	case errors.As(err, &validationErr):
		respondFail(w, r, http.StatusBadRequest, "Validation failed: "+strings.Join(validationErr.Details, ", "))
	case errors.As(err, &qualityErr):
		rlog.WithError(err).Warnln(code)
		respondFail(w, r, http.StatusUnprocessableEntity, qualityErr.Error())
	case errors.As(err, &upstreamErr):
		rlog.WithError(err).Errorln(code)
		respondFail(w, r, http.StatusBadGateway, "Failed to fetch population data from external API")
	default:
		respondInternal(w, r, code, err)
	}
}

// bytesToEtag returns a strong etag for data
func bytesToEtag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	t := strings.Trim(etag, " \"")
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.TrimPrefix(strings.Trim(s, " "), "W/")
		if strings.Trim(s, "\"") == t {
			return true
		}
	}
	return false
}

func setPaginationHeaders(w http.ResponseWriter, opts population.ListOptions, totalCount int) {
	w.Header().Set("Pagination-Limit", strconv.Itoa(opts.Limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(opts.PageCount(totalCount)))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(opts.Page))
}
