package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/hierarchy"
	"github.com/relabs-tech/popstats/core/logger"
	"github.com/relabs-tech/popstats/core/population"
	"github.com/relabs-tech/popstats/core/snapshot"
)

// registry keys below the "datausa" prefix
const (
	cacheKeyLatest    = "latest"
	cacheKeyLastFetch = "last_fetch"
)

type pagination struct {
	CurrentPage    int `json:"currentPage"`
	TotalPages     int `json:"totalPages"`
	TotalRecords   int `json:"totalRecords"`
	RecordsPerPage int `json:"recordsPerPage"`
}

type listResponse struct {
	Records    []population.Record `json:"records"`
	Pagination pagination          `json:"pagination"`
}

type fetchResponse struct {
	Count    int                 `json:"count"`
	Records  []population.Record `json:"records"`
	Source   datausa.Annotations `json:"source"`
	Snapshot string              `json:"snapshot,omitempty"`
}

// lastFetch is stored in the registry after every fetch
type lastFetch struct {
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetchedAt"`
	Snapshot  string    `json:"snapshot,omitempty"`
}

type directResponse struct {
	Records   []population.Direct `json:"records"`
	Source    datausa.Annotations `json:"source"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

type yearRange struct {
	StartYear int `json:"startYear"`
	EndYear   int `json:"endYear"`
}

type rangeResponse struct {
	Records   []population.Record `json:"records"`
	YearRange yearRange           `json:"yearRange"`
	Count     int                 `json:"count"`
}

type statsResponse struct {
	Summary    hierarchy.Summary         `json:"summary"`
	YearlyData []population.NationSeries `json:"yearlyData"`
	LastFetch  *lastFetch                `json:"lastFetch,omitempty"`
}

type snapshotsResponse struct {
	Enabled bool     `json:"enabled"`
	Keys    []string `json:"keys"`
}

func (b *Backend) handlePopulation(router *mux.Router) {
	logger.Default().Debugln("population")
	logger.Default().Debugln("  handle population routes: /api/population GET")
	logger.Default().Debugln("  handle population routes: /api/population/{fetch,direct,tree,stats,range,snapshots} GET")

	router.HandleFunc("/population", b.listPopulation).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/fetch", b.fetchPopulation).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/direct", b.directPopulation).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/tree", b.populationTree).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/stats", b.populationStats).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/range", b.populationRange).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/population/snapshots", b.withAuthorization(b.populationSnapshots)).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) listPopulation(w http.ResponseWriter, r *http.Request) {
	opts, err := population.ParseListOptions(r.URL.Query())
	if err != nil {
		respondError(w, r, "Error 4101", err)
		return
	}
	records, total, err := b.populations.List(r.Context(), opts)
	if err != nil {
		respondInternal(w, r, "Error 5102", err)
		return
	}
	setPaginationHeaders(w, opts, total)
	respond(w, r, http.StatusOK, "", listResponse{
		Records: records,
		Pagination: pagination{
			CurrentPage:    opts.Page,
			TotalPages:     opts.PageCount(total),
			TotalRecords:   total,
			RecordsPerPage: opts.Limit,
		},
	})
}

// fetchUpstream fetches the dataset and counts the result
func (b *Backend) fetchUpstream(ctx context.Context) (*datausa.Response, error) {
	response, err := b.upstream.Fetch(ctx)
	if err != nil {
		b.metrics.upstreamFetches.WithLabelValues("failure").Inc()
		return nil, err
	}
	b.metrics.upstreamFetches.WithLabelValues("success").Inc()
	return response, nil
}

func (b *Backend) fetchPopulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)

	response, err := b.fetchUpstream(ctx)
	if err != nil {
		respondError(w, r, "Error 5103", err)
		return
	}
	now := b.now().UTC()

	var key string
	if b.snapshots != nil {
		key = snapshot.Key("datausa", now)
		if err := b.snapshots.Put(ctx, key, response.Raw); err != nil {
			rlog.WithError(err).Errorln("Error 5104: archive snapshot", key)
			key = ""
		}
	}

	records := response.Records(now)
	count, err := b.populations.Upsert(ctx, records)
	if err != nil {
		respondInternal(w, r, "Error 5105", err)
		return
	}
	b.metrics.recordsUpserted.Add(float64(count))

	info := lastFetch{Count: count, FetchedAt: now, Snapshot: key}
	if b.hasCache {
		if err := b.cache.Write(ctx, cacheKeyLatest, records); err != nil {
			rlog.WithError(err).Errorln("Error 5106: cache dataset")
		}
		if err := b.cache.Write(ctx, cacheKeyLastFetch, info); err != nil {
			rlog.WithError(err).Errorln("Error 5107: cache fetch info")
		}
	}
	payload, _ := json.Marshal(info)
	if err := b.notifier.Notify(ctx, "population", core.OperationCreate, payload); err != nil {
		rlog.WithError(err).Errorln("Error 4803: notify population")
	}

	rlog.Infof("successfully fetched and stored %d records", count)
	respond(w, r, http.StatusOK, "Population data fetched and stored successfully", fetchResponse{
		Count:    count,
		Records:  records,
		Source:   response.Annotations,
		Snapshot: key,
	})
}

func (b *Backend) directPopulation(w http.ResponseWriter, r *http.Request) {
	response, err := b.fetchUpstream(r.Context())
	if err != nil {
		respondError(w, r, "Error 5108", err)
		return
	}
	now := b.now().UTC()
	respond(w, r, http.StatusOK, "Data fetched directly from DataUSA API", directResponse{
		Records:   population.Decorate(response.Records(now)),
		Source:    response.Annotations,
		FetchedAt: now,
	})
}

// treeRecords returns the stored records. Without stored records it falls
// back to the cached dataset and then to the upstream API.
func (b *Backend) treeRecords(ctx context.Context) ([]population.Record, error) {
	rlog := logger.FromContext(ctx)
	records, err := b.populations.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}
	if b.hasCache {
		var cached []population.Record
		if _, err := b.cache.Read(ctx, cacheKeyLatest, &cached); err != nil {
			rlog.WithError(err).Errorln("Error 5109: read cached dataset")
		} else if len(cached) > 0 {
			rlog.Infoln("tree served from cached dataset")
			return cached, nil
		}
	}
	response, err := b.fetchUpstream(ctx)
	if err != nil {
		rlog.WithError(err).Errorln("Error 5110: fetch tree data")
		return nil, nil
	}
	return response.Records(b.now().UTC()), nil
}

func (b *Backend) populationTree(w http.ResponseWriter, r *http.Request) {
	records, err := b.treeRecords(r.Context())
	if err != nil {
		respondInternal(w, r, "Error 5111", err)
		return
	}
	tree, err := hierarchy.Build(population.ToHierarchy(records))
	if err != nil {
		respondError(w, r, "Error 4112", err)
		return
	}
	respondWithEtag(w, r, tree)
}

func (b *Backend) populationStats(w http.ResponseWriter, r *http.Request) {
	records, err := b.populations.All(r.Context())
	if err != nil {
		respondInternal(w, r, "Error 5113", err)
		return
	}
	respondWithEtag(w, r, statsResponse{
		Summary:    hierarchy.Summarize(population.ToHierarchy(records)),
		YearlyData: population.YearlyByNation(records),
		LastFetch:  b.readLastFetch(r.Context()),
	})
}

// readLastFetch returns the info of the last fetch from the registry, or nil
func (b *Backend) readLastFetch(ctx context.Context) *lastFetch {
	if !b.hasCache {
		return nil
	}
	var info lastFetch
	written, err := b.cache.Read(ctx, cacheKeyLastFetch, &info)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 5117: read fetch info")
		return nil
	}
	if written.IsZero() {
		return nil
	}
	return &info
}

func (b *Backend) populationRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := population.ParseRange(r.URL.Query(), b.now())
	if err != nil {
		respondError(w, r, "Error 4114", err)
		return
	}
	records, err := b.populations.Range(r.Context(), start, end)
	if err != nil {
		respondInternal(w, r, "Error 5115", err)
		return
	}
	respond(w, r, http.StatusOK, "", rangeResponse{
		Records:   records,
		YearRange: yearRange{StartYear: start, EndYear: end},
		Count:     len(records),
	})
}

func (b *Backend) populationSnapshots(w http.ResponseWriter, r *http.Request, auth *access.Authorization) {
	if !auth.HasRole("admin") {
		respondFail(w, r, http.StatusForbidden, "You do not have permission to perform this action")
		return
	}
	if b.snapshots == nil {
		respond(w, r, http.StatusOK, "", snapshotsResponse{Keys: []string{}})
		return
	}
	keys, err := b.snapshots.List(r.Context(), "datausa/")
	if err != nil {
		respondInternal(w, r, "Error 5116", err)
		return
	}
	respond(w, r, http.StatusOK, "", snapshotsResponse{Enabled: true, Keys: keys})
}
