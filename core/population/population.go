/*
Package population stores yearly population records per nation

Records are unique per nation and year. They are imported from the DataUSA
API and read back paginated, by year range, or in full for the tree and
statistics views.
*/
package population

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/popstats/core/hierarchy"
)

// Record is the population of one nation in one year
type Record struct {
	ID         uuid.UUID `json:"id"`
	IDNation   string    `json:"idNation"`
	Nation     string    `json:"nation"`
	IDYear     int       `json:"idYear"`
	Year       int       `json:"year"`
	Population int64     `json:"population"`
	SlugNation string    `json:"slugNation"`
	Source     string    `json:"source"`
	FetchedAt  time.Time `json:"fetchedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Slug returns the url friendly form of a nation name,
// e.g. "United States" becomes "united-states"
func Slug(nation string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(nation)), " ", "-")
}

// ToHierarchy converts records into aggregator input, keeping their order
func ToHierarchy(records []Record) []hierarchy.Record {
	result := make([]hierarchy.Record, 0, len(records))
	for _, r := range records {
		result = append(result, hierarchy.Record{
			EntityID:   r.IDNation,
			EntityName: r.Nation,
			Year:       r.Year,
			Metric:     float64(r.Population),
		})
	}
	return result
}

// YearValue is one point of a nation's time series
type YearValue struct {
	Year       int   `json:"year"`
	Population int64 `json:"population"`
}

// NationSeries is the time series of one nation, ascending by year
type NationSeries struct {
	IDNation string      `json:"idNation"`
	Nation   string      `json:"nation"`
	Data     []YearValue `json:"data"`
}

// YearlyByNation groups records per nation. Series are sorted by nation name,
// data points ascending by year.
func YearlyByNation(records []Record) []NationSeries {
	index := map[string]int{}
	series := []NationSeries{}
	for _, r := range records {
		i, ok := index[r.IDNation]
		if !ok {
			i = len(series)
			index[r.IDNation] = i
			series = append(series, NationSeries{IDNation: r.IDNation, Nation: r.Nation})
		}
		series[i].Data = append(series[i].Data, YearValue{Year: r.Year, Population: r.Population})
	}
	for i := range series {
		data := series[i].Data
		sort.Slice(data, func(a, b int) bool { return data[a].Year < data[b].Year })
	}
	sort.SliceStable(series, func(a, b int) bool { return series[a].Nation < series[b].Nation })
	return series
}
