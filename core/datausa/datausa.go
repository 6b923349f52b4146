/*
Package datausa fetches nation population figures from the DataUSA tesseract API
*/
package datausa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/popstats/core/logger"
	"github.com/relabs-tech/popstats/core/population"
)

// DefaultURL is the DataUSA endpoint for total population per nation and year
const DefaultURL = "https://api.datausa.io/tesseract/data.jsonrecords?cube=pums_5&drilldowns=Year,Nation&measures=Total+Population"

// Source is stored with every imported record
const Source = "DataUSA API"

// UpstreamError is returned when DataUSA answers with a non-2xx status or an
// unusable body
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("datausa: %s (status %d)", e.Message, e.StatusCode)
	}
	return "datausa: " + e.Message
}

// Client is a DataUSA API client
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// New returns a client for url. An empty url selects DefaultURL.
func New(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// Annotations describe the upstream dataset
type Annotations map[string]interface{}

// Item is one row of the upstream response
type Item struct {
	NationID        string   `json:"Nation ID"`
	Nation          string   `json:"Nation"`
	Year            flexInt  `json:"Year"`
	TotalPopulation flexReal `json:"Total Population"`
}

// Response is the decoded upstream response
type Response struct {
	Annotations Annotations `json:"annotations"`
	Page        struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Total  int `json:"total"`
	} `json:"page"`
	Data []Item `json:"data"`
	// Raw holds the undecoded body, for archiving
	Raw []byte `json:"-"`
}

// Fetch requests the dataset. Items without nation id or nation name are
// dropped.
func (c *Client) Fetch(ctx context.Context) (*Response, error) {
	rlog := logger.FromContext(ctx)
	rlog.Infoln("fetching data from DataUSA:", c.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: res.StatusCode, Message: err.Error()}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: res.StatusCode, Message: "failed to fetch data: " + http.StatusText(res.StatusCode)}
	}

	response, err := Decode(body)
	if err != nil {
		return nil, err
	}
	rlog.Infof("received %d items from DataUSA", len(response.Data))
	return response, nil
}

// Decode parses an upstream body, e.g. one restored from an archive
func Decode(body []byte) (*Response, error) {
	var response Response
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&response); err != nil {
		return nil, &UpstreamError{Message: "invalid response: " + err.Error()}
	}
	if response.Data == nil {
		return nil, &UpstreamError{Message: "invalid response: no data"}
	}
	valid := response.Data[:0]
	for _, item := range response.Data {
		if item.NationID != "" && item.Nation != "" {
			valid = append(valid, item)
		}
	}
	response.Data = valid
	response.Raw = body
	return &response, nil
}

// Records converts the response into population records fetched at now
func (r *Response) Records(now time.Time) []population.Record {
	records := make([]population.Record, 0, len(r.Data))
	for _, item := range r.Data {
		records = append(records, population.Record{
			IDNation:   item.NationID,
			Nation:     item.Nation,
			IDYear:     int(item.Year),
			Year:       int(item.Year),
			Population: int64(math.Round(float64(item.TotalPopulation))),
			SlugNation: population.Slug(item.Nation),
			Source:     Source,
			FetchedAt:  now,
		})
	}
	return records
}

// flexInt accepts both 2021 and "2021"
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*f = flexInt(v)
	return nil
}

// flexReal accepts both 123.0 and "123"
type flexReal float64

func (f *flexReal) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*f = flexReal(v)
	return nil
}
