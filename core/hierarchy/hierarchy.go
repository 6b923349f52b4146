/*
Package hierarchy turns flat yearly records into a rooted tree grouped by entity

The tree has exactly one root. Below the root there is one entity node per
distinct entity id, in order of first occurrence in the input. Below each
entity there is one year node per record, sorted descending by year. Year
nodes carry the growth against the chronologically preceding year of the
same entity, entity nodes carry the rounded mean of their years.

Build is a pure function and may be called concurrently.
*/
package hierarchy

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is the variant of a tree node
type Kind string

// all node kinds
const (
	KindRoot   Kind = "root"
	KindEntity Kind = "entity"
	KindYear   Kind = "year"
)

const (
	// RootID is the id of the root node
	RootID = "root"
	// RootName is the display name of the root node
	RootName = "Population Data"
)

// Record is one flat input tuple
type Record struct {
	EntityID   string  `json:"entity_id"`
	EntityName string  `json:"entity_name"`
	Year       int     `json:"year"`
	Metric     float64 `json:"metric"`
}

// Node is a node of the tree. Root nodes have no value, entity nodes carry
// the aggregate value and year nodes the metric plus an optional growth.
type Node struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           Kind     `json:"type"`
	Value          *float64 `json:"value,omitempty"`
	FormattedValue string   `json:"formattedValue,omitempty"`
	Growth         *float64 `json:"growth,omitempty"`
	Children       []*Node  `json:"children,omitempty"`
}

// entityGroup collects the records of one entity
type entityGroup struct {
	id      string
	name    string
	records []Record
}

// Build aggregates records into a tree.
//
// Entities appear in the order of their first occurrence in records. An empty
// input yields a root without children. A negative or non-finite metric, or a
// duplicate (entity id, year) pair, is reported as *DataQualityError.
func Build(records []Record) (*Node, error) {
	root := &Node{
		ID:       RootID,
		Name:     RootName,
		Type:     KindRoot,
		Children: []*Node{},
	}

	groups, err := partition(records)
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		root.Children = append(root.Children, entityNode(g))
	}
	return root, nil
}

// partition validates the records and groups them by entity id, keeping the
// order of first occurrence
func partition(records []Record) ([]*entityGroup, error) {
	index := map[string]int{}
	seen := map[string]map[int]bool{}
	groups := []*entityGroup{}

	for _, r := range records {
		if math.IsNaN(r.Metric) || math.IsInf(r.Metric, 0) {
			return nil, &DataQualityError{EntityID: r.EntityID, Year: r.Year, Reason: "metric is not a finite number"}
		}
		if r.Metric < 0 {
			return nil, &DataQualityError{EntityID: r.EntityID, Year: r.Year, Reason: "metric is negative"}
		}

		i, ok := index[r.EntityID]
		if !ok {
			i = len(groups)
			index[r.EntityID] = i
			seen[r.EntityID] = map[int]bool{}
			groups = append(groups, &entityGroup{id: r.EntityID, name: r.EntityName})
		}
		if seen[r.EntityID][r.Year] {
			return nil, &DataQualityError{EntityID: r.EntityID, Year: r.Year, Reason: "duplicate year for entity"}
		}
		seen[r.EntityID][r.Year] = true
		groups[i].records = append(groups[i].records, r)
	}
	return groups, nil
}

func entityNode(g *entityGroup) *Node {
	sort.Slice(g.records, func(i, j int) bool {
		return g.records[i].Year > g.records[j].Year
	})

	var sum float64
	children := make([]*Node, 0, len(g.records))
	for i, r := range g.records {
		sum += r.Metric
		metric := r.Metric
		year := &Node{
			ID:             g.id + "-" + strconv.Itoa(r.Year),
			Name:           strconv.Itoa(r.Year),
			Type:           KindYear,
			Value:          &metric,
			FormattedValue: FormatMillions(r.Metric),
		}
		if i+1 < len(g.records) {
			year.Growth = Growth(r.Metric, g.records[i+1].Metric)
		}
		children = append(children, year)
	}

	aggregate := math.Round(sum / float64(len(g.records)))
	return &Node{
		ID:             g.id,
		Name:           g.name,
		Type:           KindEntity,
		Value:          &aggregate,
		FormattedValue: "Avg: " + FormatMillions(aggregate),
		Children:       children,
	}
}

// Growth returns the percentage change from previous to current. It returns
// nil if previous is zero, since the change is undefined then.
func Growth(current, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	g := (current - previous) / previous * 100
	return &g
}

// FormatMillions formats v in millions with two decimals, e.g. "333.29M"
func FormatMillions(v float64) string {
	return fmt.Sprintf("%.2fM", v/1e6)
}
