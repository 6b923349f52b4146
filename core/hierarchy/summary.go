package hierarchy

// Summary holds dataset wide statistics. All fields are zero for an empty
// dataset.
type Summary struct {
	TotalRecords int     `json:"total_records"`
	MinMetric    float64 `json:"min_metric"`
	MaxMetric    float64 `json:"max_metric"`
	AvgMetric    float64 `json:"avg_metric"`
	MinYear      int     `json:"min_year"`
	MaxYear      int     `json:"max_year"`
}

// Summarize computes the summary of records in a single pass
func Summarize(records []Record) Summary {
	var s Summary
	if len(records) == 0 {
		return s
	}

	var sum float64
	for i, r := range records {
		sum += r.Metric
		if i == 0 {
			s.MinMetric, s.MaxMetric = r.Metric, r.Metric
			s.MinYear, s.MaxYear = r.Year, r.Year
			continue
		}
		if r.Metric < s.MinMetric {
			s.MinMetric = r.Metric
		}
		if r.Metric > s.MaxMetric {
			s.MaxMetric = r.Metric
		}
		if r.Year < s.MinYear {
			s.MinYear = r.Year
		}
		if r.Year > s.MaxYear {
			s.MaxYear = r.Year
		}
	}
	s.TotalRecords = len(records)
	s.AvgMetric = sum / float64(len(records))
	return s
}
