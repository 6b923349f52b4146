package hierarchy

import "fmt"

// DataQualityError is returned when a record cannot be aggregated. It names
// the offending record.
type DataQualityError struct {
	EntityID string
	Year     int
	Reason   string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality error for entity '%s' year %d: %s", e.EntityID, e.Year, e.Reason)
}
