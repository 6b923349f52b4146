package population

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Direct is a record decorated for display
type Direct struct {
	Record
	FormattedPopulation  string `json:"formattedPopulation"`
	PopulationInMillions string `json:"populationInMillions"`
}

// FormatPopulation formats p with en-US digit grouping, e.g. "333,287,557"
func FormatPopulation(p int64) string {
	return printer.Sprintf("%d", p)
}

// Millions formats p in millions with two decimals, e.g. "333.29"
func Millions(p int64) string {
	return fmt.Sprintf("%.2f", float64(p)/1e6)
}

// Decorate adds the display fields to every record
func Decorate(records []Record) []Direct {
	result := make([]Direct, 0, len(records))
	for _, r := range records {
		result = append(result, Direct{
			Record:               r,
			FormattedPopulation:  FormatPopulation(r.Population),
			PopulationInMillions: Millions(r.Population),
		})
	}
	return result
}
