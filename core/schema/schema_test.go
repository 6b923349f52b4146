package schema_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/popstats/core/schema"
)

const (
	refYear = `{ "$id" : "http://popstats.test/refs/year.json",
		"type" : "integer", "minimum": 1900, "maximum": 2100 }`

	rangeSchema = `{ "$id" : "http://popstats.test/range.json",
		"type": "object",
		"required": ["startYear"],
		"properties": {
			"startYear": { "$ref" : "http://popstats.test/refs/year.json" },
			"endYear": { "$ref" : "http://popstats.test/refs/year.json" }
		}
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{rangeSchema}, []string{refYear})
	require.NoError(t, err)

	id := "http://popstats.test/range.json"
	assert.True(t, v.HasSchema(id))
	assert.False(t, v.HasSchema("http://popstats.test/other.json"))

	assert.NoError(t, v.ValidateString(`{"startYear": 2010, "endYear": 2022}`, id))

	err = v.ValidateString(`{"startYear": 1800}`, id)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, id, verr.SchemaID)
	assert.NotEmpty(t, verr.Details)

	assert.Error(t, v.ValidateString(`{"endYear": 2000}`, id))
	assert.Error(t, v.ValidateString(`not json`, id))
	assert.Error(t, v.ValidateString(`{}`, "http://popstats.test/unknown.json"))
}

func TestValidateStruct(t *testing.T) {
	v, err := schema.NewValidator([]string{rangeSchema}, []string{refYear})
	require.NoError(t, err)

	type yearRange struct {
		StartYear int `json:"startYear"`
		EndYear   int `json:"endYear,omitempty"`
	}
	assert.NoError(t, v.ValidateStruct(yearRange{StartYear: 2000}, "http://popstats.test/range.json"))
	assert.Error(t, v.ValidateStruct(yearRange{StartYear: 2000, EndYear: 3000}, "http://popstats.test/range.json"))
}

func TestNewValidatorErrors(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type":"string"}`}, nil)
	assert.Error(t, err, "schema without $id")

	_, err = schema.NewValidator([]string{`{`}, nil)
	assert.Error(t, err, "unparsable schema")
}

func TestNewValidatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"range.json":     {Data: []byte(rangeSchema)},
		"README.md":      {Data: []byte("ignored")},
		"refs/year.json": {Data: []byte(refYear)},
	}
	v, err := schema.NewValidatorFromFS(fsys)
	require.NoError(t, err)
	assert.True(t, v.HasSchema("http://popstats.test/range.json"))
	assert.False(t, v.HasSchema("http://popstats.test/refs/year.json"))
}
