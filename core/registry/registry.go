/*
Package registry provides a persistent registry of objects in a SQL database

The package uses JSON to serialize the data. Every value carries the time
it was written, which lets callers decide whether a cached value is still
fresh enough.
*/
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/popstats/core/csql"
)

// Registry provides a persistent registry of objects in a sql database.
type Registry struct {
	db    *csql.DB
	table string
}

// New creates a new registry for the specified database. The registry table
// is created if it does not exist yet.
func New(db *csql.DB) (*Registry, error) {
	table := db.Table("_registry_")
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + table + `
(key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create registry: %w", err)
	}
	return &Registry{db: db, table: table}, nil
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry *Registry
}

// Accessor returns a registry accessor with prefix
func (r *Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (a Accessor) key(key string) string {
	if len(a.Prefix) > 0 {
		return a.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (a Accessor) Read(ctx context.Context, key string, value interface{}) (time.Time, error) {
	var (
		rawValue  []byte
		timestamp time.Time
	)
	key = a.key(key)

	err := a.Registry.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM `+a.Registry.table+` WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	if err = json.Unmarshal(rawValue, value); err != nil {
		return time.Time{}, fmt.Errorf("cannot decode key '%s': %w", key, err)
	}
	return timestamp, nil
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (a Accessor) Write(ctx context.Context, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = a.key(key)
	res, err := a.Registry.db.ExecContext(ctx,
		`INSERT INTO `+a.Registry.table+`(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cannot write key '%s': %w", key, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (a Accessor) Delete(ctx context.Context, key string) error {
	_, err := a.Registry.db.ExecContext(ctx,
		`DELETE FROM `+a.Registry.table+` WHERE key=$1;`,
		a.key(key))
	return err
}
